// Package events carries the per-call monitoring stream. Each live call
// owns one FIFO queue; supervisors subscribe to it over /events/ws.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSessionStart      Kind = "session_start"
	KindSessionEnd        Kind = "session_end"
	KindTranscript        Kind = "transcript"
	KindAssistantResponse Kind = "assistant_response"
	KindCommandExecuted   Kind = "command_executed"
	KindCommandFailed     Kind = "command_failed"
	KindQuery             Kind = "query"
	KindPendingResponse   Kind = "pending_response"
	KindQueryResponse     Kind = "query_response"
	KindAssistantOverride Kind = "assistant_override"
	KindSessionTransfer   Kind = "session_transfer"
)

// Event is append-only: once published it is never mutated.
type Event struct {
	ID        string    `json:"id"`
	Type      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	CallSid   string    `json:"callSid"`

	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	Command string `json:"command,omitempty"`
	Value   string `json:"value,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newEvent(kind Kind, callSid string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: time.Now().UTC(),
		CallSid:   callSid,
	}
}
