package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError wraps a malformed telephony frame. The frame is dropped
// and processing continues; the error exists for logging and tests.
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// InboundFrame is one JSON frame from the telephony media/control
// stream.
type InboundFrame struct {
	Type          string `json:"type,omitempty"`
	Event         string `json:"event,omitempty"`
	CallSid       string `json:"callSid,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	Direction     string `json:"direction,omitempty"`
	Text          string `json:"text,omitempty"`
	VoicePrompt   string `json:"voicePrompt,omitempty"`
	Interruptible *bool  `json:"interruptible,omitempty"`
	Preemptible   bool   `json:"preemptible,omitempty"`
	Last          bool   `json:"last,omitempty"`
}

func DecodeInbound(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, &DecodeError{Message: fmt.Sprintf("malformed telephony frame: %v", err)}
	}
	return f, nil
}

// Speech extracts recognized caller speech from the frame, if any.
func (f InboundFrame) Speech() (string, bool) {
	switch f.Type {
	case "prompt":
		if s := strings.TrimSpace(f.VoicePrompt); s != "" {
			return s, true
		}
	case "transcription":
		if s := strings.TrimSpace(f.Text); s != "" {
			return s, true
		}
	}
	return "", false
}

// BargeIn reports whether the frame pre-empts in-flight generation.
func (f InboundFrame) BargeIn() bool {
	if f.Preemptible {
		return true
	}
	return f.Interruptible != nil && !*f.Interruptible
}

// Disconnect reports whether the telephony side is ending the call.
func (f InboundFrame) Disconnect() bool {
	return f.Event == "disconnect" || f.Type == "disconnect"
}

// TextFrame is the outbound token frame spoken to the caller.
type TextFrame struct {
	Type          string `json:"type"`
	Token         string `json:"token"`
	Last          bool   `json:"last"`
	Interruptible bool   `json:"interruptible"`
}

// AudioFrame carries model audio to the caller.
type AudioFrame struct {
	Type  string `json:"type"`
	Media Media  `json:"media"`
	Last  bool   `json:"last"`
}

type Media struct {
	Payload string `json:"payload"`
	Format  string `json:"format,omitempty"`
}

// HoldFrame is the single fixed message played while a supervisor hold
// is pending. It must not be interruptible: the caller cannot barge in
// past it.
func HoldFrame(token string) TextFrame {
	return TextFrame{Type: "text", Token: token, Last: true, Interruptible: false}
}
