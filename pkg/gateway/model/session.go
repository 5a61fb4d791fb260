// Package model owns the single upstream connection of a call to the
// realtime voice model: session negotiation, turn input, cancellation,
// and decoding of the provider's message stream.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSupervisor Role = "supervisor"
)

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Conn is the transport slice of *websocket.Conn the session needs;
// tests inject fakes.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

func gorillaDialer(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	Instructions string

	// RequireFeedback gates every generated turn behind supervisor
	// approval.
	RequireFeedback bool

	// Dial overrides the transport; nil uses gorilla/websocket.
	Dial Dialer
}

// Session is owned by the relay goroutines of one call and referenced
// by identifier from the registry for override lookups. The hold-flow
// flags are shared between the relay task and override handlers and
// are guarded by one mutex.
type Session struct {
	cfg    Config
	conn   Conn
	logger *slog.Logger

	msgs      chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex // guards everything below
	wmu      sync.Mutex // serializes conn writes
	history  []Turn
	awaiting bool // caller input must not be auto-forwarded
	prompt   string

	awaitingFeedback bool
	pendingResponse  string
	skipNextFeedback bool
}

// Dial opens the upstream connection and performs the session.update
// handshake.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = gorillaDialer
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	conn, err := dial(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime provider: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		msgs:   make(chan ServerMessage, 16),
		done:   make(chan struct{}),
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Model:             cfg.Model,
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			TurnDetection:     turnDetection{Type: "server_vad"},
		},
	}
	if err := s.writeJSON(update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session handshake: %w", err)
	}

	go s.readLoop()
	return s, nil
}

func (s *Session) writeJSON(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Session) readLoop() {
	defer close(s.msgs)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed provider frame: drop it, keep reading.
			s.logger.Warn("dropping malformed provider frame", "error", err)
			continue
		}
		// Close must be able to stop the loop even when nobody is
		// draining msgs; an unconditional send would pin the goroutine.
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.msgs <- msg:
		case <-s.done:
			return
		}
		if msg.Terminal() {
			return
		}
	}
}

// Messages yields decoded provider frames in receipt order. The channel
// closes after a terminal message or transport error.
func (s *Session) Messages() <-chan ServerMessage {
	return s.msgs
}

// SendUserText forwards a caller utterance as a user turn.
func (s *Session) SendUserText(text string) error {
	if err := s.writeJSON(itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{Role: "user", Text: text},
	}); err != nil {
		return err
	}
	s.appendTurn(RoleUser, text)
	return nil
}

// InjectAssistantText pushes a supervisor-authored message to be spoken
// to the caller as if the assistant produced it.
func (s *Session) InjectAssistantText(text string) error {
	if err := s.writeJSON(itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{Role: "assistant", Text: text},
	}); err != nil {
		return err
	}
	s.appendTurn(RoleAssistant, text)
	return nil
}

// InjectSupervisorText answers a pending query: the text reaches the
// model only, marked as coming from the supervisor.
func (s *Session) InjectSupervisorText(text string) error {
	if err := s.writeJSON(itemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{Role: "user", Text: "supervisor: " + text},
	}); err != nil {
		return err
	}
	s.appendTurn(RoleSupervisor, text)
	return nil
}

// CancelResponse interrupts the in-flight generation. It is advisory:
// the provider session keeps running and the transport stays open.
func (s *Session) CancelResponse() error {
	return s.writeJSON(responseCancel{Type: "response.cancel"})
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}

func (s *Session) appendTurn(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Text: text})
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AwaitingUserInput reports whether caller speech is being withheld
// pending a supervisor response.
func (s *Session) AwaitingUserInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// QueryPrompt returns the question posed to the supervisor, if any.
func (s *Session) QueryPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// BeginQueryHold records a pending clarification request.
func (s *Session) BeginQueryHold(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting = true
	s.prompt = prompt
}

// BeginFeedbackHold gates the drafted turn behind supervisor approval.
// It reports false when a hold is already active or the next turn was
// explicitly exempted (the turn should then pass through).
func (s *Session) BeginFeedbackHold(draft string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.RequireFeedback || s.awaitingFeedback || s.skipNextFeedback {
		return false
	}
	s.awaitingFeedback = true
	s.awaiting = true
	s.pendingResponse = draft
	return true
}

// PendingResponse returns the gated draft, if any.
func (s *Session) PendingResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingResponse
}

// ResolveHold clears the clarification/feedback hold. The turn produced
// in response to the supervisor's input skips the next feedback gate so
// the session cannot deadlock on its own resumption.
func (s *Session) ResolveHold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting = false
	s.prompt = ""
	if s.awaitingFeedback {
		s.awaitingFeedback = false
		s.pendingResponse = ""
		s.skipNextFeedback = true
	}
}

// ClearFeedbackSkip re-arms the feedback gate once an exempted turn has
// been fully forwarded.
func (s *Session) ClearFeedbackSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipNextFeedback = false
}
