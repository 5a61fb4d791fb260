package relay

import (
	"log/slog"
	"strings"

	"github.com/callrelay/callrelay/pkg/gateway/command"
	"github.com/callrelay/callrelay/pkg/gateway/events"
	"github.com/callrelay/callrelay/pkg/gateway/metrics"
	"github.com/callrelay/callrelay/pkg/gateway/model"
	"github.com/callrelay/callrelay/pkg/gateway/registry"
)

// FrameWriter delivers one JSON frame to the telephony socket.
type FrameWriter interface {
	WriteFrame(v any) error
}

// CommandRunner executes a detected directive off the relay path.
type CommandRunner interface {
	Submit(cmd command.Command, callSid string)
}

// Interceptor sits between the model session and the telephony socket.
// Every generated chunk passes through it; it strips directives, gates
// turns behind supervisor holds, and forwards the rest untouched.
//
// It runs on a single goroutine (the outbound relay loop), so its own
// fields need no locking; the session's hold flags are shared with
// override handlers and the session guards those itself.
type Interceptor struct {
	callSid string
	session *model.Session
	out     FrameWriter
	runner  CommandRunner
	bus     *events.Bus
	call    *registry.Call
	metrics *metrics.Metrics
	logger  *slog.Logger

	holdMessage string

	state State
	turn  strings.Builder // text forwarded so far in the current turn
}

type InterceptorOptions struct {
	CallSid     string
	Session     *model.Session
	Out         FrameWriter
	Runner      CommandRunner
	Bus         *events.Bus
	Call        *registry.Call
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	HoldMessage string
}

func NewInterceptor(opts InterceptorOptions) *Interceptor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		callSid:     opts.CallSid,
		session:     opts.Session,
		out:         opts.Out,
		runner:      opts.Runner,
		bus:         opts.Bus,
		call:        opts.Call,
		metrics:     opts.Metrics,
		logger:      logger,
		holdMessage: opts.HoldMessage,
		state:       StateNormal,
	}
}

// State exposes the current outbound state for tests and diagnostics.
func (ic *Interceptor) State() State {
	return ic.state
}

// HandleModelMessage processes one provider frame. A returned error
// means the telephony socket write failed and the call should end.
func (ic *Interceptor) HandleModelMessage(msg model.ServerMessage) error {
	switch ic.state {
	case StateSuppressed:
		ic.drop()
		if msg.Last {
			// The terminal chunk of a suppressed stream is swallowed
			// too; the caller never hears a dangling "last" marker.
			ic.state = StateNormal
			ic.turn.Reset()
		}
		return nil

	case StateAwaitingClarification:
		if ic.session.AwaitingUserInput() {
			ic.drop()
			return nil
		}
		// Override resolved the hold; resume with this frame.
		ic.state = StateNormal
	}

	switch msg.Type {
	case "audio":
		return ic.forwardAudio(msg)
	case "text":
		return ic.handleText(msg)
	default:
		ic.logger.Debug("ignoring provider frame", "call_sid", ic.callSid, "type", msg.Type)
		return nil
	}
}

func (ic *Interceptor) handleText(msg model.ServerMessage) error {
	// A fresh turn may be gated behind supervisor approval before the
	// caller hears any of it.
	if ic.turn.Len() == 0 && ic.session.BeginFeedbackHold(msg.Text) {
		ic.logger.Info("holding response for supervisor feedback", "call_sid", ic.callSid)
		if ic.bus != nil {
			ic.bus.Publish(ic.callSid, events.Event{
				Type: events.KindPendingResponse,
				Text: msg.Text,
			})
		}
		return ic.beginHold()
	}

	if cmd, ok := command.Detect(msg.Text); ok {
		return ic.handleCommand(cmd, msg)
	}

	return ic.forwardText(msg)
}

func (ic *Interceptor) handleCommand(cmd command.Command, msg model.ServerMessage) error {
	ic.logger.Info("directive detected",
		"call_sid", ic.callSid,
		"action", string(cmd.Action),
		"value", cmd.ValueOr(""),
	)
	if ic.metrics != nil {
		ic.metrics.CommandsDetected.WithLabelValues(string(cmd.Action)).Inc()
	}
	if ic.call != nil {
		ic.call.AddCommand()
	}

	if cmd.Action == command.ActionRequestUser {
		prompt := cmd.ValueOr("")
		ic.session.BeginQueryHold(prompt)
		if ic.bus != nil {
			ic.bus.Publish(ic.callSid, events.Event{
				Type:   events.KindQuery,
				Prompt: prompt,
			})
		}
		return ic.beginHold()
	}

	if ic.bus != nil {
		ic.bus.Publish(ic.callSid, events.Event{
			Type:    events.KindCommandExecuted,
			Command: string(cmd.Action),
			Value:   cmd.ValueOr(""),
		})
	}
	ic.runner.Submit(cmd, ic.callSid)

	// The chunk carrying the directive is never spoken. Anything else
	// the model drafted around it goes with it.
	ic.drop()
	if msg.Last {
		ic.turn.Reset()
	} else {
		ic.state = StateSuppressed
	}
	return nil
}

func (ic *Interceptor) forwardText(msg model.ServerMessage) error {
	interruptible := true
	if msg.Interruptible != nil {
		interruptible = *msg.Interruptible
	}
	if err := ic.out.WriteFrame(TextFrame{
		Type:          "text",
		Token:         msg.Text,
		Last:          msg.Last,
		Interruptible: interruptible,
	}); err != nil {
		return err
	}

	ic.turn.WriteString(msg.Text)
	if ic.call != nil {
		ic.call.AddAssistantChars(len(msg.Text))
	}
	if ic.bus != nil && msg.Text != "" {
		ic.bus.Publish(ic.callSid, events.Event{
			Type:    events.KindAssistantResponse,
			Speaker: "assistant",
			Text:    msg.Text,
		})
	}
	if msg.Last {
		ic.turn.Reset()
		// An exempted turn has now fully played; re-arm the gate.
		ic.session.ClearFeedbackSkip()
	}
	return nil
}

func (ic *Interceptor) forwardAudio(msg model.ServerMessage) error {
	return ic.out.WriteFrame(AudioFrame{
		Type: "audio",
		Media: Media{
			Payload: msg.Audio,
			Format:  msg.Format,
		},
		Last: msg.Last,
	})
}

// beginHold cancels the in-flight generation, plays the fixed hold
// message, and withholds output until an override resolves the hold.
func (ic *Interceptor) beginHold() error {
	if err := ic.session.CancelResponse(); err != nil {
		ic.logger.Warn("cancel response failed", "call_sid", ic.callSid, "error", err)
	}
	ic.state = StateAwaitingClarification
	ic.turn.Reset()
	return ic.out.WriteFrame(HoldFrame(ic.holdMessage))
}

func (ic *Interceptor) drop() {
	if ic.metrics != nil {
		ic.metrics.SuppressedChunks.Inc()
	}
}
