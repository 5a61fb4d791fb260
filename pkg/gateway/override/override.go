// Package override is the supervisor's control surface over a live
// call: speak as the assistant, send DTMF, transfer, hang up, and
// resolve pending holds.
package override

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/callrelay/callrelay/pkg/gateway/command"
	"github.com/callrelay/callrelay/pkg/gateway/events"
	"github.com/callrelay/callrelay/pkg/gateway/metrics"
	"github.com/callrelay/callrelay/pkg/gateway/registry"
)

var (
	digitRe = regexp.MustCompile(`^[0-9*#]$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// Handler serves the /override/* routes. Every route is POST, addresses
// one live call by its callSid, and answers {"status":"ok"} on success.
type Handler struct {
	Registry *registry.Registry
	Bus      *events.Bus
	Executor *command.Executor
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Register mounts the override routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /override/text", h.handleText)
	mux.HandleFunc("POST /override/dtmf", h.handleDTMF)
	mux.HandleFunc("POST /override/end", h.handleEnd)
	mux.HandleFunc("POST /override/transfer", h.handleTransfer)
	mux.HandleFunc("POST /override/clarification", h.handleClarification)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// lookup decodes the request body into req (which must embed the
// callSid) and resolves the live session. No side effect happens for an
// unknown call or a malformed body.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, req interface{ callSid() string }) (*registry.Entry, bool) {
	if err := decodeBody(r, req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return nil, false
	}
	entry, ok := h.Registry.Lookup(req.callSid())
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return nil, false
	}
	return entry, true
}

func (h *Handler) record(entry *registry.Entry, kind string) {
	entry.Call.AddOverride()
	if h.Metrics != nil {
		h.Metrics.Overrides.WithLabelValues(kind).Inc()
	}
}

type callRef struct {
	CallSid string `json:"callSid"`
}

func (c callRef) callSid() string { return c.CallSid }

type textRequest struct {
	callRef
	Text string `json:"text"`
}

// handleText speaks supervisor-authored text to the caller as if the
// assistant said it.
func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	entry, ok := h.lookup(w, r, &req)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := entry.Session.InjectAssistantText(req.Text); err != nil {
		h.logger().Error("override text failed", "call_sid", req.CallSid, "error", err)
		writeError(w, http.StatusBadGateway, "failed to deliver text")
		return
	}

	h.record(entry, "text")
	h.Bus.Publish(req.CallSid, events.Event{
		Type:    events.KindAssistantOverride,
		Speaker: "supervisor",
		Text:    req.Text,
	})
	writeOK(w)
}

type dtmfRequest struct {
	callRef
	Digit string `json:"digit"`
}

func (h *Handler) handleDTMF(w http.ResponseWriter, r *http.Request) {
	var req dtmfRequest
	entry, ok := h.lookup(w, r, &req)
	if !ok {
		return
	}
	if !digitRe.MatchString(req.Digit) {
		writeError(w, http.StatusBadRequest, "digit must be one of 0-9, * or #")
		return
	}

	digit := req.Digit
	cmd := command.Command{Action: command.ActionPress, Value: &digit}
	if err := h.Executor.Execute(r.Context(), cmd, req.CallSid); err != nil {
		writeError(w, http.StatusBadGateway, "failed to send digit")
		return
	}

	h.record(entry, "dtmf")
	writeOK(w)
}

type endRequest struct {
	callRef
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	entry, ok := h.lookup(w, r, &req)
	if !ok {
		return
	}

	cmd := command.Command{Action: command.ActionEndCall}
	if err := h.Executor.Execute(r.Context(), cmd, req.CallSid); err != nil {
		writeError(w, http.StatusBadGateway, "failed to end call")
		return
	}

	h.record(entry, "end")
	// The relay loops notice the provider hangup on their own, but the
	// event stream ends now so the supervisor sees it immediately.
	h.Bus.EndSession(req.CallSid)
	writeOK(w)
}

type transferRequest struct {
	callRef
	Target string `json:"target"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	entry, ok := h.lookup(w, r, &req)
	if !ok {
		return
	}
	if !phoneRe.MatchString(req.Target) {
		writeError(w, http.StatusBadRequest, "target must be a phone number")
		return
	}

	target := req.Target
	cmd := command.Command{Action: command.ActionTransfer, Value: &target}
	if err := h.Executor.Execute(r.Context(), cmd, req.CallSid); err != nil {
		writeError(w, http.StatusBadGateway, "failed to transfer call")
		return
	}

	h.record(entry, "transfer")
	h.Bus.Publish(req.CallSid, events.Event{
		Type:   events.KindSessionTransfer,
		Target: target,
	})
	writeOK(w)
}

type clarificationRequest struct {
	callRef
	Response string `json:"response"`
}

// handleClarification answers a pending hold. It resolves both kinds:
// a model query gets the supervisor's answer injected, and a feedback
// hold is released so the turn can regenerate and play.
func (h *Handler) handleClarification(w http.ResponseWriter, r *http.Request) {
	var req clarificationRequest
	entry, ok := h.lookup(w, r, &req)
	if !ok {
		return
	}
	if !entry.Session.AwaitingUserInput() {
		writeError(w, http.StatusBadRequest, "no pending hold for this call")
		return
	}
	if strings.TrimSpace(req.Response) == "" {
		writeError(w, http.StatusBadRequest, "response is required")
		return
	}

	if err := entry.Session.InjectSupervisorText(req.Response); err != nil {
		h.logger().Error("clarification delivery failed", "call_sid", req.CallSid, "error", err)
		writeError(w, http.StatusBadGateway, "failed to deliver response")
		return
	}
	entry.Session.ResolveHold()

	h.record(entry, "clarification")
	h.Bus.Publish(req.CallSid, events.Event{
		Type:    events.KindQueryResponse,
		Speaker: "supervisor",
		Text:    req.Response,
	})
	writeOK(w)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
