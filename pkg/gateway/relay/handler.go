package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/callrelay/callrelay/pkg/gateway/config"
	"github.com/callrelay/callrelay/pkg/gateway/events"
	"github.com/callrelay/callrelay/pkg/gateway/metrics"
	"github.com/callrelay/callrelay/pkg/gateway/model"
	"github.com/callrelay/callrelay/pkg/gateway/registry"
	"github.com/callrelay/callrelay/pkg/gateway/tenant"
)

// Handler serves the telephony media/control WebSocket. One connection
// is one call: the handler dials the realtime model, registers the call,
// and runs the inbound and outbound relay loops until either side hangs
// up.
type Handler struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *registry.Registry
	Bus      *events.Bus
	Runner   CommandRunner
	Metrics  *metrics.Metrics
	Tenants  *tenant.Manager

	// Dial overrides the model transport; nil uses the default.
	Dial model.Dialer
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var tenantID uuid.UUID
	hasTenant := false
	if raw := strings.TrimSpace(r.URL.Query().Get("tenant")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid tenant id", http.StatusBadRequest)
			return
		}
		tenantID = id
		hasTenant = true
	}
	if hasTenant && h.Tenants != nil && !h.Tenants.HasCapacity(tenantID) {
		http.Error(w, "tenant session limit reached", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Nothing proceeds until a frame carries the call identity. Some
	// providers send connected/keepalive frames first, so leading
	// frames without a callSid are skipped; the deadline bounds the
	// whole wait.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var setup InboundFrame
	for setup.CallSid == "" {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("relay socket closed before setup", "error", err)
			return
		}
		frame, err := DecodeInbound(data)
		if err != nil {
			logger.Warn("dropping malformed frame before setup", "error", err)
			continue
		}
		if frame.Disconnect() {
			logger.Info("telephony disconnect before setup")
			return
		}
		setup = frame
	}
	_ = conn.SetReadDeadline(time.Time{})
	callSid := setup.CallSid
	logger = logger.With("call_sid", callSid)

	dialCtx, cancel := context.WithTimeout(r.Context(), h.Config.RealtimeDialTimeout)
	session, err := model.Dial(dialCtx, model.Config{
		URL:             h.Config.RealtimeURL,
		APIKey:          h.Config.RealtimeAPIKey,
		Model:           h.Config.Model,
		Voice:           h.Config.Voice,
		Instructions:    h.Config.Instructions,
		RequireFeedback: h.Config.RequireFeedback,
		Dial:            h.Dial,
	}, logger)
	cancel()
	if err != nil {
		logger.Error("realtime session dial failed", "error", err)
		return
	}
	defer session.Close()

	direction := registry.DirectionInbound
	if strings.Contains(strings.ToLower(setup.Direction), "outbound") {
		direction = registry.DirectionOutbound
	}
	call := registry.NewCall(callSid, direction, setup.From, setup.To, h.Config.Instructions, h.Config.Voice)
	call.MarkActive()
	h.Registry.Insert(callSid, &registry.Entry{Call: call, Session: session})
	h.Bus.StartSession(callSid)
	if h.Metrics != nil {
		h.Metrics.ActiveCalls.Inc()
	}
	if hasTenant && h.Tenants != nil {
		h.Tenants.Register(tenantID, callSid, session)
		h.Tenants.Broadcast(tenantID, tenant.Notice{Type: "call_started", CallSid: callSid})
	}
	logger.Info("call connected", "from", setup.From, "to", setup.To, "direction", string(direction))

	defer func() {
		call.MarkEnded(registry.StatusCompleted)
		h.Registry.Remove(callSid)
		h.Bus.EndSession(callSid)
		if h.Metrics != nil {
			h.Metrics.ActiveCalls.Dec()
		}
		if hasTenant && h.Tenants != nil {
			h.Tenants.Unregister(tenantID, callSid)
			h.Tenants.Broadcast(tenantID, tenant.Notice{Type: "call_ended", CallSid: callSid})
		}
		logger.Info("call ended", "status", string(call.Snapshot().Status))
	}()

	out := &wsWriter{conn: conn, timeout: h.Config.RelayWriteTimeout}
	ic := NewInterceptor(InterceptorOptions{
		CallSid:     callSid,
		Session:     session,
		Out:         out,
		Runner:      h.Runner,
		Bus:         h.Bus,
		Call:        call,
		Metrics:     h.Metrics,
		Logger:      logger,
		HoldMessage: h.Config.HoldMessage,
	})

	// Nanosecond timestamp of the last caller speech forward; zeroed
	// once the first responding chunk is observed.
	var speechAt atomic.Int64

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.outboundLoop(session, ic, call, &speechAt, logger)
		// Model side finished; unblock the inbound read loop.
		_ = conn.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pingLoop(out, done)
	}()

	h.inboundLoop(callSid, conn, session, call, &speechAt, logger)

	close(done)
	_ = session.Close()
	wg.Wait()
}

// inboundLoop reads telephony frames and forwards caller speech to the
// model. It returns when the socket closes or the provider disconnects.
func (h Handler) inboundLoop(callSid string, conn *websocket.Conn, session *model.Session, call *registry.Call, speechAt *atomic.Int64, logger *slog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		start := time.Now()

		frame, err := DecodeInbound(data)
		if err != nil {
			logger.Warn("dropping malformed telephony frame", "error", err)
			if h.Metrics != nil {
				h.Metrics.FramesDropped.Inc()
			}
			continue
		}
		if frame.Disconnect() {
			logger.Info("telephony disconnect received")
			return
		}
		if frame.BargeIn() {
			if err := session.CancelResponse(); err != nil {
				logger.Warn("barge-in cancel failed", "error", err)
			}
		}

		speech, ok := frame.Speech()
		if !ok {
			continue
		}
		call.AddTranscript()
		h.Bus.Publish(callSid, events.Event{
			Type:    events.KindTranscript,
			Speaker: "caller",
			Text:    speech,
		})

		// While a supervisor hold is pending, caller speech is recorded
		// but not auto-forwarded; the override resolution decides what
		// the model sees next.
		if session.AwaitingUserInput() {
			logger.Info("withholding caller speech during hold")
			continue
		}

		if err := session.SendUserText(speech); err != nil {
			logger.Error("forwarding caller speech failed", "error", err)
			return
		}
		speechAt.Store(time.Now().UnixNano())
		if h.Metrics != nil {
			h.Metrics.SpeechForward.Observe(time.Since(start).Seconds())
		}
	}
}

// outboundLoop drains the model session through the interceptor until
// the provider stream ends.
func (h Handler) outboundLoop(session *model.Session, ic *Interceptor, call *registry.Call, speechAt *atomic.Int64, logger *slog.Logger) {
	for msg := range session.Messages() {
		if msg.Terminal() {
			if msg.Type == "error" {
				logger.Error("realtime session error", "error", msg.Error)
				call.MarkEnded(registry.StatusFailed)
			}
			return
		}

		if h.Metrics != nil && (msg.Type == "text" || msg.Type == "audio") {
			if at := speechAt.Swap(0); at != 0 {
				h.Metrics.FirstChunk.Observe(time.Since(time.Unix(0, at)).Seconds())
			}
		}

		if err := ic.HandleModelMessage(msg); err != nil {
			logger.Warn("writing to telephony socket failed", "error", err)
			return
		}
	}
}

func (h Handler) pingLoop(out *wsWriter, done <-chan struct{}) {
	interval := h.Config.RelayPingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := out.Ping(); err != nil {
				return
			}
		}
	}
}

// wsWriter serializes writes to the telephony socket across the
// outbound loop and the ping loop.
type wsWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (w *wsWriter) WriteFrame(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(5 * time.Second)
	if w.timeout > 0 {
		deadline = time.Now().Add(w.timeout)
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, deadline)
}
