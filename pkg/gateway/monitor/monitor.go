// Package monitor streams a call's event feed to supervisor dashboards
// over WebSocket.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callrelay/callrelay/pkg/gateway/events"
)

// Handler serves /events/ws?callSid=<sid>. The connection replays what
// is still queued for the call, then follows the live feed until the
// session ends or the client disconnects.
type Handler struct {
	Bus          *events.Bus
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callSid := strings.TrimSpace(r.URL.Query().Get("callSid"))
	if callSid == "" {
		http.Error(w, "callSid is required", http.StatusBadRequest)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The dashboard never sends data frames; the read loop exists to
	// notice the client going away and to answer pings.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	stream := h.Bus.Subscribe(callSid)
	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			// Session ended (sentinel) or the client went away.
			return
		}
		if h.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		}
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug("monitor write failed", "call_sid", callSid, "error", err)
			return
		}
	}
}
