package tenant

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Notice is the frame broadcast to a tenant's observers when one of its
// calls changes state.
type Notice struct {
	Type    string `json:"type"`
	CallSid string `json:"callSid,omitempty"`
}

// Handler serves the tenant dashboard WebSocket. An observer connects,
// receives call lifecycle notices for its tenant, and is detached when
// the socket closes.
type Handler struct {
	Manager *Manager
	Logger  *slog.Logger
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tenantID, err := uuid.Parse(r.PathValue("tenantID"))
	if err != nil {
		http.Error(w, "invalid tenant id", http.StatusBadRequest)
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

	obs := &wsObserver{conn: conn}
	h.Manager.AddObserver(tenantID, obs)
	defer h.Manager.RemoveObserver(tenantID, obs)
	logger.Info("tenant observer connected", "tenant_id", tenantID)

	// Observers only listen; the read loop just detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logger.Info("tenant observer disconnected", "tenant_id", tenantID)
			return
		}
	}
}

// wsObserver serializes broadcast writes against the read loop's control
// frames.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) WriteJSON(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteJSON(v)
}
