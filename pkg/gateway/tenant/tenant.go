// Package tenant tracks live sessions and dashboard observers per
// tenant for multi-tenant deployments.
package tenant

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/callrelay/callrelay/pkg/gateway/model"
)

// ObserverConn is a dashboard connection that receives tenant-wide
// notifications. Writes that fail remove the observer.
type ObserverConn interface {
	WriteJSON(v any) error
}

// Manager maps tenants to their live call sessions and observers. A
// tenant with no sessions and no observers holds no state.
type Manager struct {
	logger *slog.Logger

	// Max concurrent sessions per tenant; <= 0 disables the cap.
	maxConcurrent int

	mu        sync.Mutex
	sessions  map[uuid.UUID]map[string]*model.Session
	observers map[uuid.UUID][]ObserverConn
}

func NewManager(maxConcurrent int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:        logger,
		maxConcurrent: maxConcurrent,
		sessions:      make(map[uuid.UUID]map[string]*model.Session),
		observers:     make(map[uuid.UUID][]ObserverConn),
	}
}

// HasCapacity reports whether the tenant may start another session.
func (m *Manager) HasCapacity(tenantID uuid.UUID) bool {
	if m.maxConcurrent <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[tenantID]) < m.maxConcurrent
}

// Register binds a call's session to the tenant.
func (m *Manager) Register(tenantID uuid.UUID, callSid string, s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.sessions[tenantID]
	if calls == nil {
		calls = make(map[string]*model.Session)
		m.sessions[tenantID] = calls
	}
	calls[callSid] = s
}

// Unregister drops the call from the tenant. Unknown calls are a no-op.
func (m *Manager) Unregister(tenantID uuid.UUID, callSid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.sessions[tenantID]
	if calls == nil {
		return
	}
	delete(calls, callSid)
	if len(calls) == 0 {
		delete(m.sessions, tenantID)
	}
}

// Session returns the tenant's session for the call, if registered.
func (m *Manager) Session(tenantID uuid.UUID, callSid string) (*model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenantID][callSid]
	return s, ok
}

// CallSids lists the tenant's live calls.
func (m *Manager) CallSids(tenantID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions[tenantID]))
	for sid := range m.sessions[tenantID] {
		out = append(out, sid)
	}
	return out
}

// AddObserver attaches a dashboard connection to the tenant.
func (m *Manager) AddObserver(tenantID uuid.UUID, conn ObserverConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers[tenantID] = append(m.observers[tenantID], conn)
}

// RemoveObserver detaches the connection; unknown connections no-op.
func (m *Manager) RemoveObserver(tenantID uuid.UUID, conn ObserverConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeObserverLocked(tenantID, conn)
}

func (m *Manager) removeObserverLocked(tenantID uuid.UUID, conn ObserverConn) {
	obs := m.observers[tenantID]
	for i, o := range obs {
		if o == conn {
			m.observers[tenantID] = append(obs[:i:i], obs[i+1:]...)
			break
		}
	}
	if len(m.observers[tenantID]) == 0 {
		delete(m.observers, tenantID)
	}
}

// Broadcast sends v to every observer of the tenant. Observers whose
// write fails are removed.
func (m *Manager) Broadcast(tenantID uuid.UUID, v any) {
	m.mu.Lock()
	obs := append([]ObserverConn(nil), m.observers[tenantID]...)
	m.mu.Unlock()

	var dead []ObserverConn
	for _, o := range obs {
		if err := o.WriteJSON(v); err != nil {
			dead = append(dead, o)
		}
	}
	if len(dead) == 0 {
		return
	}

	m.mu.Lock()
	for _, o := range dead {
		m.removeObserverLocked(tenantID, o)
	}
	m.mu.Unlock()
	m.logger.Debug("removed dead tenant observers", "tenant_id", tenantID, "count", len(dead))
}

// CleanupTenant closes and drops everything the tenant holds. Used when
// a tenant is deprovisioned.
func (m *Manager) CleanupTenant(tenantID uuid.UUID) {
	m.mu.Lock()
	calls := m.sessions[tenantID]
	delete(m.sessions, tenantID)
	delete(m.observers, tenantID)
	m.mu.Unlock()

	for sid, s := range calls {
		if err := s.Close(); err != nil {
			m.logger.Warn("closing tenant session", "tenant_id", tenantID, "call_sid", sid, "error", err)
		}
	}
}

// Stats summarizes live state across tenants.
type Stats struct {
	Tenants   int `json:"tenants"`
	Sessions  int `json:"sessions"`
	Observers int `json:"observers"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Tenants: len(m.sessions)}
	for _, calls := range m.sessions {
		st.Sessions += len(calls)
	}
	for _, obs := range m.observers {
		st.Observers += len(obs)
	}
	return st
}
