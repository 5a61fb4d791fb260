// Package registry tracks live calls. It is the only state shared
// between the relay goroutines and the override surface; the map never
// escapes, lookups go by call id.
package registry

import (
	"sync"

	"github.com/callrelay/callrelay/pkg/gateway/model"
)

type Entry struct {
	Call    *Call
	Session *model.Session
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Insert registers a live call, replacing any stale entry with the same
// sid.
func (r *Registry) Insert(callSid string, e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[callSid] = e
}

func (r *Registry) Lookup(callSid string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[callSid]
	return e, ok
}

func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, callSid)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sids returns a snapshot of live call ids.
func (r *Registry) Sids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for sid := range r.entries {
		out = append(out, sid)
	}
	return out
}
