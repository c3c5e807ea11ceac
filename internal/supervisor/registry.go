// Package supervisor owns the mapping from bot records to live gateway
// sessions: it starts sessions, reacts to their lifecycle events, and keeps
// durable status in step with what is actually connected.
package supervisor

import (
	"sync"

	"github.com/roosthq/roost/internal/gateway"
)

// Handle is a process-local reference to one live gateway session. It is
// never persisted and dies with the connection; at most one Handle exists
// per bot id in a process.
type Handle struct {
	BotID     string
	SessionID string
	conn      gateway.Conn
}

// Close closes the underlying connection.
func (h *Handle) Close() error {
	if h == nil || h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

// Registry is the in-process source of truth for which bots currently hold a
// live session. It is rebuilt empty on restart; durable status is the record
// of last-known state across restarts.
//
// The mutex guards only map operations and is never held across blocking
// work, so one slow session cannot stall another's start or stop path.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Put registers a handle under its bot id. If a handle is already present it
// is replaced and returned; the caller is responsible for stopping the
// displaced handle.
func (r *Registry) Put(h *Handle) (displaced *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced = r.handles[h.BotID]
	r.handles[h.BotID] = h
	return displaced
}

// Get returns the live handle for a bot id, if any.
func (r *Registry) Get(botID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[botID]
	return h, ok
}

// Remove unregisters and returns whatever handle is stored for the id.
func (r *Registry) Remove(botID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[botID]
	delete(r.handles, botID)
	return h
}

// Release removes the entry only if it still holds h. It reports whether h
// owned the entry, so a displaced session can tell it no longer speaks for
// the bot's status.
func (r *Registry) Release(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.BotID] != h {
		return false
	}
	delete(r.handles, h.BotID)
	return true
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Snapshot returns the currently registered handles.
func (r *Registry) Snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}
