package session

import (
	"context"
	"sync"
)

// MemoryRegistry keeps bindings in process memory.
type MemoryRegistry struct {
	mu        sync.RWMutex
	bySession map[string]string
	bySocket  map[string]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		bySession: make(map[string]string),
		bySocket:  make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRegistry) Bind(_ context.Context, sessionID string, socketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.bySession[sessionID]; ok && previous != socketID {
		r.forgetLocked(previous, sessionID)
	}

	r.bySession[sessionID] = socketID
	sessions, ok := r.bySocket[socketID]
	if !ok {
		sessions = make(map[string]struct{})
		r.bySocket[socketID] = sessions
	}
	sessions[sessionID] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, sessionID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	socketID, ok := r.bySession[sessionID]
	return socketID, ok, nil
}

func (r *MemoryRegistry) UnbindSocket(_ context.Context, socketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID := range r.bySocket[socketID] {
		if r.bySession[sessionID] == socketID {
			delete(r.bySession, sessionID)
		}
	}
	delete(r.bySocket, socketID)
	return nil
}

func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bySession = make(map[string]string)
	r.bySocket = make(map[string]map[string]struct{})
	return nil
}

func (r *MemoryRegistry) forgetLocked(socketID string, sessionID string) {
	sessions, ok := r.bySocket[socketID]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.bySocket, socketID)
	}
}
