package checkpoint

import (
	"context"
	"sync"

	"lifelog/internal/state"
)

// MemoryStore is a process-local volatile backend for tests and
// ephemeral sessions. Snapshots are deep-copied on both Put and Get so
// callers never share mutable state through the store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*state.State
}

// NewMemoryStore returns an empty volatile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*state.State)}
}

// Get returns a copy of the stored state, or (nil, nil) when absent.
func (m *MemoryStore) Get(_ context.Context, threadID string) (*state.State, error) {
	m.mu.RLock()
	st, ok := m.snapshots[threadID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return st.Clone()
}

// Put stores a copy of the state under the thread id.
func (m *MemoryStore) Put(_ context.Context, threadID string, st *state.State) error {
	cp, err := st.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshots[threadID] = cp
	m.mu.Unlock()
	return nil
}

// Close is a no-op for the volatile backend.
func (m *MemoryStore) Close() error { return nil }
