package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore is an in-process CounterStore that stands in for the
// integration record in limiter, runner and engine tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func memoryKey(accountID string, kind Kind) string {
	return accountID + "|" + string(kind)
}

// LoadWindow returns the stored window or a zero window.
func (m *MemoryStore) LoadWindow(_ context.Context, accountID string, kind Kind) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows[memoryKey(accountID, kind)], nil
}

// SwapWindow replaces prev with next when the version still matches.
func (m *MemoryStore) SwapWindow(_ context.Context, accountID string, kind Kind, prev, next Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(accountID, kind)
	if m.windows[key].Version != prev.Version {
		return ErrConflict
	}
	m.windows[key] = next
	return nil
}

// Set seeds a window, for tests.
func (m *MemoryStore) Set(accountID string, kind Kind, w Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[memoryKey(accountID, kind)] = w
}
