// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	threadID string
	hasID    bool
	queued   []QueuedMessage
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// ThreadID returns the stored thread id or ErrNotFound.
func (m *MockStore) ThreadID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasID {
		return "", ErrNotFound
	}
	return m.threadID, nil
}

// SetThreadID replaces the stored thread id.
func (m *MockStore) SetThreadID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.threadID = id
	m.hasID = true
	return nil
}

// AppendQueued adds a message to the end of the queue.
func (m *MockStore) AppendQueued(ctx context.Context, msg QueuedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queued = append(m.queued, msg)
	return nil
}

// ListQueued returns queued messages in FIFO order.
func (m *MockStore) ListQueued(ctx context.Context) ([]QueuedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]QueuedMessage, len(m.queued))
	copy(out, m.queued)
	return out, nil
}

// DeleteQueued removes the messages with the given ids.
func (m *MockStore) DeleteQueued(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := m.queued[:0]
	for _, msg := range m.queued {
		if !drop[msg.ID] {
			kept = append(kept, msg)
		}
	}
	m.queued = kept
	return nil
}

// ClearQueued removes every queued message.
func (m *MockStore) ClearQueued(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queued = nil
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
