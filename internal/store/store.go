// ABOUTME: Store interface and data types for durable client-side state.
// ABOUTME: Persists the active thread id and the offline message queue across restarts.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueuedMessage is a durable record of a user message that could not be
// dispatched because connectivity was lost. Queued messages are replayed in
// FIFO order once the client is back online.
type QueuedMessage struct {
	ID        string
	ThreadID  string
	Content   string
	Timestamp time.Time
}

// Store persists client state that must survive a process restart.
type Store interface {
	// ThreadID returns the persisted active thread id, or ErrNotFound.
	ThreadID(ctx context.Context) (string, error)

	// SetThreadID replaces the persisted active thread id.
	SetThreadID(ctx context.Context, id string) error

	// AppendQueued adds a message to the end of the offline queue.
	AppendQueued(ctx context.Context, msg QueuedMessage) error

	// ListQueued returns all queued messages in FIFO order.
	ListQueued(ctx context.Context) ([]QueuedMessage, error)

	// DeleteQueued removes the messages with the given ids.
	DeleteQueued(ctx context.Context, ids []string) error

	// ClearQueued removes every queued message.
	ClearQueued(ctx context.Context) error

	Close() error
}
