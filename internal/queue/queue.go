// ABOUTME: Durable offline queue for user messages that could not be dispatched.
// ABOUTME: Replays queued messages in strict FIFO order when connectivity returns.

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tzironis/qualia/internal/provider"
	"github.com/tzironis/qualia/internal/store"
)

// Dispatcher is the send path used to replay queued messages.
type Dispatcher interface {
	PostMessage(ctx context.Context, threadID, content string, role provider.Role) error
	StartRun(ctx context.Context, threadID string) (string, error)
}

// QueueStore is the slice of the client store the queue needs.
type QueueStore interface {
	AppendQueued(ctx context.Context, msg store.QueuedMessage) error
	ListQueued(ctx context.Context) ([]store.QueuedMessage, error)
	DeleteQueued(ctx context.Context, ids []string) error
	ClearQueued(ctx context.Context) error
}

// Queue persists undeliverable user messages and drains them FIFO once the
// provider is reachable again.
type Queue struct {
	store   QueueStore
	gateway Dispatcher
	logger  *slog.Logger

	mu       sync.Mutex
	draining bool
}

// New creates an offline queue backed by the given store and dispatcher.
func New(qs QueueStore, gateway Dispatcher, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:   qs,
		gateway: gateway,
		logger:  logger.With("component", "queue"),
	}
}

// Enqueue appends a message to the durable queue.
func (q *Queue) Enqueue(ctx context.Context, msg store.QueuedMessage) error {
	if err := q.store.AppendQueued(ctx, msg); err != nil {
		return fmt.Errorf("enqueueing message: %w", err)
	}
	q.logger.Info("message queued for later delivery",
		"message_id", msg.ID,
		"thread_id", msg.ThreadID)
	return nil
}

// Pending returns the queued messages in FIFO order without consuming them.
func (q *Queue) Pending(ctx context.Context) ([]store.QueuedMessage, error) {
	return q.store.ListQueued(ctx)
}

// Drain attempts to dispatch every queued message in FIFO order. On the first
// dispatch failure it stops: the already-sent prefix is removed from the
// queue, the failed message and everything after it remain, and Drain reports
// false. When every message dispatches the queue is cleared and Drain reports
// true. Re-entrant calls while a drain is in progress are suppressed.
func (q *Queue) Drain(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		q.logger.Debug("drain already in progress, skipping")
		return false, nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	queued, err := q.store.ListQueued(ctx)
	if err != nil {
		return false, fmt.Errorf("listing queued messages: %w", err)
	}
	if len(queued) == 0 {
		return true, nil
	}

	q.logger.Info("draining offline queue", "count", len(queued))

	sent := make([]string, 0, len(queued))
	for _, msg := range queued {
		if err := q.dispatch(ctx, msg); err != nil {
			// Drop only what was actually delivered; the failed message
			// and its successors stay queued for the next drain.
			if delErr := q.store.DeleteQueued(ctx, sent); delErr != nil {
				q.logger.Error("failed to remove sent prefix from queue", "error", delErr)
			}
			q.logger.Warn("drain stopped on dispatch failure",
				"message_id", msg.ID,
				"sent", len(sent),
				"remaining", len(queued)-len(sent),
				"error", err)
			return false, err
		}
		sent = append(sent, msg.ID)
	}

	if err := q.store.ClearQueued(ctx); err != nil {
		return false, fmt.Errorf("clearing drained queue: %w", err)
	}

	q.logger.Info("offline queue drained", "count", len(sent))
	return true, nil
}

func (q *Queue) dispatch(ctx context.Context, msg store.QueuedMessage) error {
	if err := q.gateway.PostMessage(ctx, msg.ThreadID, msg.Content, provider.RoleUser); err != nil {
		return err
	}
	if _, err := q.gateway.StartRun(ctx, msg.ThreadID); err != nil {
		return err
	}
	return nil
}
