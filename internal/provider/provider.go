// ABOUTME: Gateway contract and data types for the remote assistant-run provider.
// ABOUTME: Threads, messages, and run statuses as consumed by the orchestration layer.

package provider

import (
	"context"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of an assistant run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further status transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Succeeded reports whether the run reached the one successful terminal state.
func (s Status) Succeeded() bool {
	return s == StatusCompleted
}

// Message is a single message within a thread.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Gateway is the narrow contract against the upstream assistant-run API.
// All operations suspend on network I/O and honor context cancellation.
// GetRunStatus is idempotent and side-effect free; StartRun cancels any
// non-terminal run on the thread before starting a new one.
type Gateway interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, content string, role Role) error
	StartRun(ctx context.Context, threadID string) (string, error)
	GetRunStatus(ctx context.Context, threadID, runID string) (Status, error)

	// ListMessages returns up to limit messages, newest first. When beforeID
	// is non-empty, only messages strictly older than the referenced message
	// are returned, enabling backward pagination.
	ListMessages(ctx context.Context, threadID string, limit int, beforeID string) ([]Message, error)
}
