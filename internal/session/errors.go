// ABOUTME: Session-level error kinds and their user-facing recovery messages.
// ABOUTME: Every failure maps to a human-readable string, never a raw error dump.

package session

import (
	"errors"

	"github.com/tzironis/qualia/internal/poller"
	"github.com/tzironis/qualia/internal/provider"
)

// ErrBusy indicates a run is already in flight on the active thread.
// The caller should wait for it to reach a terminal state before resending.
var ErrBusy = errors.New("a run is already in progress on this thread")

// ErrNotInitialized indicates an operation was attempted before Initialize
// succeeded or after initialization failed fatally.
var ErrNotInitialized = errors.New("session not initialized")

// UserMessage maps an error from any session operation to a human-readable
// status string. The three recovery classes are "try again", "please wait",
// and "start a new conversation".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrBusy):
		return "Still processing your previous message. Please wait."
	case errors.Is(err, provider.ErrThreadNotFound):
		return "This conversation is no longer available. Please start a new conversation."
	case errors.Is(err, poller.ErrTimeout):
		return "The assistant took too long to respond. Please try again."
	case errors.Is(err, ErrNotInitialized):
		return "The conversation could not be started. Please try again."
	}

	var runErr *provider.RunError
	if errors.As(err, &runErr) {
		switch runErr.Status {
		case provider.StatusExpired:
			return "The request expired before the assistant could respond. Please try again."
		case provider.StatusCancelled:
			return "The request was cancelled. Please try again."
		default:
			return "The assistant failed to process your message. Please try again."
		}
	}

	if provider.IsConnectivityError(err) {
		return "You appear to be offline. Your message will be sent when the connection returns."
	}

	return "Something went wrong. Please try again."
}
