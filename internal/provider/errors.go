// ABOUTME: Structured error kinds for provider failures.
// ABOUTME: Replaces substring matching on upstream error text with typed classification.

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrThreadNotFound indicates the upstream has no record of the thread.
// It is never retried; the caller should start a fresh thread.
var ErrThreadNotFound = errors.New("thread not found")

// ErrProviderUnavailable indicates a transport-level failure talking to the
// upstream, including 5xx responses.
var ErrProviderUnavailable = errors.New("provider unavailable")

// RunError reports a run that reached a failure terminal status.
type RunError struct {
	Status Status
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run ended with status %s", e.Status)
}

// IsConnectivityError reports whether err indicates a loss of network
// connectivity, the only class of failure eligible for the offline queue.
// Provider-level rejections (bad request, thread not found) are excluded.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThreadNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
