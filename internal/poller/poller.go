// ABOUTME: Drives a started assistant run to a terminal status by repeated polling.
// ABOUTME: Each poll loop is an explicit cancellable handle so resets never leak timers.

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tzironis/qualia/internal/provider"
)

// ErrTimeout indicates the maximum wait elapsed before the run reached a
// terminal status. The run may still complete server-side; the client just
// stops waiting.
var ErrTimeout = errors.New("timed out waiting for run completion")

// ErrCancelled indicates the poll loop was cancelled before a result arrived.
var ErrCancelled = errors.New("polling cancelled")

// StatusChecker is the single gateway operation the poller needs.
type StatusChecker interface {
	GetRunStatus(ctx context.Context, threadID, runID string) (provider.Status, error)
}

// Options configures poll timing.
type Options struct {
	Interval time.Duration // time between status checks, default 1s
	MaxWait  time.Duration // total wait bound, default 30s
}

// Poller starts poll loops against a gateway.
type Poller struct {
	gateway  StatusChecker
	interval time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// New creates a Poller. Zero option fields select the defaults.
func New(gateway StatusChecker, opts Options, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	return &Poller{
		gateway:  gateway,
		interval: opts.Interval,
		maxWait:  opts.MaxWait,
		logger:   logger.With("component", "poller"),
	}
}

type pollResult struct {
	status provider.Status
	err    error
}

// Handle represents one live poll loop. Cancel stops the loop and releases
// its timer; it is safe to call multiple times and after completion.
type Handle struct {
	ctx       context.Context
	cancel    context.CancelFunc
	result    chan pollResult
	cancelled atomic.Bool
}

// Start begins polling the run and returns a handle the caller waits on.
func (p *Poller) Start(ctx context.Context, threadID, runID string) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ctx:    runCtx,
		cancel: cancel,
		result: make(chan pollResult, 1),
	}
	go p.loop(runCtx, threadID, runID, h)
	return h
}

// Wait blocks until the loop delivers a terminal result, the loop is
// cancelled, or ctx is done. On success the returned status is
// StatusCompleted and the error is nil. Once Cancel has been called the
// result is ErrCancelled even if a terminal status raced in first.
func (h *Handle) Wait(ctx context.Context) (provider.Status, error) {
	select {
	case r := <-h.result:
		if h.cancelled.Load() {
			return "", ErrCancelled
		}
		return r.status, r.err
	case <-h.ctx.Done():
		if h.cancelled.Load() {
			return "", ErrCancelled
		}
		// The loop cancels its own context after delivering, so a done
		// context without an explicit Cancel means the result is waiting.
		select {
		case r := <-h.result:
			return r.status, r.err
		default:
			return "", ErrCancelled
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cancel stops the poll loop. No result is delivered after cancellation.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

func (p *Poller) loop(ctx context.Context, threadID, runID string, h *Handle) {
	defer h.cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.maxWait)
	defer deadline.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			p.logger.Warn("run polling timed out",
				"thread_id", threadID,
				"run_id", runID,
				"polls", polls)
			h.deliver(pollResult{err: ErrTimeout})
			return

		case <-ticker.C:
			status, err := p.gateway.GetRunStatus(ctx, threadID, runID)
			polls++
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.deliver(pollResult{err: fmt.Errorf("checking run status: %w", err)})
				return
			}
			if !status.Terminal() {
				continue
			}

			p.logger.Debug("run reached terminal status",
				"thread_id", threadID,
				"run_id", runID,
				"status", status,
				"polls", polls)

			if status.Succeeded() {
				h.deliver(pollResult{status: status})
			} else {
				h.deliver(pollResult{status: status, err: &provider.RunError{Status: status}})
			}
			return
		}
	}
}

// deliver hands the result to the waiter unless cancellation already won.
func (h *Handle) deliver(r pollResult) {
	if h.ctx.Err() != nil {
		return
	}
	select {
	case <-h.ctx.Done():
	case h.result <- r:
	}
}
