// ABOUTME: Conversation session manager owning thread identity and local message state.
// ABOUTME: Coordinates gateway, poller, offline queue, and cache for send/reset/paginate.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tzironis/qualia/internal/cache"
	"github.com/tzironis/qualia/internal/poller"
	"github.com/tzironis/qualia/internal/provider"
	"github.com/tzironis/qualia/internal/store"
)

// SessionStore is the slice of the client store the manager needs.
type SessionStore interface {
	ThreadID(ctx context.Context) (string, error)
	SetThreadID(ctx context.Context, id string) error
}

// OfflineQueue is the queue contract the manager drives.
type OfflineQueue interface {
	Enqueue(ctx context.Context, msg store.QueuedMessage) error
	Drain(ctx context.Context) (bool, error)
	Pending(ctx context.Context) ([]store.QueuedMessage, error)
}

// Message is a display message. Pending marks an optimistic or queued entry
// that has not been confirmed by the provider yet.
type Message struct {
	ID        string
	Role      provider.Role
	Content   string
	Timestamp time.Time
	Pending   bool
}

// Snapshot is a copy of the observable session state.
type Snapshot struct {
	ThreadID  string
	Messages  []Message // newest first
	HasMore   bool
	IsLoading bool
	Error     string
	Online    bool
}

// Options configures a Manager.
type Options struct {
	// PageSize is the message page size for fetch and pagination. Default 20.
	PageSize int

	// WelcomeMessage seeds new threads created by ForceReset.
	WelcomeMessage string
}

// Manager is the top-level conversation orchestrator.
type Manager struct {
	gateway  provider.Gateway
	poller   *poller.Poller
	store    SessionStore
	queue    OfflineQueue
	msgCache *cache.Cache[[]provider.Message]
	logger   *slog.Logger
	pageSize int
	welcome  string

	mu          sync.Mutex
	threadID    string
	messages    []Message // newest first, provider order
	hasMore     bool
	loading     bool
	lastError   string
	online      bool
	runInFlight bool
	activePoll  *poller.Handle
}

// New creates a session manager. The message cache may be nil to disable
// first-page caching.
func New(gateway provider.Gateway, p *poller.Poller, st SessionStore, q OfflineQueue, msgCache *cache.Cache[[]provider.Message], opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if msgCache == nil {
		msgCache = cache.New[[]provider.Message](0, 0)
	}
	return &Manager{
		gateway:  gateway,
		poller:   p,
		store:    st,
		queue:    q,
		msgCache: msgCache,
		logger:   logger.With("component", "session"),
		pageSize: opts.PageSize,
		welcome:  opts.WelcomeMessage,
		online:   true,
	}
}

// Snapshot returns a copy of the observable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return Snapshot{
		ThreadID:  m.threadID,
		Messages:  msgs,
		HasMore:   m.hasMore,
		IsLoading: m.loading,
		Error:     m.lastError,
		Online:    m.online,
	}
}

// Initialize restores a persisted thread or creates a new one.
//
// A failure to create a thread is fatal: no conversation is possible and the
// error is returned. A failure to fetch messages for an existing thread is
// recoverable: the session starts with an empty list and an error banner.
func (m *Manager) Initialize(ctx context.Context) error {
	id, err := m.store.ThreadID(ctx)
	switch {
	case err == nil:
		m.setThread(id)
		if fetchErr := m.refreshFirstPage(ctx); fetchErr != nil {
			m.logger.Warn("failed to load existing thread history",
				"thread_id", id,
				"error", fetchErr)
			m.setError(UserMessage(fetchErr))
		}

	case errors.Is(err, store.ErrNotFound):
		newID, createErr := m.gateway.CreateThread(ctx)
		if createErr != nil {
			return fmt.Errorf("creating initial thread: %w", createErr)
		}
		if saveErr := m.store.SetThreadID(ctx, newID); saveErr != nil {
			return fmt.Errorf("persisting initial thread id: %w", saveErr)
		}
		m.setThread(newID)
		m.logger.Info("new conversation thread created", "thread_id", newID)

	default:
		return fmt.Errorf("reading persisted thread id: %w", err)
	}

	// Opportunistic replay of anything queued from a previous session.
	m.drainQueue(ctx)

	return nil
}

// drainQueue replays queued messages if any exist, refreshing local state
// when the whole queue was delivered.
func (m *Manager) drainQueue(ctx context.Context) {
	pending, err := m.queue.Pending(ctx)
	if err != nil {
		m.logger.Warn("failed to inspect offline queue", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	if ok, err := m.queue.Drain(ctx); err != nil {
		m.logger.Warn("offline queue drain failed", "error", err)
	} else if ok {
		m.refreshAfterDrain(ctx)
	}
}

// SendMessage posts a user message, starts a run, polls it to completion, and
// reconciles local state with the provider's authoritative message list.
//
// The user's message is appended optimistically before any network I/O. When
// connectivity is down the message is queued for replay instead of failing.
// A second call while a run is in flight returns ErrBusy.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if m.threadID == "" {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if m.runInFlight {
		m.mu.Unlock()
		return ErrBusy
	}
	m.runInFlight = true
	m.loading = true
	m.lastError = ""
	threadID := m.threadID

	optimistic := Message{
		ID:        "temp-" + uuid.New().String(),
		Role:      provider.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
		Pending:   true,
	}
	m.messages = append([]Message{optimistic}, m.messages...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.runInFlight = false
		m.loading = false
		m.mu.Unlock()
	}()

	// The cached first page is stale the moment a send is attempted.
	m.msgCache.Invalidate(threadID)

	if err := m.gateway.PostMessage(ctx, threadID, text, provider.RoleUser); err != nil {
		return m.handleSendFailure(ctx, threadID, optimistic.ID, text, err)
	}

	runID, err := m.gateway.StartRun(ctx, threadID)
	if err != nil {
		return m.handleSendFailure(ctx, threadID, optimistic.ID, text, err)
	}

	handle := m.poller.Start(ctx, threadID, runID)
	m.mu.Lock()
	m.activePoll = handle
	m.mu.Unlock()

	_, err = handle.Wait(ctx)

	m.mu.Lock()
	m.activePoll = nil
	m.mu.Unlock()

	if err != nil {
		m.setError(UserMessage(err))
		return err
	}

	if err := m.refreshFirstPage(ctx); err != nil {
		m.setError(UserMessage(err))
		return err
	}

	// A send that made it end to end is proof connectivity is back, no
	// separate reachability signal needed.
	m.mu.Lock()
	wasOffline := !m.online
	m.online = true
	m.mu.Unlock()
	if wasOffline {
		m.logger.Info("connectivity restored, draining offline queue")
		m.drainQueue(ctx)
	}
	return nil
}

// handleSendFailure classifies a post/run failure. Connectivity loss queues
// the message and flips the session offline; everything else surfaces.
func (m *Manager) handleSendFailure(ctx context.Context, threadID, tempID, text string, err error) error {
	if provider.IsConnectivityError(err) {
		queued := store.QueuedMessage{
			ID:        uuid.New().String(),
			ThreadID:  threadID,
			Content:   text,
			Timestamp: time.Now(),
		}
		if qErr := m.queue.Enqueue(ctx, queued); qErr != nil {
			m.logger.Error("failed to queue message while offline", "error", qErr)
			m.setError(UserMessage(qErr))
			return qErr
		}

		m.mu.Lock()
		m.online = false
		m.lastError = UserMessage(err)
		m.mu.Unlock()
		m.logger.Info("offline, message queued", "thread_id", threadID)
		return nil
	}

	// The optimistic entry stays visible but flagged; only its send failed.
	m.setError(UserMessage(err))
	return err
}

// ResetThread abandons the current thread and starts a fresh one, optionally
// seeding it with a welcome message. The old thread is not deleted upstream.
func (m *Manager) ResetThread(ctx context.Context, welcome string) error {
	newID, err := m.gateway.CreateThread(ctx)
	if err != nil {
		m.setError(UserMessage(err))
		return fmt.Errorf("creating replacement thread: %w", err)
	}

	if welcome != "" {
		// Best effort: a failed seed still leaves a usable empty thread.
		if postErr := m.gateway.PostMessage(ctx, newID, welcome, provider.RoleAssistant); postErr != nil {
			m.logger.Warn("failed to seed welcome message", "thread_id", newID, "error", postErr)
		}
	}

	if err := m.store.SetThreadID(ctx, newID); err != nil {
		return fmt.Errorf("persisting replacement thread id: %w", err)
	}

	m.mu.Lock()
	oldID := m.threadID
	m.threadID = newID
	m.messages = nil
	m.hasMore = false
	m.lastError = ""
	m.mu.Unlock()

	if oldID != "" {
		m.msgCache.Invalidate(oldID)
	}
	m.logger.Info("thread reset", "old_thread_id", oldID, "new_thread_id", newID)

	if welcome != "" {
		if err := m.refreshFirstPage(ctx); err != nil {
			m.logger.Warn("failed to load seeded thread", "thread_id", newID, "error", err)
		}
	}
	return nil
}

// ForceReset is the recovery path for a stuck session: it cancels any live
// poll loop and performs a thread reset. Queued offline messages are kept;
// they are independent of thread identity.
func (m *Manager) ForceReset(ctx context.Context) error {
	m.mu.Lock()
	if m.activePoll != nil {
		m.activePoll.Cancel()
		m.activePoll = nil
	}
	m.runInFlight = false
	m.loading = false
	m.mu.Unlock()

	m.logger.Info("force reset requested")
	return m.ResetThread(ctx, m.welcome)
}

// LoadMoreMessages fetches the page older than the oldest loaded message and
// appends it. When HasMore is false no provider call is made. A failure
// leaves the already-loaded messages intact.
func (m *Manager) LoadMoreMessages(ctx context.Context) error {
	m.mu.Lock()
	if !m.hasMore || len(m.messages) == 0 {
		m.mu.Unlock()
		return nil
	}
	threadID := m.threadID
	beforeID := m.messages[len(m.messages)-1].ID
	m.loading = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	}()

	page, err := m.gateway.ListMessages(ctx, threadID, m.pageSize, beforeID)
	if err != nil {
		m.setError(UserMessage(err))
		return fmt.Errorf("loading older messages: %w", err)
	}

	m.mu.Lock()
	m.messages = append(m.messages, toDisplayMessages(page)...)
	m.hasMore = len(page) == m.pageSize
	m.mu.Unlock()
	return nil
}

// SetOnline records a connectivity transition. Going from offline to online
// triggers a queue drain and, when it fully succeeds, a state refresh.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		m.logger.Info("connectivity restored, draining offline queue")
		m.drainQueue(ctx)
	}
}

// refreshAfterDrain re-fetches the first page after a successful drain so
// replayed messages display with their provider-assigned identities.
func (m *Manager) refreshAfterDrain(ctx context.Context) {
	m.mu.Lock()
	hasThread := m.threadID != ""
	m.mu.Unlock()
	if !hasThread {
		return
	}

	m.msgCache.Invalidate(m.currentThreadID())
	if err := m.refreshFirstPage(ctx); err != nil {
		m.logger.Warn("failed to refresh after drain", "error", err)
	}
}

// refreshFirstPage replaces local message state wholesale with the first page
// from the provider (through the message cache), reconciling any optimistic
// entries.
func (m *Manager) refreshFirstPage(ctx context.Context) error {
	threadID := m.currentThreadID()

	page, ok := m.msgCache.Get(threadID)
	if !ok {
		var err error
		page, err = m.gateway.ListMessages(ctx, threadID, m.pageSize, "")
		if err != nil {
			return err
		}
		m.msgCache.Put(threadID, page)
	}

	m.mu.Lock()
	m.messages = toDisplayMessages(page)
	m.hasMore = len(page) == m.pageSize
	m.lastError = ""
	m.mu.Unlock()
	return nil
}

func (m *Manager) currentThreadID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threadID
}

func (m *Manager) setThread(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadID = id
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = msg
}

func toDisplayMessages(page []provider.Message) []Message {
	out := make([]Message, 0, len(page))
	for _, pm := range page {
		out = append(out, Message{
			ID:        pm.ID,
			Role:      pm.Role,
			Content:   pm.Content,
			Timestamp: pm.Timestamp,
		})
	}
	return out
}
