// ABOUTME: Tests for the conversation session manager.
// ABOUTME: Covers initialization, optimistic send and reconciliation, run serialization, pagination, and offline queueing.

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzironis/qualia/internal/cache"
	"github.com/tzironis/qualia/internal/poller"
	"github.com/tzironis/qualia/internal/provider"
	"github.com/tzironis/qualia/internal/queue"
	"github.com/tzironis/qualia/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockGateway is a scriptable in-memory provider gateway.
type mockGateway struct {
	mu sync.Mutex

	createErr error
	postErr   error
	runErr    error
	listErr   error

	statuses  []provider.Status // sequence for GetRunStatus, last repeats
	statusIdx int

	firstPage []provider.Message // returned when beforeID is empty
	olderPage []provider.Message // returned when beforeID is set

	threadsCreated int
	postCalls      int
	startRunCalls  int
	listCalls      int
	statusCalls    int
}

func (g *mockGateway) CreateThread(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.threadsCreated++
	return fmt.Sprintf("thread-%d", g.threadsCreated), nil
}

func (g *mockGateway) PostMessage(ctx context.Context, threadID, content string, role provider.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.postErr != nil {
		return g.postErr
	}
	g.postCalls++
	return nil
}

func (g *mockGateway) StartRun(ctx context.Context, threadID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runErr != nil {
		return "", g.runErr
	}
	g.startRunCalls++
	return fmt.Sprintf("run-%d", g.startRunCalls), nil
}

func (g *mockGateway) GetRunStatus(ctx context.Context, threadID, runID string) (provider.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if len(g.statuses) == 0 {
		return provider.StatusCompleted, nil
	}
	idx := g.statusIdx
	if idx >= len(g.statuses) {
		idx = len(g.statuses) - 1
	}
	g.statusIdx++
	return g.statuses[idx], nil
}

func (g *mockGateway) ListMessages(ctx context.Context, threadID string, limit int, beforeID string) ([]provider.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	g.listCalls++
	page := g.firstPage
	if beforeID != "" {
		page = g.olderPage
	}
	if len(page) > limit {
		page = page[:limit]
	}
	out := make([]provider.Message, len(page))
	copy(out, page)
	return out, nil
}

func (g *mockGateway) counts() (post, run, list int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.postCalls, g.startRunCalls, g.listCalls
}

type testEnv struct {
	gw    *mockGateway
	store *store.MockStore
	queue *queue.Queue
	cache *cache.Cache[[]provider.Message]
	mgr   *Manager
}

func newTestEnv(t *testing.T, gw *mockGateway, opts Options) *testEnv {
	t.Helper()
	ms := store.NewMockStore()
	q := queue.New(ms, gw, testLogger())
	c := cache.New[[]provider.Message](10, 5*time.Minute)
	t.Cleanup(c.Close)

	p := poller.New(gw, poller.Options{Interval: 2 * time.Millisecond, MaxWait: 100 * time.Millisecond}, testLogger())
	mgr := New(gw, p, ms, q, c, opts, testLogger())
	return &testEnv{gw: gw, store: ms, queue: q, cache: c, mgr: mgr}
}

func assistantMsg(id, content string) provider.Message {
	return provider.Message{ID: id, Role: provider.RoleAssistant, Content: content, Timestamp: time.Now()}
}

func userMsg(id, content string) provider.Message {
	return provider.Message{ID: id, Role: provider.RoleUser, Content: content, Timestamp: time.Now()}
}

func TestManager_Initialize_CreatesThreadWhenNonePersisted(t *testing.T) {
	env := newTestEnv(t, &mockGateway{}, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	snap := env.mgr.Snapshot()
	assert.Equal(t, "thread-1", snap.ThreadID)
	assert.Empty(t, snap.Messages)

	// The new id is persisted for the next session
	id, err := env.store.ThreadID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", id)
}

func TestManager_Initialize_RestoresPersistedThread(t *testing.T) {
	gw := &mockGateway{firstPage: []provider.Message{
		assistantMsg("msg-2", "hello again"),
		userMsg("msg-1", "hi"),
	}}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-restored"))
	require.NoError(t, env.mgr.Initialize(ctx))

	snap := env.mgr.Snapshot()
	assert.Equal(t, "thread-restored", snap.ThreadID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "msg-2", snap.Messages[0].ID)
	assert.Zero(t, gw.threadsCreated, "no new thread when one is persisted")
}

func TestManager_Initialize_FetchFailureIsRecoverable(t *testing.T) {
	gw := &mockGateway{listErr: syscall.ECONNREFUSED}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-restored"))

	// Initialization still succeeds; the session just starts empty
	require.NoError(t, env.mgr.Initialize(ctx))

	snap := env.mgr.Snapshot()
	assert.Equal(t, "thread-restored", snap.ThreadID)
	assert.Empty(t, snap.Messages)
	assert.NotEmpty(t, snap.Error)
}

func TestManager_Initialize_CreateFailureIsFatal(t *testing.T) {
	gw := &mockGateway{createErr: syscall.ECONNREFUSED}
	env := newTestEnv(t, gw, Options{})

	err := env.mgr.Initialize(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, env.mgr.SendMessage(context.Background(), "hi"), ErrNotInitialized)
}

func TestManager_SendMessage_OptimisticThenReconciled(t *testing.T) {
	gw := &mockGateway{}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	// After the run completes the provider returns the authoritative list
	gw.mu.Lock()
	gw.firstPage = []provider.Message{
		assistantMsg("msg-2", "the answer"),
		userMsg("msg-1", "the question"),
	}
	gw.mu.Unlock()

	require.NoError(t, env.mgr.SendMessage(ctx, "the question"))

	snap := env.mgr.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "msg-2", snap.Messages[0].ID)
	assert.Equal(t, "msg-1", snap.Messages[1].ID)

	// The optimistic temp entry must be gone after reconciliation
	for _, msg := range snap.Messages {
		assert.False(t, strings.HasPrefix(msg.ID, "temp-"), "optimistic entry leaked into reconciled state")
		assert.False(t, msg.Pending)
	}

	post, run, _ := gw.counts()
	assert.Equal(t, 1, post)
	assert.Equal(t, 1, run)
}

func TestManager_SendMessage_EmptyTextIsNoop(t *testing.T) {
	gw := &mockGateway{}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))
	require.NoError(t, env.mgr.SendMessage(ctx, "   "))

	post, run, _ := gw.counts()
	assert.Zero(t, post)
	assert.Zero(t, run)
}

func TestManager_SendMessage_SecondSendWhileRunInFlightIsRejected(t *testing.T) {
	// A run that never leaves in_progress keeps the first send in flight
	gw := &mockGateway{statuses: []provider.Status{provider.StatusInProgress}}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- env.mgr.SendMessage(ctx, "first")
	}()

	// Wait for the first send to take the in-flight guard
	require.Eventually(t, func() bool {
		_, run, _ := gw.counts()
		return run == 1
	}, time.Second, time.Millisecond)

	err := env.mgr.SendMessage(ctx, "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "Still processing your previous message. Please wait.", UserMessage(err))

	// The first send eventually times out; exactly one run was ever started
	assert.ErrorIs(t, <-firstDone, poller.ErrTimeout)
	_, run, _ := gw.counts()
	assert.Equal(t, 1, run, "second send must not start a second run")
}

func TestManager_SendMessage_ThreadNotFoundSurfaces(t *testing.T) {
	gw := &mockGateway{}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	gw.mu.Lock()
	gw.postErr = provider.ErrThreadNotFound
	gw.mu.Unlock()

	err := env.mgr.SendMessage(ctx, "hello?")
	require.ErrorIs(t, err, provider.ErrThreadNotFound)

	snap := env.mgr.Snapshot()
	assert.Contains(t, snap.Error, "start a new conversation")
}

func TestManager_SendMessage_ConnectivityLossQueuesMessage(t *testing.T) {
	gw := &mockGateway{}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	gw.mu.Lock()
	gw.postErr = syscall.ECONNREFUSED
	gw.mu.Unlock()

	// Not an error from the caller's perspective: the message will be replayed
	require.NoError(t, env.mgr.SendMessage(ctx, "send me later"))

	snap := env.mgr.Snapshot()
	assert.False(t, snap.Online)
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].Pending, "queued message stays visible as pending")
	assert.Equal(t, "send me later", snap.Messages[0].Content)

	pending, err := env.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "send me later", pending[0].Content)
	assert.Equal(t, "thread-1", pending[0].ThreadID)
}

func TestManager_SetOnline_DrainsQueueOnReconnect(t *testing.T) {
	gw := &mockGateway{}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	gw.mu.Lock()
	gw.postErr = syscall.ECONNREFUSED
	gw.mu.Unlock()
	require.NoError(t, env.mgr.SendMessage(ctx, "offline message"))

	// Connectivity returns
	gw.mu.Lock()
	gw.postErr = nil
	gw.firstPage = []provider.Message{
		assistantMsg("msg-2", "reply"),
		userMsg("msg-1", "offline message"),
	}
	gw.mu.Unlock()

	env.mgr.SetOnline(ctx, true)

	pending, err := env.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "queue drained after reconnect")

	snap := env.mgr.Snapshot()
	assert.True(t, snap.Online)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "msg-1", snap.Messages[1].ID, "replayed message now has its provider identity")
}

func TestManager_SendMessage_SuccessRestoresOnlineAndDrainsQueue(t *testing.T) {
	gw := &mockGateway{statuses: []provider.Status{provider.StatusCompleted}}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	gw.mu.Lock()
	gw.postErr = syscall.ECONNREFUSED
	gw.mu.Unlock()
	require.NoError(t, env.mgr.SendMessage(ctx, "queued while offline"))
	assert.False(t, env.mgr.Snapshot().Online)

	// Connectivity silently returns; the next send succeeds end to end
	gw.mu.Lock()
	gw.postErr = nil
	gw.firstPage = []provider.Message{
		assistantMsg("msg-4", "reply to both"),
		userMsg("msg-3", "queued while offline"),
		assistantMsg("msg-2", "reply"),
		userMsg("msg-1", "sent after reconnect"),
	}
	gw.mu.Unlock()

	require.NoError(t, env.mgr.SendMessage(ctx, "sent after reconnect"))

	snap := env.mgr.Snapshot()
	assert.True(t, snap.Online, "a successful send flips the session back online")

	pending, err := env.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "queue drained without an explicit connectivity signal")
}

func TestManager_LoadMoreMessages(t *testing.T) {
	first := make([]provider.Message, 3)
	for i := range first {
		first[i] = assistantMsg(fmt.Sprintf("msg-%d", 6-i), "newer")
	}
	gw := &mockGateway{
		firstPage: first,
		olderPage: []provider.Message{
			userMsg("msg-3", "older"),
			assistantMsg("msg-2", "older still"),
		},
	}
	env := newTestEnv(t, gw, Options{PageSize: 3})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-deep"))
	require.NoError(t, env.mgr.Initialize(ctx))

	snap := env.mgr.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.True(t, snap.HasMore, "full first page implies there may be more")

	require.NoError(t, env.mgr.LoadMoreMessages(ctx))

	snap = env.mgr.Snapshot()
	require.Len(t, snap.Messages, 5)
	assert.Equal(t, "msg-3", snap.Messages[3].ID, "older page appended after existing messages")
	assert.False(t, snap.HasMore, "short page means history is exhausted")
}

func TestManager_LoadMoreMessages_NoCallWhenNoMore(t *testing.T) {
	gw := &mockGateway{firstPage: []provider.Message{assistantMsg("msg-1", "only one")}}
	env := newTestEnv(t, gw, Options{PageSize: 20})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-short"))
	require.NoError(t, env.mgr.Initialize(ctx))

	snap := env.mgr.Snapshot()
	assert.False(t, snap.HasMore)

	_, _, listsBefore := gw.counts()
	require.NoError(t, env.mgr.LoadMoreMessages(ctx))
	_, _, listsAfter := gw.counts()
	assert.Equal(t, listsBefore, listsAfter, "no gateway call when hasMore is false")
}

func TestManager_LoadMoreMessages_FailureKeepsExistingMessages(t *testing.T) {
	first := make([]provider.Message, 2)
	for i := range first {
		first[i] = assistantMsg(fmt.Sprintf("msg-%d", 5-i), "kept")
	}
	gw := &mockGateway{firstPage: first}
	env := newTestEnv(t, gw, Options{PageSize: 2})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-1"))
	require.NoError(t, env.mgr.Initialize(ctx))

	gw.mu.Lock()
	gw.listErr = syscall.ECONNRESET
	gw.mu.Unlock()

	err := env.mgr.LoadMoreMessages(ctx)
	require.Error(t, err)

	snap := env.mgr.Snapshot()
	assert.Len(t, snap.Messages, 2, "pagination failure must not roll back displayed messages")
}

func TestManager_ResetThread(t *testing.T) {
	gw := &mockGateway{firstPage: []provider.Message{assistantMsg("msg-1", "old history")}}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-old"))
	require.NoError(t, env.mgr.Initialize(ctx))
	require.NotEmpty(t, env.mgr.Snapshot().Messages)

	gw.mu.Lock()
	gw.firstPage = nil
	gw.mu.Unlock()

	require.NoError(t, env.mgr.ResetThread(ctx, ""))

	snap := env.mgr.Snapshot()
	assert.Equal(t, "thread-1", snap.ThreadID)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.HasMore)

	id, err := env.store.ThreadID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", id, "replacement id persisted")
}

func TestManager_ForceReset_CancelsLivePollAndKeepsQueue(t *testing.T) {
	gw := &mockGateway{statuses: []provider.Status{provider.StatusInProgress}}
	env := newTestEnv(t, gw, Options{WelcomeMessage: "Welcome back!"})
	ctx := context.Background()

	require.NoError(t, env.mgr.Initialize(ctx))

	// Seed the queue to prove force reset leaves it alone
	require.NoError(t, env.queue.Enqueue(ctx, store.QueuedMessage{
		ID: "q-keep", ThreadID: "thread-1", Content: "undelivered", Timestamp: time.Now(),
	}))

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- env.mgr.SendMessage(ctx, "stuck message")
	}()

	require.Eventually(t, func() bool {
		_, run, _ := gw.counts()
		return run == 1
	}, time.Second, time.Millisecond)
	// Give SendMessage a moment to register its poll handle
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, env.mgr.ForceReset(ctx))

	// The in-flight send unblocks with a cancellation, not a timeout
	err := <-sendDone
	require.Error(t, err)
	assert.ErrorIs(t, err, poller.ErrCancelled)

	snap := env.mgr.Snapshot()
	assert.Equal(t, "thread-2", snap.ThreadID)

	pending, qErr := env.queue.Pending(ctx)
	require.NoError(t, qErr)
	require.Len(t, pending, 1)
	assert.Equal(t, "q-keep", pending[0].ID, "force reset must not discard queued messages")
}

func TestManager_FirstPageServedFromCache(t *testing.T) {
	gw := &mockGateway{firstPage: []provider.Message{assistantMsg("msg-1", "cached")}}
	env := newTestEnv(t, gw, Options{})
	ctx := context.Background()

	require.NoError(t, env.store.SetThreadID(ctx, "thread-1"))
	require.NoError(t, env.mgr.Initialize(ctx))

	_, _, listsAfterInit := gw.counts()

	// A second refresh within the TTL is a cache hit
	require.NoError(t, env.mgr.refreshFirstPage(ctx))
	_, _, listsAfterRefresh := gw.counts()
	assert.Equal(t, listsAfterInit, listsAfterRefresh, "fresh first page must come from cache")
}
