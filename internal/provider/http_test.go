// ABOUTME: Tests for the HTTP gateway and its error classification.
// ABOUTME: Uses httptest servers to exercise status mapping, pagination params, and timestamp fallback.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*HTTPGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw := NewHTTPGateway(HTTPOptions{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		HTTPClient: srv.Client(),
	}, testLogger())
	return gw, srv
}

func TestHTTPGateway_CreateThread(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"id": "thread-123"})
	})

	id, err := gw.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread-123", id)
}

func TestHTTPGateway_PostMessage(t *testing.T) {
	var got map[string]string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread-1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := gw.PostMessage(context.Background(), "thread-1", "hello", RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, "user", got["role"])
}

func TestHTTPGateway_StartRun_RequestsActiveCancellation(t *testing.T) {
	var got map[string]bool
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread-1/runs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"id": "run-1", "status": "queued"})
	})

	runID, err := gw.StartRun(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.True(t, got["cancel_active"], "new run must cancel any active run on the thread")
}

func TestHTTPGateway_GetRunStatus(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/threads/thread-1/runs/run-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "run-1", "status": "in_progress"})
	})

	status, err := gw.GetRunStatus(context.Background(), "thread-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)
	assert.False(t, status.Terminal())
}

func TestHTTPGateway_ListMessages_Pagination(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "msg-5", r.URL.Query().Get("before"))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{
				{"id": "msg-4", "role": "assistant", "content": "reply", "created_at": "2025-03-01T10:00:00Z"},
				{"id": "msg-3", "role": "user", "content": "question", "created_at": "2025-03-01T09:59:00Z"},
			},
		})
	})

	messages, err := gw.ListMessages(context.Background(), "thread-1", 20, "msg-5")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "msg-4", messages[0].ID)
	assert.Equal(t, RoleAssistant, messages[0].Role)
	assert.Equal(t, 2025, messages[0].Timestamp.Year())
}

func TestHTTPGateway_ListMessages_InvalidTimestampFallsBackToNow(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{
				{"id": "msg-1", "role": "assistant", "content": "x", "created_at": "not-a-time"},
				{"id": "msg-0", "role": "user", "content": "y"},
			},
		})
	})

	before := time.Now()
	messages, err := gw.ListMessages(context.Background(), "thread-1", 20, "")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	for _, m := range messages {
		assert.False(t, m.Timestamp.Before(before), "bad timestamps normalize to now, never zero")
	}
}

func TestHTTPGateway_NotFoundMapsToErrThreadNotFound(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such thread", http.StatusNotFound)
	})

	_, err := gw.ListMessages(context.Background(), "gone", 20, "")
	assert.ErrorIs(t, err, ErrThreadNotFound)
	assert.False(t, IsConnectivityError(err), "not-found must never be queue-eligible")
}

func TestHTTPGateway_ServerErrorMapsToUnavailable(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := gw.CreateThread(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestHTTPGateway_ConnectionRefusedIsConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	gw := NewHTTPGateway(HTTPOptions{BaseURL: url}, testLogger())

	err := gw.PostMessage(context.Background(), "thread-1", "hello", RoleUser)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.True(t, IsConnectivityError(err))
}

func TestIsConnectivityError_NilAndNotFound(t *testing.T) {
	assert.False(t, IsConnectivityError(nil))
	assert.False(t, IsConnectivityError(ErrThreadNotFound))
	assert.False(t, IsConnectivityError(errors.New("provider rejected request")))
	assert.True(t, IsConnectivityError(context.DeadlineExceeded))
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusExpired.Terminal())

	assert.True(t, StatusCompleted.Succeeded())
	assert.False(t, StatusFailed.Succeeded())
}
