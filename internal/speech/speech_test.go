// ABOUTME: Tests for the text-to-speech client and its audio cache.
// ABOUTME: Validates the composite cache key and that identical requests never refetch.

package speech

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSpeechServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("AUDIO:" + string(body[:min(16, len(body))])))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, calls *atomic.Int64) *Client {
	t.Helper()
	srv := newSpeechServer(t, calls)
	c := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()}, testLogger())
	t.Cleanup(c.Close)
	return c
}

func TestClient_Synthesize(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, &calls)

	audio, err := c.Synthesize(context.Background(), Request{Text: "hello there"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(audio), "AUDIO:"))
	assert.Equal(t, int64(1), calls.Load())
}

func TestClient_Synthesize_CacheHit(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, &calls)
	ctx := context.Background()

	req := Request{Text: "hello", Voice: "en-US-JennyNeural", Rate: 1, Pitch: 1}
	first, err := c.Synthesize(ctx, req)
	require.NoError(t, err)
	second, err := c.Synthesize(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load(), "identical request must be served from cache")
}

func TestClient_Synthesize_DifferentProsodyIsNotCached(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, &calls)
	ctx := context.Background()

	_, err := c.Synthesize(ctx, Request{Text: "hello", Rate: 1})
	require.NoError(t, err)
	_, err = c.Synthesize(ctx, Request{Text: "hello", Rate: 1.5})
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load(), "same text at a different rate is different audio")
}

func TestClient_Synthesize_EmptyText(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t, &calls)

	_, err := c.Synthesize(context.Background(), Request{})
	assert.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestBuildSSML_EscapesText(t *testing.T) {
	ssml := buildSSML(Request{Text: "a < b & c", Voice: "v", Rate: 1, Pitch: 1})
	assert.Contains(t, ssml, "a &lt; b &amp; c")
	assert.NotContains(t, ssml, "a < b")
}
