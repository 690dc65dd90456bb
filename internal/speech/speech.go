// ABOUTME: Text-to-speech client with a capacity-bounded audio cache.
// ABOUTME: Synthesized audio for identical text/voice/rate/pitch never goes stale, so the cache has no TTL.

package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tzironis/qualia/internal/cache"
)

// Request describes one synthesis call. The full tuple is the cache key:
// the same text at a different rate or pitch is different audio.
type Request struct {
	Text  string
	Voice string
	Rate  float64
	Pitch float64
}

func (r Request) cacheKey() string {
	return fmt.Sprintf("%s|%s|%.2f|%.2f", r.Text, r.Voice, r.Rate, r.Pitch)
}

// Config configures the speech client.
type Config struct {
	BaseURL string
	APIKey  string

	CacheSize int // default 50, eviction is purely capacity-based

	HTTPClient *http.Client
}

// Client synthesizes speech audio through an upstream TTS API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      *cache.Cache[[]byte]
	logger     *slog.Logger
}

// New creates a speech client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 50
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		cache:      cache.New[[]byte](cfg.CacheSize, 0),
		logger:     logger.With("component", "speech"),
	}
}

// Close releases the audio cache.
func (c *Client) Close() {
	c.cache.Close()
}

// Synthesize returns audio bytes for the request, serving repeats from cache.
func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if req.Voice == "" {
		req.Voice = "en-US-JennyNeural"
	}
	if req.Rate == 0 {
		req.Rate = 1
	}
	if req.Pitch == 0 {
		req.Pitch = 1
	}

	key := req.cacheKey()
	if audio, ok := c.cache.Get(key); ok {
		c.logger.Debug("audio cache hit", "voice", req.Voice, "chars", len(req.Text))
		return audio, nil
	}

	audio, err := c.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, audio)
	return audio, nil
}

func (c *Client) fetch(ctx context.Context, req Request) ([]byte, error) {
	ssml := buildSSML(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech API error: %s: %s", resp.Status, data)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return audio, nil
}

// buildSSML wraps the text in a minimal SSML document with prosody controls.
func buildSSML(req Request) string {
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US">`)
	fmt.Fprintf(&b, `<voice name=%q><prosody rate=%q pitch=%q>`,
		req.Voice, fmt.Sprintf("%g", req.Rate), fmt.Sprintf("%g", req.Pitch))
	b.WriteString(escapeText(req.Text))
	b.WriteString(`</prosody></voice></speak>`)
	return b.String()
}

func escapeText(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}
