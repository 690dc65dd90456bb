// ABOUTME: Web search client against a custom-search API with a bounded result cache.
// ABOUTME: Falls back to deterministic stub results when no API credentials are configured.

package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tzironis/qualia/internal/cache"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Options tunes a single search request.
type Options struct {
	Num      int    // number of results, 1-10, default 10
	Start    int    // pagination start index, default 1
	Language string // language restriction, e.g. "lang_el", empty for none
}

// Config configures the search client.
type Config struct {
	BaseURL  string // search API endpoint
	APIKey   string
	EngineID string

	CacheSize int           // default 20
	CacheTTL  time.Duration // default 10 minutes

	HTTPClient *http.Client
}

// Client performs web searches, caching result pages by query and pagination
// parameters so repeated identical searches never hit the upstream twice
// within the TTL.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	engineID   string
	cache      *cache.Cache[[]Result]
	logger     *slog.Logger
}

// New creates a search client. With no API key configured the client serves
// stub results so the rest of the assistant keeps working in development.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 20
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: client,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		engineID:   cfg.EngineID,
		cache:      cache.New[[]Result](cfg.CacheSize, cfg.CacheTTL),
		logger:     logger.With("component", "websearch"),
	}
}

// Close releases the result cache.
func (c *Client) Close() {
	c.cache.Close()
}

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search returns results for query, serving repeats from the cache.
func (c *Client) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if opts.Num <= 0 {
		opts.Num = 10
	}
	if opts.Start <= 0 {
		opts.Start = 1
	}

	key := cacheKey(query, opts)
	if results, ok := c.cache.Get(key); ok {
		c.logger.Debug("search cache hit", "query", query)
		return results, nil
	}

	if c.apiKey == "" || c.engineID == "" {
		results := fallbackResults(query)
		c.cache.Put(key, results)
		return results, nil
	}

	results, err := c.fetch(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, results)
	return results, nil
}

func (c *Client) fetch(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(opts.Num))
	params.Set("start", strconv.Itoa(opts.Start))
	if opts.Language != "" {
		params.Set("lr", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search API error: %s: %s", resp.Status, data)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		results = append(results, Result{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}

// cacheKey is a composite of the query and pagination parameters, so distinct
// pages of the same query cache independently.
func cacheKey(query string, opts Options) string {
	return fmt.Sprintf("%s|%d|%d|%s", query, opts.Num, opts.Start, opts.Language)
}

// fallbackResults produces deterministic placeholder hits for development
// environments without search credentials.
func fallbackResults(query string) []Result {
	return []Result{
		{
			Title:   "Search unavailable: " + query,
			Link:    "https://example.com/search?q=" + url.QueryEscape(query),
			Snippet: "Search API credentials are not configured. This is a placeholder result.",
		},
	}
}
