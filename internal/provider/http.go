// ABOUTME: HTTP implementation of the provider Gateway against a REST assistant-run API.
// ABOUTME: Maps transport failures and upstream status codes to structured error kinds.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPGateway talks to a remote assistant-run API over REST.
type HTTPGateway struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// HTTPOptions configures an HTTPGateway.
type HTTPOptions struct {
	BaseURL string
	APIKey  string

	// RequestTimeout bounds each individual request. Zero selects a default
	// of 60 seconds; run-completion waiting is bounded separately by the poller.
	RequestTimeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// NewHTTPGateway creates a gateway for the assistant API at opts.BaseURL.
func NewHTTPGateway(opts HTTPOptions, logger *slog.Logger) *HTTPGateway {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.RequestTimeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &HTTPGateway{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		logger:     logger.With("component", "provider"),
	}
}

type threadResponse struct {
	ID string `json:"id"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

type wireMessage struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type listMessagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

// CreateThread creates a new empty thread and returns its id.
func (g *HTTPGateway) CreateThread(ctx context.Context) (string, error) {
	var resp threadResponse
	if err := g.doJSON(ctx, http.MethodPost, "/threads", nil, &resp); err != nil {
		return "", err
	}
	g.logger.Debug("thread created", "thread_id", resp.ID)
	return resp.ID, nil
}

// PostMessage appends a message to the thread.
func (g *HTTPGateway) PostMessage(ctx context.Context, threadID, content string, role Role) error {
	payload := map[string]string{
		"role":    string(role),
		"content": content,
	}
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	return g.doJSON(ctx, http.MethodPost, path, payload, nil)
}

// StartRun starts a run on the thread. The cancel_active flag instructs the
// upstream to cancel any non-terminal run on the same thread first, so two
// runs are never live concurrently.
func (g *HTTPGateway) StartRun(ctx context.Context, threadID string) (string, error) {
	payload := map[string]bool{"cancel_active": true}
	path := "/threads/" + url.PathEscape(threadID) + "/runs"

	var resp runResponse
	if err := g.doJSON(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return "", err
	}
	g.logger.Debug("run started", "thread_id", threadID, "run_id", resp.ID)
	return resp.ID, nil
}

// GetRunStatus fetches the current status of a run.
func (g *HTTPGateway) GetRunStatus(ctx context.Context, threadID, runID string) (Status, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)

	var resp runResponse
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// ListMessages fetches up to limit messages, newest first, optionally
// strictly before the message identified by beforeID.
func (g *HTTPGateway) ListMessages(ctx context.Context, threadID string, limit int, beforeID string) ([]Message, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages?limit=" + strconv.Itoa(limit)
	if beforeID != "" {
		path += "&before=" + url.QueryEscape(beforeID)
	}

	var resp listMessagesResponse
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, wm := range resp.Messages {
		messages = append(messages, Message{
			ID:        wm.ID,
			Role:      wm.Role,
			Content:   wm.Content,
			Timestamp: parseTimestamp(wm.CreatedAt),
		})
	}
	return messages, nil
}

// parseTimestamp normalizes a wire timestamp, falling back to now when the
// value is missing or malformed rather than failing the whole fetch.
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0)
	}
	return time.Now()
}

// doJSON performs a request and decodes the JSON response into out, if non-nil.
func (g *HTTPGateway) doJSON(ctx context.Context, method, path string, payload, out any) error {
	buf := &bytes.Buffer{}
	if payload != nil {
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Transport failure: keep the underlying error in the chain so
		// IsConnectivityError can classify it.
		return fmt.Errorf("%w: %s %s: %w", ErrProviderUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrThreadNotFound
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, resp.Status, data)
		}
		return fmt.Errorf("provider rejected request: %s: %s", resp.Status, data)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
