// Package backend calls the edge functions of the Supabase-compatible
// service that performs web search, page extraction, chat and embeddings on
// the bridge's behalf.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Kakehashi/common/redact"
	"github.com/bdobrica/Kakehashi/common/retry"
	"github.com/bdobrica/Kakehashi/common/trace"
	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

const (
	defaultTimeout = 60 * time.Second
	// maxResponseBytes caps how much of a function response is read.
	maxResponseBytes = 16 << 20
	snippetBytes     = 200
)

// Config configures a Client.
type Config struct {
	// URL is the service base URL, e.g. https://xyz.supabase.co.
	URL string
	// Key is sent as both the bearer token and the apikey header.
	Key string
	// Timeout bounds each HTTP attempt. Defaults to 60s.
	Timeout time.Duration
	// Retry overrides retry.DefaultPolicy.
	Retry *retry.Policy
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client invokes named functions at <URL>/functions/v1/<name>.
type Client struct {
	base   string
	key    string
	policy retry.Policy
	http   *http.Client
}

// New returns a Client. URL and Key are required.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("backend: URL is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("backend: key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	policy := retry.DefaultPolicy
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/"),
		key:    cfg.Key,
		policy: policy,
		http:   hc,
	}, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Function string
	Status   int
	Snippet  string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("backend %s: HTTP %d", e.Function, e.Status)
	}
	return fmt.Sprintf("backend %s: HTTP %d: %s", e.Function, e.Status, e.Snippet)
}

// Invoke posts body as JSON to the named function and decodes the response
// into out (skipped when out is nil). Network errors, 429 and 5xx are
// retried. Errors are classified with tools.Backend.
func (c *Client) Invoke(ctx context.Context, function string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend %s: marshal request: %w", function, err)
	}
	err = retry.Do(ctx, c.policy, func() error {
		return c.post(ctx, function, payload, out)
	})
	return tools.Backend(err)
}

func (c *Client) post(ctx context.Context, function string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/functions/v1/"+function,
		bytes.NewReader(payload),
	)
	if err != nil {
		return retry.Permanent(fmt.Errorf("backend %s: create request: %w", function, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("apikey", c.key)
	if id := trace.ID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return fmt.Errorf("backend %s: %s", function, redact.String(err.Error(), c.key))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("backend %s: read response: %w", function, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{
			Function: function,
			Status:   resp.StatusCode,
			Snippet:  snippet(data, c.key),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return serr
		}
		return retry.Permanent(serr)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("backend %s: decode response: %w", function, err))
	}
	return nil
}

func snippet(data []byte, key string) string {
	s := strings.TrimSpace(redact.String(string(data), key))
	if len(s) > snippetBytes {
		s = redact.Truncate(s, snippetBytes)
	}
	return s
}
