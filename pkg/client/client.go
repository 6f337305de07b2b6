// Package client talks to a running synapse service over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultPort is the default service port.
	DefaultPort = 8000

	// HealthCheckTimeout bounds a single health check.
	HealthCheckTimeout = 1 * time.Second

	// StartupTimeout is how long WaitReady waits by default.
	StartupTimeout = 30 * time.Second

	// RequestTimeout bounds regular API calls.
	RequestTimeout = 10 * time.Second
)

// Port returns the service port from SYNAPSE_PORT or the default.
func Port() int {
	if port := os.Getenv("SYNAPSE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			return p
		}
	}
	return DefaultPort
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Body string
	Code int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("request failed: %d %s", e.Code, e.Body)
}

// Client is a small synapse API client.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:8000".
// A non-empty token is sent as a bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		http:    &http.Client{Timeout: RequestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// ForPort creates a client for a service on localhost.
func ForPort(port int, token string) *Client {
	return New(fmt.Sprintf("http://127.0.0.1:%d", port), token)
}

// Health fetches the liveness status. It succeeds while the service is still
// initializing; inspect Status for readiness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	var h Health
	if err := c.Get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// IsRunning reports whether the service answers and has finished initializing.
func (c *Client) IsRunning(ctx context.Context) bool {
	h, err := c.Health(ctx)
	return err == nil && h.Status == "ready"
}

// Version returns the running service version, or "" when unreachable.
func (c *Client) Version(ctx context.Context) string {
	h, err := c.Health(ctx)
	if err != nil {
		return ""
	}
	return h.Version
}

// WaitReady polls readiness with exponential backoff until it succeeds,
// the service reports an initialization failure, or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := 50 * time.Millisecond
	maxBackoff := 500 * time.Millisecond

	for {
		err := c.Get(ctx, "/api/ready", nil)
		if err == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusInternalServerError {
			return fmt.Errorf("service failed to initialize: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("service not ready within %s: %w", timeout, err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Get sends a GET request and decodes a JSON response into out (if non-nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes a JSON response into out (if non-nil).
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put sends body as JSON and decodes a JSON response into out (if non-nil).
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// VersionsCompatible reports whether two build versions share a release.
// "dev" matches anything; suffixes such as "-3-gabc123-dirty" are ignored.
func VersionsCompatible(v1, v2 string) bool {
	if v1 == "dev" || v2 == "dev" {
		return true
	}
	return baseVersion(v1) == baseVersion(v2)
}

// baseVersion strips a leading "v" and any suffix after the first hyphen.
func baseVersion(version string) string {
	v := strings.TrimPrefix(version, "v")
	if idx := strings.Index(v, "-"); idx > 0 {
		v = v[:idx]
	}
	return v
}
