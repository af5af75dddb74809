// Package httpengine implements engine.Engine against a librarian query
// server speaking JSON over HTTP.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"librarian/internal/engine"
	reviewerrors "librarian/internal/errors"
)

const (
	// DefaultMaxBodySize caps decoded response bodies.
	DefaultMaxBodySize = 8 << 20
	// DefaultMaxRetries is the number of retries on transport and 5xx errors.
	DefaultMaxRetries = 2
	// DefaultRetryBaseDelay is the first backoff delay.
	DefaultRetryBaseDelay = 200 * time.Millisecond

	shutdownTimeout = 5 * time.Second
)

// Config configures the HTTP engine.
type Config struct {
	URL               string        `json:"url" mapstructure:"url"`
	Token             string        `json:"token,omitempty" mapstructure:"token"`
	RequestsPerSecond float64       `json:"requestsPerSecond" mapstructure:"requestsPerSecond"`
	Burst             int           `json:"burst" mapstructure:"burst"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `json:"maxRetries" mapstructure:"maxRetries"`
}

// Client talks to one query server on behalf of one repository.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	repoRoot string
	session  string
	closed   bool
}

// New creates a client. limiter may be shared across clients so that
// parallel repositories respect one request budget; nil builds one from cfg.
func New(cfg Config, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = NewLimiter(cfg)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// NewLimiter builds the request limiter described by cfg. A non-positive
// rate means unlimited.
func NewLimiter(cfg Config) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Factory returns an engine.Factory whose clients share one limiter.
func Factory(cfg Config, logger *slog.Logger) engine.Factory {
	limiter := NewLimiter(cfg)
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(repo string) (engine.Engine, error) {
		if cfg.URL == "" {
			return nil, reviewerrors.New(reviewerrors.InitializationFailed, "no engine url configured", nil)
		}
		return New(cfg, limiter, logger.With("repo", repo)), nil
	}
}

type initializeRequest struct {
	RepoRoot string `json:"repoRoot"`
}

type initializeResponse struct {
	Ready   bool   `json:"ready"`
	Session string `json:"session,omitempty"`
}

type queryRequest struct {
	Session       string `json:"session,omitempty"`
	RepoRoot      string `json:"repoRoot"`
	Intent        string `json:"intent"`
	Deterministic bool   `json:"deterministic"`
}

// errorResponse is the error body returned by the server.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Initialize asks the server to prepare repoRoot and confirms readiness.
func (c *Client) Initialize(ctx context.Context, repoRoot string) error {
	var resp initializeResponse
	if err := c.post(ctx, "/v1/initialize", initializeRequest{RepoRoot: repoRoot}, &resp); err != nil {
		return err
	}
	if !resp.Ready {
		return reviewerrors.New(reviewerrors.InitializationFailed, "engine reported not ready", nil)
	}

	c.mu.Lock()
	c.repoRoot = repoRoot
	c.session = resp.Session
	c.mu.Unlock()
	return nil
}

// Query runs req against the initialized repository.
func (c *Client) Query(ctx context.Context, req engine.Request) (*engine.Response, error) {
	c.mu.Lock()
	body := queryRequest{
		Session:       c.session,
		RepoRoot:      c.repoRoot,
		Intent:        req.Intent,
		Deterministic: req.Deterministic,
	}
	c.mu.Unlock()

	var resp engine.Response
	if err := c.post(ctx, "/v1/query", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Shutdown notifies the server once. Errors are logged, not returned.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	session := c.session
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.post(ctx, "/v1/shutdown", map[string]string{"session": session}, nil); err != nil {
		c.logger.Debug("Engine shutdown failed", "error", err.Error())
	}
}

// post sends body as JSON and decodes a successful response into out.
// Transport errors and 5xx responses are retried with exponential backoff.
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := DefaultRetryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug("Retrying engine request", "path", path, "attempt", attempt+1)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "librarian-review/1.0")
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = reviewerrors.New(reviewerrors.ProviderUnavailable, "engine request failed", err)
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBodySize))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = parseError(resp.StatusCode, data)
			continue
		}
		if resp.StatusCode >= 400 {
			return parseError(resp.StatusCode, data)
		}

		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return reviewerrors.New(reviewerrors.QueryFailed, "failed to decode engine response", err)
		}
		return nil
	}

	return lastErr
}

// parseError maps a server error body onto a ReviewError. Known codes keep
// their identity so the fail-fast classifier sees them.
func parseError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return reviewerrors.New(reviewerrors.QueryFailed, fmt.Sprintf("engine returned %d: %s", status, msg), nil)
	}

	code := reviewerrors.ErrorCode(er.Code)
	switch code {
	case reviewerrors.ProviderUnavailable, reviewerrors.ModelPolicyUnavailable,
		reviewerrors.InitializationFailed, reviewerrors.QueryTimeout:
	default:
		code = reviewerrors.QueryFailed
	}
	msg := er.Message
	if msg == "" {
		msg = er.Code
	}
	return reviewerrors.New(code, msg, nil).WithDetails(map[string]interface{}{"status": status, "code": er.Code})
}
