// Package transport wraps single HTTP calls with retry on transient failure.
// It has no knowledge of idempotency; it only tries harder before giving up.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Defaults for Options fields left at zero.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 600 * time.Millisecond
	DefaultMaxJitter   = 200 * time.Millisecond
)

const maxMessageLen = 512

// Error is returned when a call fails with a non-transient status, or when
// attempts are exhausted. Status is 0 when no HTTP response was received.
type Error struct {
	Status     int
	RetryAfter time.Duration // server hint, zero when absent
	Attempts   int
	Message    string
	Err        error // underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
	case e.Message != "":
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("http %d", e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// IsTransient reports whether status is worth retrying automatically.
func IsTransient(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Options configures a Client.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a random duration in [0, max).
	Jitter func(max time.Duration) time.Duration
}

// Client performs HTTP calls with retry and backoff.
type Client struct {
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxJitter   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func(max time.Duration) time.Duration
}

// New creates a Client. A nil httpClient gets a 30s timeout client.
func New(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxJitter < 0 {
		opts.MaxJitter = 0
	} else if opts.MaxJitter == 0 {
		opts.MaxJitter = DefaultMaxJitter
	}
	if opts.Sleep == nil {
		opts.Sleep = waitWithContext
	}
	if opts.Jitter == nil {
		opts.Jitter = randomJitter
	}
	return &Client{
		http:        httpClient,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxJitter:   opts.MaxJitter,
		sleep:       opts.Sleep,
		jitter:      opts.Jitter,
	}
}

// Do sends the request produced by newRequest, rebuilding it for every
// attempt so request bodies can be replayed. A 2xx response is returned as
// soon as it arrives. Transient statuses and connection failures are
// retried with backoff up to the attempt cap; anything else is an *Error.
func (c *Client) Do(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	var last *Error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last = &Error{Attempts: attempt + 1, Err: err}
			if !c.retry(ctx, req, attempt, 0, last) {
				break
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			last = &Error{Status: resp.StatusCode, Attempts: attempt + 1, Err: readErr}
			if !c.retry(ctx, req, attempt, 0, last) {
				break
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		last = &Error{
			Status:     resp.StatusCode,
			RetryAfter: retryAfter,
			Attempts:   attempt + 1,
			Message:    errorMessage(body),
		}
		if !IsTransient(resp.StatusCode) {
			return nil, last
		}
		if !c.retry(ctx, req, attempt, retryAfter, last) {
			break
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, last
}

// retry waits before the next attempt. It returns false when no attempts
// remain or the wait was interrupted.
func (c *Client) retry(ctx context.Context, req *http.Request, attempt int, retryAfter time.Duration, cause *Error) bool {
	if attempt+1 >= c.maxAttempts {
		return false
	}
	delay := c.Delay(attempt, retryAfter)
	slog.Debug("retrying request",
		"component", "transport",
		"method", req.Method,
		"path", req.URL.Path,
		"attempt", attempt+1,
		"status", cause.Status,
		"delay_ms", delay.Milliseconds(),
	)
	return c.sleep(ctx, delay) == nil
}

// Delay returns the wait before retry number attempt (0-based): the server
// hint when present, otherwise baseDelay * 2^attempt plus random jitter.
func (c *Client) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := c.baseDelay << uint(attempt)
	if c.maxJitter > 0 {
		delay += c.jitter(c.maxJitter)
	}
	return delay
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// errorMessage extracts a human readable message from an error body.
// It understands RFC 7807 problem documents, {"error":{"message":...}}
// envelopes and flat {"message":...} objects, falling back to raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Detail  string          `json:"detail"`
		Title   string          `json:"title"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return truncate(payload.Detail)
		}
		if len(payload.Error) > 0 {
			var nested struct {
				Message json.RawMessage `json:"message"`
			}
			if json.Unmarshal(payload.Error, &nested) == nil && len(nested.Message) > 0 {
				var s string
				if json.Unmarshal(nested.Message, &s) == nil {
					return truncate(s)
				}
				var v struct {
					Value string `json:"value"`
				}
				if json.Unmarshal(nested.Message, &v) == nil && v.Value != "" {
					return truncate(v.Value)
				}
			}
			var s string
			if json.Unmarshal(payload.Error, &s) == nil && s != "" {
				return truncate(s)
			}
		}
		if payload.Message != "" {
			return truncate(payload.Message)
		}
		if payload.Title != "" {
			return truncate(payload.Title)
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

// truncate cuts s to at most maxMessageLen bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
