// ABOUTME: HTTP client for the Agent API with retry and exponential backoff.
// ABOUTME: Classifies failures as transient or terminal and retries only the former.

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/2389/agentapi-bridge/internal/config"
)

// APIError is a terminal HTTP failure: the server answered with a status
// that retrying will not fix.
type APIError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Endpoint, e.StatusCode)
}

// TransientError reports that every retry attempt failed with a retryable
// outcome. LastErr holds the failure from the final attempt.
type TransientError struct {
	Method   string
	Endpoint string
	Attempts int
	LastErr  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: gave up after %d attempts: %v", e.Method, e.Endpoint, e.Attempts, e.LastErr)
}

func (e *TransientError) Unwrap() error { return e.LastErr }

// retryableStatuses are the HTTP statuses worth retrying. Everything else
// that is not 2xx is terminal.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client talks to a single agentapi server. It is safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	retry   config.RetryConfig
	logger  *slog.Logger
}

// New creates a Client for the given base URL using the supplied retry
// policy.
func New(baseURL string, retry config.RetryConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		retry:   retry,
		logger:  logger,
	}
}

// BaseURL returns the server address this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// requestOptions carries per-call overrides.
type requestOptions struct {
	maxAttempts int
	header      http.Header
}

// Option adjusts a single request.
type Option func(*requestOptions)

// WithSingleAttempt disables retries for one call. Useful for liveness
// probes where staleness matters more than robustness.
func WithSingleAttempt() Option {
	return func(o *requestOptions) { o.maxAttempts = 1 }
}

// WithHeader adds a header to the request.
func WithHeader(key, value string) Option {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(key, value)
	}
}

// Do issues an HTTP request against endpoint, retrying transient failures
// with exponential backoff. On 2xx the response body is decoded into out
// when out is non-nil. Terminal failures return *APIError; exhausted
// retries return *TransientError.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any, opts ...Option) error {
	ro := requestOptions{maxAttempts: c.retry.MaxAttempts}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.maxAttempts < 1 {
		ro.maxAttempts = 1
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	delay := c.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= ro.maxAttempts; attempt++ {
		err := c.attempt(ctx, method, endpoint, payload, out, ro.header)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !retryableStatuses[apiErr.StatusCode] {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if attempt == ro.maxAttempts {
			break
		}

		wait := jitter(delay, c.retry.Jitter)
		c.logger.Debug("retrying request",
			"method", method,
			"endpoint", endpoint,
			"attempt", attempt,
			"delay", wait,
			"error", err,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
		if delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}

	if ro.maxAttempts == 1 {
		return lastErr
	}
	return &TransientError{Method: method, Endpoint: endpoint, Attempts: ro.maxAttempts, LastErr: lastErr}
}

// attempt performs one request/response cycle.
func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte, out any, header http.Header) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Endpoint:   endpoint,
			Body:       string(snippet),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// jitter spreads a backoff delay by ±fraction, with a floor of 100ms so
// concurrent clients never hammer the server in lockstep.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	wait := time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	if wait < 100*time.Millisecond {
		wait = 100 * time.Millisecond
	}
	return wait
}
