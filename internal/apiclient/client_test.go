// ABOUTME: Tests for the retrying HTTP client and typed endpoint wrappers.
// ABOUTME: Uses httptest servers scripted with canned status sequences.

package apiclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentapi-bridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        0, // deterministic and fast
	}
}

func TestDoRetriesTransientStatuses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"stable","agentType":"claude"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusStable, status.Status)
	assert.Equal(t, "claude", status.AgentType)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoTerminalStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	_, err := c.Status(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestDoExhaustedRetriesReturnTransientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	_, err := c.Status(context.Background())
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, transient.LastErr, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestDoSingleAttemptOption(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	retry := fastRetry()
	retry.InitialDelay = time.Second
	c := New(srv.URL, retry, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Status(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/message", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"content":"hello","type":"user"}`, string(body))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	resp, err := c.SendMessage(context.Background(), "hello", MessageTypeUser)
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		w.Write([]byte(`{"messages":[{"id":1,"role":"user","content":"hi"},{"id":2,"role":"agent","content":"hello"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	msgs, err := c.Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "agent", msgs[1].Role)
}

func TestOpenAPISchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openapi.json", r.URL.Path)
		w.Write([]byte(`{"openapi":"3.1.0"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	schema, err := c.OpenAPISchema(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"openapi":"3.1.0"}`, string(schema))
}

func TestScreen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/screen", r.URL.Path)
		w.Write([]byte(`{"screen":"$ waiting"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, fastRetry(), testLogger())

	screen, err := c.Screen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "$ waiting", screen)
}
