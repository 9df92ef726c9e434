// ABOUTME: Tests for bridge wiring and the run/shutdown cycle.

package bridge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentapi-bridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		w.Write([]byte(`{"status":"stable","agentType":"claude"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.AgentAPIURL = url
	cfg.Agent.StopGrace = time.Second
	cfg.Health.Interval = 50 * time.Millisecond
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "bridge.db")
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	srv := stubServer(t)
	b, err := New(testConfig(t, srv.URL), testLogger())
	require.NoError(t, err)
	defer b.Ledger().Close()

	assert.NotNil(t, b.Manager())
	assert.NotNil(t, b.Monitor())
	assert.NotNil(t, b.Client())
	assert.NotNil(t, b.Ledger())
}

func TestNewWithoutLedger(t *testing.T) {
	srv := stubServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.Ledger.Path = ""

	b, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, b.Ledger())
}

func TestRunAndShutdown(t *testing.T) {
	srv := stubServer(t)
	cfg := testConfig(t, srv.URL)

	b, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// Let the monitors take at least one health sample.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not shut down")
	}

	// Health ran against the stub server.
	assert.NotZero(t, b.Monitor().Last().CheckedAt)
}
