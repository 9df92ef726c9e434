// ABOUTME: Tests for health sub-checks and verdict aggregation.
// ABOUTME: Scripts httptest servers for reachable, broken, and odd-status agents.

package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentapi-bridge/internal/apiclient"
	"github.com/2389/agentapi-bridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(url string) *apiclient.Client {
	retry := config.RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1,
	}
	return apiclient.New(url, retry, testLogger())
}

func TestCheckAllHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"stable","agentType":"claude"}`))
	}))
	defer srv.Close()

	m := New(testClient(srv.URL), time.Minute, nil, testLogger())
	snap := m.Check(context.Background())

	assert.Equal(t, Healthy, snap.Overall)
	assert.Equal(t, Healthy, snap.API.Status)
	assert.Equal(t, Healthy, snap.Agent.Status)
	assert.Equal(t, Healthy, snap.Self.Status)
	assert.False(t, snap.CheckedAt.IsZero())
	assert.GreaterOrEqual(t, snap.Stats.Uptime, time.Duration(0))

	// Last returns the stored snapshot.
	assert.Equal(t, snap.Overall, m.Last().Overall)
}

func TestCheckUnreachableServerIsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	m := New(testClient(srv.URL), time.Minute, nil, testLogger())
	snap := m.Check(context.Background())

	assert.Equal(t, Unhealthy, snap.Overall)
	assert.Equal(t, Unhealthy, snap.API.Status)
	assert.NotEmpty(t, snap.API.Detail)
}

func TestCheckOddAgentStatusIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"rebooting"}`))
	}))
	defer srv.Close()

	m := New(testClient(srv.URL), time.Minute, nil, testLogger())
	snap := m.Check(context.Background())

	assert.Equal(t, Degraded, snap.Overall)
	assert.Equal(t, Unknown, snap.Agent.Status)
	assert.Equal(t, "rebooting", snap.Agent.RawStatus)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name             string
		api, agent, self Status
		want             Status
	}{
		{"all healthy", Healthy, Healthy, Healthy, Healthy},
		{"api down", Unhealthy, Healthy, Healthy, Unhealthy},
		{"agent down", Healthy, Unhealthy, Healthy, Unhealthy},
		{"agent unknown", Healthy, Unknown, Healthy, Degraded},
		{"self unknown", Healthy, Healthy, Unknown, Degraded},
		{"everything odd", Unknown, Unknown, Unknown, Degraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aggregate(tt.api, tt.agent, tt.self))
		})
	}
}

func TestGuardedRecoversPanic(t *testing.T) {
	check := guarded(func() Check { panic("probe exploded") })
	assert.Equal(t, Unknown, check.Status)
	assert.Contains(t, check.Detail, "probe exploded")
}

type memRecorder struct {
	mu    sync.Mutex
	snaps []string
}

func (r *memRecorder) RecordSnapshot(ctx context.Context, overall, api, agent, self string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, overall)
	return nil
}

func TestCheckRecordsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	rec := &memRecorder{}
	m := New(testClient(srv.URL), time.Minute, rec, testLogger())
	m.Check(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.snaps, 1)
	assert.Equal(t, "healthy", rec.snaps[0])
}
