// ABOUTME: Tests for the SQLite ledger.
// ABOUTME: Uses temp-dir databases; verifies ordering and schema bootstrap.

package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// Nested path exercises parent directory creation.
	path := filepath.Join(t.TempDir(), "data", "bridge.db")
	s, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, "claude", "unknown", "starting", "start"))
	require.NoError(t, s.RecordTransition(ctx, "claude", "starting", "running", "start"))
	require.NoError(t, s.RecordTransition(ctx, "goose", "unknown", "starting", "start"))

	got, err := s.RecentTransitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for _, tr := range got {
		assert.NotEmpty(t, tr.ID)
		assert.False(t, tr.CreatedAt.IsZero())
	}
}

func TestRecentTransitionsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordTransition(ctx, "claude", "running", "stopping", "stop"))
	}

	got, err := s.RecentTransitions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Non-positive limit falls back to the default window.
	got, err = s.RecentTransitions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestRecordAndListSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSnapshot(ctx, "healthy", "healthy", "healthy", "healthy"))
	require.NoError(t, s.RecordSnapshot(ctx, "degraded", "healthy", "unknown", "healthy"))

	got, err := s.RecentSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "degraded", got[0].Overall, "most recent first")
	assert.Equal(t, "unknown", got[0].Agent)
}

func TestEmptyLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	transitions, err := s.RecentTransitions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	snaps, err := s.RecentSnapshots(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
