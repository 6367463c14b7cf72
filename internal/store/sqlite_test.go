// internal/store/sqlite_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
)

func TestSQLite_RoundTrip(t *testing.T) {
	s, err := OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	want := sampleRun()
	require.NoError(t, s.SaveRun(ctx, want))

	got, err := s.GetRun(ctx, want.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetRun() mismatch (-want +got):\n%s", diff)
	}

	err = s.SaveRun(ctx, want)
	assert.Error(t, err, "run ids are unique")

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	s, err := OpenSQLite(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	older, newer := sampleRun(), sampleRun()
	newer.StartedAt = older.StartedAt.Add(time.Hour)
	require.NoError(t, s.SaveRun(ctx, older))
	require.NoError(t, s.SaveRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)
	assert.Equal(t, older.RunID, runs[1].RunID)
	assert.True(t, runs[1].StartedAt.Equal(older.StartedAt))

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	b, err := Open(ctx, config.StoreConfig{Backend: config.StoreNone}, logger)
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = Open(ctx, config.StoreConfig{Backend: "mongodb"}, logger)
	assert.ErrorContains(t, err, "unsupported store backend")

	path := filepath.Join(t.TempDir(), "nested", "results.db")
	b, err = Open(ctx, config.StoreConfig{Backend: config.StoreSQLite, DSN: path}, logger)
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, b)
	require.NoError(t, b.SaveRun(ctx, &schemas.RunSummary{RunID: "r1", Strategy: schemas.StrategyGreedy}))
	require.NoError(t, b.Close())

	// Reopening sees the persisted run.
	b, err = Open(ctx, config.StoreConfig{Backend: config.StoreSQLite, DSN: path}, logger)
	require.NoError(t, err)
	defer b.Close()
	run, err := b.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, run.Results)
}
