// internal/store/postgres_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlInsertRun = `INSERT INTO eval_runs (run_id, agent, strategy, started_at, finished_at) VALUES ($1, $2, $3, $4, $5)`
	sqlSelectRun = `SELECT agent, strategy, started_at, finished_at FROM eval_runs WHERE run_id = $1`
	sqlResults   = `SELECT episode, category, passed, reason, detail, aligned, required, match_indices, duration_ms FROM episode_results`
)

func sampleRun() *schemas.RunSummary {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &schemas.RunSummary{
		RunID:      uuid.NewString(),
		Agent:      "appagent",
		Strategy:   schemas.StrategyGreedy,
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
		Results: []schemas.EpisodeResult{
			{Episode: "ep-1", Category: schemas.CategoryGeneral, Passed: true, Aligned: 2, Required: 2, MatchIndices: []int{1, 3}, Duration: 1500 * time.Millisecond},
			{Episode: "ep-2", Category: schemas.CategoryInstall, Reason: schemas.ReasonExecutionNotFound, Detail: "trace not found: /runs/ep-2", Duration: 2 * time.Millisecond},
		},
	}
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := NewPostgres(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgres(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgres_Migrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS eval_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgres_SaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a run without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(run.RunID, "appagent", "greedy", run.StartedAt, run.FinishedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"episode_results"}, resultColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should store timestamps in UTC", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		run.StartedAt = run.StartedAt.In(loc)
		run.Results = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(run.RunID, "appagent", "greedy", run.StartedAt.UTC(), run.FinishedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail and roll back when CopyFrom fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()
		copyErr := errors.New("copy failed")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"episode_results"}, resultColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, run)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when fewer rows are copied", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"episode_results"}, resultColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, sampleRun())
		assert.ErrorContains(t, err, "mismatch in copied episode results count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return error when begin fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		beginErr := errors.New("too many connections")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		assert.ErrorIs(t, s.SaveRun(ctx, sampleRun()), beginErr)
	})
}

func TestPostgres_GetRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should load results in order", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		want := sampleRun()

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectRun)).
			WithArgs(want.RunID).
			WillReturnRows(pgxmock.NewRows([]string{"agent", "strategy", "started_at", "finished_at"}).
				AddRow("appagent", "greedy", want.StartedAt, want.FinishedAt))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlResults)).
			WithArgs(want.RunID).
			WillReturnRows(pgxmock.NewRows([]string{"episode", "category", "passed", "reason", "detail", "aligned", "required", "match_indices", "duration_ms"}).
				AddRow("ep-1", "general", true, "", "", 2, 2, []byte("[1,3]"), int64(1500)).
				AddRow("ep-2", "install", false, "EXECUTION_TRACE_NOT_FOUND", "trace not found: /runs/ep-2", 0, 0, []byte("[]"), int64(2)))

		got, err := s.GetRun(ctx, want.RunID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report unknown runs", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectRun)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.GetRun(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestPostgres_ListRuns(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	run := sampleRun()

	mockPool.ExpectQuery("SELECT run_id, agent, strategy, started_at, finished_at FROM eval_runs").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "agent", "strategy", "started_at", "finished_at"}).
			AddRow(run.RunID, run.Agent, "lcs", run.StartedAt, run.FinishedAt))

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, schemas.StrategyLCS, runs[0].Strategy)
	assert.Empty(t, runs[0].Results)
}
