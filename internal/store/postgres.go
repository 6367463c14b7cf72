// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS eval_runs (
    run_id      UUID PRIMARY KEY,
    agent       TEXT NOT NULL,
    strategy    TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS episode_results (
    run_id        UUID NOT NULL REFERENCES eval_runs(run_id) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    episode       TEXT NOT NULL,
    category      TEXT NOT NULL,
    passed        BOOLEAN NOT NULL,
    reason        TEXT NOT NULL,
    detail        TEXT NOT NULL,
    aligned       INTEGER NOT NULL,
    required      INTEGER NOT NULL,
    match_indices JSONB NOT NULL,
    duration_ms   BIGINT NOT NULL,
    PRIMARY KEY (run_id, position)
);`

var resultColumns = []string{
	"run_id", "position", "episode", "category", "passed", "reason", "detail",
	"aligned", "required", "match_indices", "duration_ms",
}

// Postgres persists runs to PostgreSQL.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
	// release is set when the store owns its pool.
	release func()
}

// NewPostgres creates a new store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SaveRun writes the run header and all episode results in one transaction.
func (s *Postgres) SaveRun(ctx context.Context, run *schemas.RunSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO eval_runs (run_id, agent, strategy, started_at, finished_at) VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.Agent, string(run.Strategy), run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}

	if len(run.Results) > 0 {
		rows, err := resultRows(run)
		if err != nil {
			return err
		}
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"episode_results"}, resultColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy episode results: %w", err)
		}
		if int(copyCount) != len(run.Results) {
			return fmt.Errorf("mismatch in copied episode results count: expected %d, got %d", len(run.Results), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run saved", zap.String("run_id", run.RunID), zap.Int("results", len(run.Results)))
	return nil
}

func resultRows(run *schemas.RunSummary) ([][]any, error) {
	rows := make([][]any, len(run.Results))
	for i, r := range run.Results {
		indices, err := encodeIndices(r.MatchIndices)
		if err != nil {
			return nil, err
		}
		rows[i] = []any{
			run.RunID, i, r.Episode, string(r.Category), r.Passed, string(r.Reason), r.Detail,
			r.Aligned, r.Required, indices, r.Duration.Milliseconds(),
		}
	}
	return rows, nil
}

// GetRun loads a run and its results in their original order.
func (s *Postgres) GetRun(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	run := &schemas.RunSummary{RunID: runID}
	var strategy string
	err := s.pool.QueryRow(ctx,
		`SELECT agent, strategy, started_at, finished_at FROM eval_runs WHERE run_id = $1`, runID).
		Scan(&run.Agent, &strategy, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Strategy = schemas.StrategyName(strategy)

	rows, err := s.pool.Query(ctx, `
        SELECT episode, category, passed, reason, detail, aligned, required, match_indices, duration_ms
        FROM episode_results
        WHERE run_id = $1
        ORDER BY position ASC;
    `, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query episode results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                schemas.EpisodeResult
			category, reason string
			indices          []byte
			durationMillis   int64
		)
		if err := rows.Scan(&r.Episode, &category, &r.Passed, &reason, &r.Detail,
			&r.Aligned, &r.Required, &indices, &durationMillis); err != nil {
			return nil, fmt.Errorf("failed to scan episode result row: %w", err)
		}
		r.Category = schemas.TaskCategory(category)
		r.Reason = schemas.FailureReason(reason)
		r.Duration = time.Duration(durationMillis) * time.Millisecond
		if r.MatchIndices, err = decodeIndices(indices); err != nil {
			return nil, err
		}
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return run, nil
}

// ListRuns returns run headers, newest first, without their results.
func (s *Postgres) ListRuns(ctx context.Context, limit int) ([]schemas.RunSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, agent, strategy, started_at, finished_at FROM eval_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []schemas.RunSummary
	for rows.Next() {
		var run schemas.RunSummary
		var strategy string
		if err := rows.Scan(&run.RunID, &run.Agent, &strategy, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Strategy = schemas.StrategyName(strategy)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Close releases the pool if the store opened it.
func (s *Postgres) Close() error {
	if s.release != nil {
		s.release()
	}
	return nil
}

func encodeIndices(indices []int) ([]byte, error) {
	if indices == nil {
		indices = []int{}
	}
	b, err := json.Marshal(indices)
	if err != nil {
		return nil, fmt.Errorf("failed to encode match indices: %w", err)
	}
	return b, nil
}

func decodeIndices(b []byte) ([]int, error) {
	var out []int
	if len(b) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode match indices: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
