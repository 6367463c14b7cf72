// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS eval_runs (
	run_id      TEXT PRIMARY KEY,
	agent       TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS episode_results (
	run_id        TEXT NOT NULL,
	position      INTEGER NOT NULL,
	episode       TEXT NOT NULL,
	category      TEXT NOT NULL,
	passed        INTEGER NOT NULL,
	reason        TEXT NOT NULL,
	detail        TEXT NOT NULL,
	aligned       INTEGER NOT NULL,
	required      INTEGER NOT NULL,
	match_indices TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL,
	PRIMARY KEY (run_id, position),
	FOREIGN KEY (run_id) REFERENCES eval_runs(run_id) ON DELETE CASCADE
);
`

// SQLite persists runs to a local SQLite database.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db, log: logger.Named("store")}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun writes the run header and all episode results in one transaction.
func (s *SQLite) SaveRun(ctx context.Context, run *schemas.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO eval_runs (run_id, agent, strategy, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Agent, string(run.Strategy),
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO episode_results (run_id, position, episode, category, passed, reason, detail,
			aligned, required, match_indices, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	rows, err := resultRows(run)
	if err != nil {
		return err
	}
	for i, row := range rows {
		// JSON text rather than the raw bytes pgx copies into JSONB.
		row[9] = string(row[9].([]byte))
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert result for episode %s: %w", run.Results[i].Episode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run saved", zap.String("run_id", run.RunID), zap.Int("results", len(run.Results)))
	return nil
}

// GetRun loads a run and its results in their original order.
func (s *SQLite) GetRun(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	run := &schemas.RunSummary{RunID: runID}
	var strategy, started, finished string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent, strategy, started_at, finished_at FROM eval_runs WHERE run_id = ?`, runID).
		Scan(&run.Agent, &strategy, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Strategy = schemas.StrategyName(strategy)
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", started, err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("invalid finished_at %q: %w", finished, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT episode, category, passed, reason, detail, aligned, required, match_indices, duration_ms
		FROM episode_results
		WHERE run_id = ?
		ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query episode results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                schemas.EpisodeResult
			category, reason string
			indices          string
			durationMillis   int64
		)
		if err := rows.Scan(&r.Episode, &category, &r.Passed, &reason, &r.Detail,
			&r.Aligned, &r.Required, &indices, &durationMillis); err != nil {
			return nil, fmt.Errorf("failed to scan episode result row: %w", err)
		}
		r.Category = schemas.TaskCategory(category)
		r.Reason = schemas.FailureReason(reason)
		r.Duration = time.Duration(durationMillis) * time.Millisecond
		if r.MatchIndices, err = decodeIndices([]byte(indices)); err != nil {
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
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]schemas.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, agent, strategy, started_at, finished_at FROM eval_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []schemas.RunSummary
	for rows.Next() {
		var (
			run                       schemas.RunSummary
			strategy, started, finish string
		)
		if err := rows.Scan(&run.RunID, &run.Agent, &strategy, &started, &finish); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Strategy = schemas.StrategyName(strategy)
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finish)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
