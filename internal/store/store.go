// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// Backend is a run result store.
type Backend interface {
	SaveRun(ctx context.Context, run *schemas.RunSummary) error
	GetRun(ctx context.Context, runID string) (*schemas.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]schemas.RunSummary, error)
	Close() error
}

// Open connects to the configured backend. It returns nil, nil when
// persistence is disabled.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", config.StoreNone:
		return nil, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		s.release = pool.Close
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.StoreSQLite:
		path, err := homedir.Expand(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to expand sqlite path %q: %w", cfg.DSN, err)
		}
		return OpenSQLite(path, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
