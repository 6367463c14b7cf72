// cmd/evaluate.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/checkpoint"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/evaluator"
	"github.com/xkilldash9x/tracecheck/internal/metadata"
	"github.com/xkilldash9x/tracecheck/internal/observability"
	"github.com/xkilldash9x/tracecheck/internal/reporting"
	"github.com/xkilldash9x/tracecheck/internal/scorecache"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
	"github.com/xkilldash9x/tracecheck/internal/store"
	"github.com/xkilldash9x/tracecheck/internal/trace"
)

// evaluateOptions holds the per-invocation settings that are not part of the
// persistent configuration.
type evaluateOptions struct {
	categories  []string
	episodes    []string
	firstN      int
	format      string
	output      string
	dumpStats   bool
	statsStdout bool
}

func newEvaluateCmd() *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate agent execution traces against the ground-truth dataset",
		Long: `Loads the episode metadata table, evaluates every selected episode's execution
trace against its annotated ground truth, and writes a run report.

Selection priority is --categories, then --episodes, then --first-n.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			_, err = runEvaluate(ctx, observability.GetLogger(), cfg, opts)
			return err
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.categories, "categories", nil, "Evaluate only these task categories (general, googleapps, install, webshopping, generated)")
	f.StringSliceVar(&opts.episodes, "episodes", nil, "Evaluate only these episode ids")
	f.IntVar(&opts.firstN, "first-n", 0, "Evaluate only the first N episodes of the metadata table")
	f.StringVarP(&opts.format, "format", "f", reporting.FormatTable, "Report format: table, json, yaml or csv")
	f.StringVarP(&opts.output, "output", "o", "", "Report output path (default stdout)")
	f.BoolVar(&opts.dumpStats, "dump-stats", true, "Write the episode,success,reason stats file to the stats directory")
	f.BoolVar(&opts.statsStdout, "stats-stdout", false, "Print the stats dump to stdout instead of a file")

	f.String("strategy", "", "Alignment strategy: greedy or lcs")
	f.Int("workers", 0, "Number of episodes evaluated concurrently")
	f.Duration("timeout", 0, "Per-episode evaluation timeout")
	f.String("agent", "", "Agent name recorded in the run and the stats file name")
	f.String("groundtruth", "", "Ground-truth dataset root")
	f.String("metadata", "", "Episode metadata CSV")
	f.String("executions", "", "Agent execution traces root")
	f.String("stats-dir", "", "Directory for stats dumps")
	f.String("store", "", "Result store backend: none, postgres or sqlite")
	f.String("dsn", "", "Result store DSN or SQLite path")

	bindFlag(cmd, "strategy", "evaluator.strategy")
	bindFlag(cmd, "workers", "evaluator.workers")
	bindFlag(cmd, "timeout", "evaluator.episode_timeout")
	bindFlag(cmd, "agent", "evaluator.agent")
	bindFlag(cmd, "stats-dir", "evaluator.stats_dir")
	bindFlag(cmd, "groundtruth", "dataset.groundtruth_root")
	bindFlag(cmd, "metadata", "dataset.metadata_file")
	bindFlag(cmd, "executions", "dataset.execution_root")
	bindFlag(cmd, "store", "store.backend")
	bindFlag(cmd, "dsn", "store.dsn")

	return cmd
}

// runEvaluate wires the evaluation pipeline from configuration and runs it.
// The run is returned even when it was canceled part way.
func runEvaluate(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts evaluateOptions) (*schemas.RunSummary, error) {
	sel, err := selection(opts)
	if err != nil {
		return nil, err
	}

	repo, err := metadata.LoadCSV(cfg.Dataset.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load episode metadata: %w", err)
	}

	loader := trace.NewLoader(logger, checkpoint.NewExtractor(logger))
	source, err := trace.NewDatasetSource(loader, cfg.Dataset.GroundTruthRoot, cfg.Dataset.ExecutionRoot)
	if err != nil {
		return nil, err
	}

	var cache similarity.ScoreStore
	if cfg.Scorer.CachePath != "" {
		bolt, err := scorecache.Open(cfg.Scorer.CachePath)
		if err != nil {
			return nil, err
		}
		defer bolt.Close()
		cache = bolt
	}
	scorer, err := similarity.NewScorer(ctx, cfg.Scorer, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize similarity scorer: %w", err)
	}

	var evalOpts []evaluator.Option
	backend, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if backend != nil {
		defer func() {
			if err := backend.Close(); err != nil {
				logger.Warn("Failed to close store cleanly.", zap.Error(err))
			}
		}()
		evalOpts = append(evalOpts, evaluator.WithStore(backend))
	}

	ev, err := evaluator.New(cfg, logger, repo, source, scorer, evalOpts...)
	if err != nil {
		return nil, err
	}

	run, runErr := ev.Run(ctx, sel)
	if run == nil {
		return nil, runErr
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("Evaluation aborted; reporting partial results.", zap.String("run_id", run.RunID))
	}

	if err := writeRunReport(logger, run, opts.format, opts.output); err != nil {
		return run, err
	}
	if err := dumpStats(logger, cfg, run, opts); err != nil {
		return run, err
	}

	stats := run.Stats()
	logger.Info("Evaluation complete",
		zap.String("run_id", run.RunID),
		zap.Int("completed", stats.Passed),
		zap.Int("failed", stats.Failed))
	return run, runErr
}

func selection(opts evaluateOptions) (evaluator.Selection, error) {
	sel := evaluator.Selection{Episodes: opts.episodes, FirstN: opts.firstN}
	for _, c := range opts.categories {
		category, err := schemas.ParseTaskCategory(c)
		if err != nil {
			return sel, err
		}
		sel.Categories = append(sel.Categories, category)
	}
	if sel.FirstN < 0 {
		return sel, fmt.Errorf("--first-n must not be negative")
	}
	return sel, nil
}

func writeRunReport(logger *zap.Logger, run *schemas.RunSummary, format, outputPath string) error {
	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
		}
	}()

	if err := reporter.Write(run); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if outputPath != "" && outputPath != "stdout" {
		logger.Info("Report successfully written to file", zap.String("path", outputPath))
	}
	return nil
}

func dumpStats(logger *zap.Logger, cfg *config.Config, run *schemas.RunSummary, opts evaluateOptions) error {
	switch {
	case opts.statsStdout:
		return writeRunReport(logger, run, reporting.FormatCSV, "stdout")
	case opts.dumpStats:
		path := reporting.StatsPath(cfg.Evaluator.StatsDir, run.Strategy, run.Agent, run.StartedAt.Local())
		if err := writeRunReport(logger, run, reporting.FormatCSV, path); err != nil {
			return err
		}
		logger.Info("Evaluation results were dumped to file", zap.String("path", path))
	}
	return nil
}
