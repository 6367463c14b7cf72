// cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/observability"
	"github.com/xkilldash9x/tracecheck/internal/reporting"
	"github.com/xkilldash9x/tracecheck/internal/store"
)

// storeProvider defines an interface for components that can open the run
// store. Tests inject an in-memory store through it.
type storeProvider interface {
	Create(ctx context.Context, cfg *config.Config) (store.Backend, error)
}

type defaultStoreProvider struct{}

func (defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	backend, err := store.Open(ctx, cfg.Store, observability.GetLogger())
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("no result store is configured (set store.backend or TRACECHECK_STORE_BACKEND)")
	}
	return backend, nil
}

type reportOptions struct {
	input  string
	runID  string
	list   int
	format string
	output string
}

func newReportCmd() *cobra.Command {
	return newReportCmdWithProvider(defaultStoreProvider{})
}

// newReportCmdWithProvider creates and configures the `report` command.
func newReportCmdWithProvider(provider storeProvider) *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a finished run in another format",
		Long: `Loads a run from a json or yaml report file (--input) or from the result
store (--run-id) and renders it. --list prints the most recent runs in the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, opts, provider, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Run report file written by evaluate --format json|yaml")
	f.StringVar(&opts.runID, "run-id", "", "Run id to load from the result store")
	f.IntVar(&opts.list, "list", 0, "List the N most recent runs in the result store")
	f.StringVarP(&opts.format, "format", "f", reporting.FormatTable, "Report format: table, json, yaml or csv")
	f.StringVarP(&opts.output, "output", "o", "", "Output path (default stdout)")
	cmd.MarkFlagsMutuallyExclusive("input", "run-id", "list")
	cmd.MarkFlagsOneRequired("input", "run-id", "list")
	return cmd
}

// runReport contains the core, testable logic for rendering a report.
func runReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts reportOptions, provider storeProvider, out io.Writer) error {
	if opts.input != "" {
		run, err := reporting.ReadRun(opts.input)
		if err != nil {
			return err
		}
		return writeRunReport(logger, run, opts.format, opts.output)
	}

	backend, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer backend.Close()

	if opts.list > 0 {
		runs, err := backend.ListRuns(ctx, opts.list)
		if err != nil {
			return err
		}
		printRuns(out, runs)
		return nil
	}

	run, err := backend.GetRun(ctx, opts.runID)
	if err != nil {
		return err
	}
	return writeRunReport(logger, run, opts.format, opts.output)
}

func printRuns(out io.Writer, runs []schemas.RunSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Run", "Agent", "Strategy", "Started", "Elapsed"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.RunID, r.Agent, r.Strategy, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)})
	}
	tw.Render()
}
