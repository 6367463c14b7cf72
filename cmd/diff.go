// cmd/diff.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/reporting"
	"github.com/xkilldash9x/tracecheck/internal/rundiff"
)

type diffOptions struct {
	fromStore        bool
	alignment        bool
	json             bool
	failOnRegression bool
}

func newDiffCmd() *cobra.Command {
	return newDiffCmdWithProvider(defaultStoreProvider{})
}

func newDiffCmdWithProvider(provider storeProvider) *cobra.Command {
	var opts diffOptions

	cmd := &cobra.Command{
		Use:   "diff BASE HEAD",
		Short: "List episodes whose verdict or failure reason changed between two runs",
		Long: `Compares two runs given as json or yaml report files, or as run ids with
--from-store, and lists regressions, fixes and changed failure reasons.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runDiff(ctx, cfg, args[0], args[1], opts, provider, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.fromStore, "from-store", false, "Treat BASE and HEAD as run ids in the result store")
	f.BoolVar(&opts.alignment, "alignment", false, "Also report passing episodes whose matched states moved")
	f.BoolVar(&opts.json, "json", false, "Print the comparison as JSON")
	f.BoolVar(&opts.failOnRegression, "fail-on-regression", false, "Exit with an error when any episode regressed")
	return cmd
}

// ErrRegression is returned by diff --fail-on-regression.
var ErrRegression = errors.New("episodes regressed")

func runDiff(ctx context.Context, cfg *config.Config, baseRef, headRef string, opts diffOptions, provider storeProvider, out io.Writer) error {
	base, head, err := loadRuns(ctx, cfg, baseRef, headRef, opts.fromStore, provider)
	if err != nil {
		return err
	}

	res := rundiff.Compare(base, head, rundiff.Options{CompareAlignment: opts.alignment})
	if opts.json {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode diff: %w", err)
		}
	} else {
		for _, c := range res.Changes {
			fmt.Fprintln(out, c.String())
		}
		fmt.Fprintf(out, "%d regressed, %d fixed, %d reason changed, %d added, %d removed, %d unchanged\n",
			res.Count(rundiff.Regressed), res.Count(rundiff.Fixed), res.Count(rundiff.ReasonChanged),
			res.Count(rundiff.Added), res.Count(rundiff.Removed), res.Unchanged)
	}

	if opts.failOnRegression {
		if n := res.Count(rundiff.Regressed); n > 0 {
			return fmt.Errorf("%w: %d", ErrRegression, n)
		}
	}
	return nil
}

func loadRuns(ctx context.Context, cfg *config.Config, baseRef, headRef string, fromStore bool, provider storeProvider) (*schemas.RunSummary, *schemas.RunSummary, error) {
	if !fromStore {
		base, err := reporting.ReadRun(baseRef)
		if err != nil {
			return nil, nil, err
		}
		head, err := reporting.ReadRun(headRef)
		if err != nil {
			return nil, nil, err
		}
		return base, head, nil
	}

	backend, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	defer backend.Close()
	base, err := backend.GetRun(ctx, baseRef)
	if err != nil {
		return nil, nil, err
	}
	head, err := backend.GetRun(ctx, headRef)
	if err != nil {
		return nil, nil, err
	}
	return base, head, nil
}
