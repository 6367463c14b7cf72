// cmd/checkpoints.go
package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/checkpoint"
	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
	"github.com/xkilldash9x/tracecheck/internal/observability"
	"github.com/xkilldash9x/tracecheck/internal/trace"
)

type checkpointsOptions struct {
	json     bool
	validate bool
}

func newCheckpointsCmd() *cobra.Command {
	var opts checkpointsOptions

	cmd := &cobra.Command{
		Use:   "checkpoints DIR",
		Short: "Print the checkpoints annotated in a ground-truth episode directory",
		Long: `Extracts every annotation in DIR and prints it in annotation syntax, one
state per line. With --validate the whole ground-truth trace is loaded and
every annotated state's hierarchy and sidecar are checked as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoints(cmd, observability.GetLogger(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print checkpoints as JSON")
	cmd.Flags().BoolVar(&opts.validate, "validate", false, "Load the full trace and check annotated artifacts")
	return cmd
}

func runCheckpoints(cmd *cobra.Command, logger *zap.Logger, dir string, opts checkpointsOptions) error {
	out := cmd.OutOrStdout()
	extractor := checkpoint.NewExtractor(logger)
	annotations, err := extractor.ExtractDir(dir)
	if err != nil {
		return err
	}

	if opts.json {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(annotations); err != nil {
			return fmt.Errorf("failed to encode checkpoints: %w", err)
		}
	} else {
		for _, a := range annotations {
			fmt.Fprintf(out, "%d\t%s\n", a.StateIndex, checkpoint.Serialize(a.Checkpoints))
		}
	}

	if !opts.validate {
		return nil
	}
	return validateEpisode(cmd, logger, extractor, dir, out)
}

func validateEpisode(cmd *cobra.Command, logger *zap.Logger, extractor *checkpoint.Extractor, dir string, out io.Writer) error {
	loader := trace.NewLoader(logger, extractor)
	gt, err := loader.LoadGroundTruth(cmd.Context(), dir, filepath.Base(dir))
	if err != nil {
		return err
	}
	if err := gt.Validate(); err != nil {
		return err
	}

	artifacts := hierarchy.NewCache(logger)
	for _, s := range gt.EssentialStates() {
		if _, err := artifacts.Tree(s.HierarchyRef); err != nil {
			return fmt.Errorf("state %d: %w", s.Index, err)
		}
		for _, cp := range s.Checkpoints {
			if cp.Target.Kind != schemas.TargetNode && cp.Target.Kind != schemas.TargetToggle {
				continue
			}
			sidecar, err := artifacts.Sidecar(s.SidecarRef)
			if err != nil {
				return fmt.Errorf("state %d: %w", s.Index, err)
			}
			if _, err := sidecar.Node(cp.Target.NodeID); err != nil {
				return fmt.Errorf("state %d checkpoint %s: %w", s.Index, cp.Token(), err)
			}
		}
	}
	fmt.Fprintf(out, "ok: %d states, %d annotated\n", len(gt.States), len(gt.EssentialStates()))
	return nil
}
