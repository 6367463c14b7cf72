// internal/trace/source.go
package trace

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// DatasetSource resolves episode traces from the standard on-disk layout:
// ground truth under <groundTruthRoot>/<metadata path> and executions under
// <executionRoot>/<episode>.
type DatasetSource struct {
	loader          *Loader
	groundTruthRoot string
	executionRoot   string
}

// NewDatasetSource creates a DatasetSource. Both roots may start with ~.
func NewDatasetSource(loader *Loader, groundTruthRoot, executionRoot string) (*DatasetSource, error) {
	gt, err := homedir.Expand(groundTruthRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to expand ground-truth root %q: %w", groundTruthRoot, err)
	}
	ex, err := homedir.Expand(executionRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to expand execution root %q: %w", executionRoot, err)
	}
	return &DatasetSource{loader: loader, groundTruthRoot: gt, executionRoot: ex}, nil
}

// GroundTruth loads the annotated trace for an episode.
func (d *DatasetSource) GroundTruth(ctx context.Context, meta schemas.EpisodeMetadata) (*schemas.Trace, error) {
	path := meta.Path
	if path == "" {
		path = meta.Episode
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.groundTruthRoot, path)
	}
	return d.loader.LoadGroundTruth(ctx, path, meta.Episode)
}

// Execution loads the agent's recorded trace for an episode.
func (d *DatasetSource) Execution(ctx context.Context, meta schemas.EpisodeMetadata) (*schemas.Trace, error) {
	return d.loader.LoadExecution(ctx, filepath.Join(d.executionRoot, meta.Episode), meta.Episode)
}
