// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// Output formats.
const (
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatCSV   = "csv"
	FormatTable = "table"
)

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write renders one run.
	Write(run *schemas.RunSummary) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory for %s: %w", outputPath, err)
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	r, err := NewWriter(format, writer)
	if err != nil && !isStdOut {
		writer.Close()
	}
	return r, err
}

// NewWriter creates a reporter that takes ownership of w.
func NewWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case FormatJSON:
		return &JSONReporter{w: w}, nil
	case FormatYAML:
		return &YAMLReporter{w: w}, nil
	case FormatCSV:
		return &CSVReporter{w: w}, nil
	case FormatTable:
		return &TableReporter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// StatsPath returns the path of a stats dump for a run started at t:
// <dir>/<strategy>_<agent>_<yyyy-mm-dd-hh:mm:ss>.csv.
func StatsPath(dir string, strategy schemas.StrategyName, agent string, t time.Time) string {
	if agent == "" {
		agent = "agent"
	}
	name := fmt.Sprintf("%s_%s_%s.csv", strategy, agent, t.Format("2006-01-02-15:04:05"))
	return filepath.Join(dir, name)
}
