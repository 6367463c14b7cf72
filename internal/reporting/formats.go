// internal/reporting/formats.go
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the document written by the json and yaml formats: the run
// followed by its aggregate stats.
type Report struct {
	schemas.RunSummary `yaml:",inline"`
	Stats              schemas.Stats `json:"stats" yaml:"stats"`
}

func newReport(run *schemas.RunSummary) Report {
	return Report{RunSummary: *run, Stats: run.Stats()}
}

// JSONReporter writes indented JSON reports.
type JSONReporter struct {
	w io.WriteCloser
}

func (r *JSONReporter) Write(run *schemas.RunSummary) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newReport(run)); err != nil {
		return fmt.Errorf("failed to encode json report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error { return r.w.Close() }

// YAMLReporter writes YAML reports.
type YAMLReporter struct {
	w io.WriteCloser
}

func (r *YAMLReporter) Write(run *schemas.RunSummary) error {
	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(newReport(run)); err != nil {
		return fmt.Errorf("failed to encode yaml report: %w", err)
	}
	return enc.Close()
}

func (r *YAMLReporter) Close() error { return r.w.Close() }

// CSVReporter writes the stats dump: one episode,success,reason line per
// episode with no header. success is True or False.
type CSVReporter struct {
	w io.WriteCloser
}

func (r *CSVReporter) Write(run *schemas.RunSummary) error {
	cw := csv.NewWriter(r.w)
	for _, res := range run.Results {
		success := "False"
		if res.Passed {
			success = "True"
		}
		if err := cw.Write([]string{res.Episode, success, string(res.Reason)}); err != nil {
			return fmt.Errorf("failed to write stats row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (r *CSVReporter) Close() error { return r.w.Close() }

// TableReporter renders human-readable tables.
type TableReporter struct {
	w io.WriteCloser
}

func (r *TableReporter) Write(run *schemas.RunSummary) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(r.w)
	tw.SetTitle(fmt.Sprintf("Run %s (%s, %s)", run.RunID, run.Strategy, run.Agent))
	tw.AppendHeader(table.Row{"Episode", "Category", "Result", "Aligned", "Reason", "Matches"})
	for _, res := range run.Results {
		result := "FAIL"
		if res.Passed {
			result = "PASS"
		}
		tw.AppendRow(table.Row{
			res.Episode, res.Category, result,
			fmt.Sprintf("%d/%d", res.Aligned, res.Required),
			res.Reason, formatIndices(res.MatchIndices),
		})
	}
	stats := run.Stats()
	tw.AppendFooter(table.Row{"", "", "", "", "Completed", stats.Passed})
	tw.AppendFooter(table.Row{"", "", "", "", "Failed", stats.Failed})
	tw.Render()

	if len(stats.ByReason) > 0 {
		reasons := make([]string, 0, len(stats.ByReason))
		for reason := range stats.ByReason {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)

		rt := table.NewWriter()
		rt.SetOutputMirror(r.w)
		rt.AppendHeader(table.Row{"Failure reason", "Episodes"})
		for _, reason := range reasons {
			rt.AppendRow(table.Row{reason, stats.ByReason[schemas.FailureReason(reason)]})
		}
		rt.Render()
	}
	return nil
}

func (r *TableReporter) Close() error { return r.w.Close() }

func formatIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 {
			parts[i] = "-"
			continue
		}
		parts[i] = fmt.Sprint(idx)
	}
	return strings.Join(parts, " ")
}

// ReadRun loads a run written by the json or yaml format. The format is
// chosen by file extension, defaulting to json.
func ReadRun(path string) (*schemas.RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}
	var report Report
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &report)
	default:
		err = json.Unmarshal(data, &report)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode run report %s: %w", path, err)
	}
	return &report.RunSummary, nil
}
