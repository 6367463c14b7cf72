package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Metadata Schemas --

// TaskCategory groups episodes in the ground-truth dataset.
type TaskCategory string

const (
	CategoryGeneral     TaskCategory = "general"
	CategoryGoogleApps  TaskCategory = "googleapps"
	CategoryInstall     TaskCategory = "install"
	CategoryWebShopping TaskCategory = "webshopping"
	CategoryGenerated   TaskCategory = "generated"
)

// ParseTaskCategory accepts any casing of a known category.
func ParseTaskCategory(s string) (TaskCategory, error) {
	c := TaskCategory(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryGeneral, CategoryGoogleApps, CategoryInstall, CategoryWebShopping, CategoryGenerated:
		return c, nil
	}
	return "", fmt.Errorf("unknown task category %q", s)
}

// EpisodeMetadata is one row of the episode metadata table.
type EpisodeMetadata struct {
	Episode     string       `json:"episode"`
	Category    TaskCategory `json:"category"`
	Path        string       `json:"path"`
	Description string       `json:"description"`
	NumSteps    int          `json:"nsteps"`
}

// -- Result Schemas --

// FailureReason classifies why an episode did not pass.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonGroundTruthNotFound FailureReason = "GROUND_TRUTH_TRACE_NOT_FOUND"
	ReasonExecutionNotFound   FailureReason = "EXECUTION_TRACE_NOT_FOUND"
	ReasonUIPositionsNotFound FailureReason = "UI_POSITIONS_NOT_FOUND"
	ReasonStepCheckFailed     FailureReason = "STEP_CHECK_FAILED"
	ReasonCorruptFixture      FailureReason = "CORRUPT_FIXTURE"
	ReasonEpisodeNotFound     FailureReason = "EPISODE_NOT_FOUND"
	ReasonCanceled            FailureReason = "CANCELED"
	ReasonInternalError       FailureReason = "INTERNAL_ERROR"
)

// StrategyName identifies an alignment strategy.
type StrategyName string

const (
	StrategyGreedy StrategyName = "greedy"
	StrategyLCS    StrategyName = "lcs"
)

// CheckpointMatch records the outcome for one checkpoint.
type CheckpointMatch struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	Matched    bool       `json:"matched"`
	// Skipped is set when the checkpoint's matcher group is disabled.
	Skipped bool `json:"skipped,omitempty"`
	// MatchedAgainst is the candidate state index, -1 when unmatched.
	MatchedAgainst int `json:"matched_against"`
}

// Verdict is the alignment engine's decision for one episode.
type Verdict struct {
	Passed   bool              `json:"passed"`
	Reason   FailureReason     `json:"reason,omitempty"`
	Detail   string            `json:"detail,omitempty"`
	Strategy StrategyName      `json:"strategy"`
	Matches  []CheckpointMatch `json:"matches,omitempty"`
	// Aligned is the number of essential ground-truth states consumed.
	Aligned int `json:"aligned"`
	// Required is the number of essential ground-truth states.
	Required int `json:"required"`
}

// MatchIndices returns the candidate index matched by each essential state,
// in ground-truth order, with -1 for unmatched states.
func (v *Verdict) MatchIndices() []int {
	var out []int
	last := -2
	for _, m := range v.Matches {
		if m.Checkpoint.StateIndex == last {
			continue
		}
		last = m.Checkpoint.StateIndex
		out = append(out, m.MatchedAgainst)
	}
	return out
}

// EpisodeResult is the evaluator's record for one episode.
type EpisodeResult struct {
	Episode  string        `json:"episode" yaml:"episode"`
	Category TaskCategory  `json:"category,omitempty" yaml:"category,omitempty"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Reason   FailureReason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Aligned  int           `json:"aligned" yaml:"aligned"`
	Required int           `json:"required" yaml:"required"`
	// MatchIndices lists the candidate index for each essential state.
	MatchIndices []int         `json:"match_indices,omitempty" yaml:"match_indices,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// RunSummary aggregates one evaluation run.
type RunSummary struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	Agent      string          `json:"agent,omitempty" yaml:"agent,omitempty"`
	Strategy   StrategyName    `json:"strategy" yaml:"strategy"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Results    []EpisodeResult `json:"results" yaml:"results"`
}

// Stats is the aggregate view of a run.
type Stats struct {
	Total      int                           `json:"total" yaml:"total"`
	Passed     int                           `json:"passed" yaml:"passed"`
	Failed     int                           `json:"failed" yaml:"failed"`
	ByReason   map[FailureReason]int         `json:"by_reason" yaml:"by_reason"`
	ByCategory map[TaskCategory]CategoryStat `json:"by_category" yaml:"by_category"`
}

// CategoryStat counts outcomes within one category.
type CategoryStat struct {
	Passed int `json:"passed" yaml:"passed"`
	Failed int `json:"failed" yaml:"failed"`
}

// Stats computes pass/fail totals for the run.
func (r *RunSummary) Stats() Stats {
	st := Stats{
		ByReason:   make(map[FailureReason]int),
		ByCategory: make(map[TaskCategory]CategoryStat),
	}
	for _, res := range r.Results {
		st.Total++
		cs := st.ByCategory[res.Category]
		if res.Passed {
			st.Passed++
			cs.Passed++
		} else {
			st.Failed++
			cs.Failed++
			st.ByReason[res.Reason]++
		}
		st.ByCategory[res.Category] = cs
	}
	return st
}
