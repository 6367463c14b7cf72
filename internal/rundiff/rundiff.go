// internal/rundiff/rundiff.go
package rundiff

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// ChangeKind classifies how an episode differs between two runs.
type ChangeKind string

const (
	Regressed     ChangeKind = "regressed"
	Fixed         ChangeKind = "fixed"
	ReasonChanged ChangeKind = "reason_changed"
	// AlignmentChanged means the verdict held but the matched candidate
	// states moved. Only reported with Options.CompareAlignment.
	AlignmentChanged ChangeKind = "alignment_changed"
	Added            ChangeKind = "added"
	Removed          ChangeKind = "removed"
)

// Options controls which result fields count as a change.
type Options struct {
	// CompareAlignment also reports passing episodes whose match indices
	// differ.
	CompareAlignment bool
}

// Change is one episode that differs between the base and head runs.
type Change struct {
	Episode string                 `json:"episode"`
	Kind    ChangeKind             `json:"kind"`
	Base    *schemas.EpisodeResult `json:"base,omitempty"`
	Head    *schemas.EpisodeResult `json:"head,omitempty"`
	// Diff is a field-level description of the change.
	Diff string `json:"diff,omitempty"`
}

// Result lists every change, ordered by kind then episode.
type Result struct {
	BaseRunID string   `json:"base_run_id"`
	HeadRunID string   `json:"head_run_id"`
	Changes   []Change `json:"changes"`
	Unchanged int      `json:"unchanged"`
}

// Count returns how many changes are of kind k.
func (r *Result) Count(k ChangeKind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == k {
			n++
		}
	}
	return n
}

var kindOrder = map[ChangeKind]int{
	Regressed: 0, Fixed: 1, ReasonChanged: 2, AlignmentChanged: 3, Added: 4, Removed: 5,
}

// Compare lists the episodes whose verdict or failure reason differs between
// base and head. Timing and free-form detail never count as a change.
func Compare(base, head *schemas.RunSummary, opts Options) *Result {
	res := &Result{BaseRunID: base.RunID, HeadRunID: head.RunID}
	baseByEpisode := index(base)
	headByEpisode := index(head)

	ignored := []string{"Category", "Duration", "Detail", "Aligned", "Required"}
	if !opts.CompareAlignment {
		ignored = append(ignored, "MatchIndices")
	}
	cmpOpts := cmp.Options{
		cmpopts.IgnoreFields(schemas.EpisodeResult{}, ignored...),
		cmpopts.EquateEmpty(),
	}

	for episode, b := range baseByEpisode {
		h, ok := headByEpisode[episode]
		if !ok {
			res.Changes = append(res.Changes, Change{Episode: episode, Kind: Removed, Base: b})
			continue
		}
		diff := cmp.Diff(*b, *h, cmpOpts...)
		if diff == "" {
			res.Unchanged++
			continue
		}
		res.Changes = append(res.Changes, Change{Episode: episode, Kind: classify(b, h), Base: b, Head: h, Diff: diff})
	}
	for episode, h := range headByEpisode {
		if _, ok := baseByEpisode[episode]; !ok {
			res.Changes = append(res.Changes, Change{Episode: episode, Kind: Added, Head: h})
		}
	}

	sort.Slice(res.Changes, func(i, j int) bool {
		a, b := res.Changes[i], res.Changes[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		return a.Episode < b.Episode
	})
	return res
}

func classify(base, head *schemas.EpisodeResult) ChangeKind {
	switch {
	case base.Passed && !head.Passed:
		return Regressed
	case !base.Passed && head.Passed:
		return Fixed
	case base.Reason != head.Reason:
		return ReasonChanged
	default:
		return AlignmentChanged
	}
}

func index(run *schemas.RunSummary) map[string]*schemas.EpisodeResult {
	out := make(map[string]*schemas.EpisodeResult, len(run.Results))
	for i := range run.Results {
		out[run.Results[i].Episode] = &run.Results[i]
	}
	return out
}

// String renders the change as a single line.
func (c Change) String() string {
	switch c.Kind {
	case Added:
		return fmt.Sprintf("+ %s %s", c.Episode, outcome(c.Head))
	case Removed:
		return fmt.Sprintf("- %s %s", c.Episode, outcome(c.Base))
	default:
		return fmt.Sprintf("~ %s %s: %s -> %s", c.Episode, c.Kind, outcome(c.Base), outcome(c.Head))
	}
}

func outcome(r *schemas.EpisodeResult) string {
	if r.Passed {
		return "PASS"
	}
	return "FAIL(" + string(r.Reason) + ")"
}
