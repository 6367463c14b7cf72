// internal/rundiff/rundiff_test.go
package rundiff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

func pass(ep string, indices ...int) schemas.EpisodeResult {
	return schemas.EpisodeResult{Episode: ep, Passed: true, MatchIndices: indices, Duration: time.Second}
}

func fail(ep string, reason schemas.FailureReason) schemas.EpisodeResult {
	return schemas.EpisodeResult{Episode: ep, Reason: reason, Detail: "detail " + ep}
}

func TestCompare(t *testing.T) {
	base := &schemas.RunSummary{RunID: "base", Results: []schemas.EpisodeResult{
		pass("stable", 1, 2),
		pass("regress", 0),
		fail("fix", schemas.ReasonStepCheckFailed),
		fail("reason", schemas.ReasonExecutionNotFound),
		pass("moved", 1, 4),
		pass("gone"),
	}}
	head := &schemas.RunSummary{RunID: "head", Results: []schemas.EpisodeResult{
		pass("stable", 1, 2),
		fail("regress", schemas.ReasonStepCheckFailed),
		pass("fix", 3),
		fail("reason", schemas.ReasonStepCheckFailed),
		pass("moved", 2, 4),
		pass("new"),
	}}
	// Timing and detail are not changes.
	head.Results[0].Duration = 5 * time.Second

	res := Compare(base, head, Options{})
	assert.Equal(t, "base", res.BaseRunID)
	assert.Equal(t, "head", res.HeadRunID)
	assert.Equal(t, 2, res.Unchanged, "stable and moved")

	var got []string
	for _, c := range res.Changes {
		got = append(got, c.Episode+":"+string(c.Kind))
	}
	assert.Equal(t, []string{
		"regress:regressed",
		"fix:fixed",
		"reason:reason_changed",
		"new:added",
		"gone:removed",
	}, got)
	assert.Equal(t, 1, res.Count(Regressed))
	assert.Zero(t, res.Count(AlignmentChanged))

	require.NotNil(t, res.Changes[0].Head)
	assert.Contains(t, res.Changes[0].Diff, "Passed")
	assert.Equal(t, "~ regress regressed: PASS -> FAIL(STEP_CHECK_FAILED)", res.Changes[0].String())
	assert.Equal(t, "+ new PASS", res.Changes[3].String())
	assert.Equal(t, "- gone PASS", res.Changes[4].String())
}

func TestCompare_Alignment(t *testing.T) {
	base := &schemas.RunSummary{Results: []schemas.EpisodeResult{pass("moved", 1, 4), pass("same", 2)}}
	head := &schemas.RunSummary{Results: []schemas.EpisodeResult{pass("moved", 2, 4), pass("same", 2)}}

	res := Compare(base, head, Options{CompareAlignment: true})
	require.Len(t, res.Changes, 1)
	assert.Equal(t, AlignmentChanged, res.Changes[0].Kind)
	assert.Equal(t, 1, res.Unchanged)
}

func TestCompare_IdenticalRuns(t *testing.T) {
	run := &schemas.RunSummary{Results: []schemas.EpisodeResult{pass("a"), fail("b", schemas.ReasonCorruptFixture)}}
	res := Compare(run, run, Options{CompareAlignment: true})
	assert.Empty(t, res.Changes)
	assert.Equal(t, 2, res.Unchanged)
}
