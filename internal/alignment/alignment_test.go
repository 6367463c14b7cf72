// internal/alignment/alignment_test.go
package alignment

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
)

type cell struct{ gt, cand int }

// tableMatcher answers MatchState from a fixed (gt index, candidate index)
// table and records every call.
type tableMatcher struct {
	hits     map[cell]bool
	errs     map[cell]error
	disabled map[schemas.Keyword]bool

	mu     sync.Mutex
	calls  []cell
}

func (m *tableMatcher) MatchState(ctx context.Context, gt, cand *schemas.UIState) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c := cell{gt.Index, cand.Index}
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	if err := m.errs[c]; err != nil {
		return false, err
	}
	return m.hits[c], nil
}

func (m *tableMatcher) Enabled(k schemas.Keyword) bool { return !m.disabled[k] }

func fuzzyCP(idx int) schemas.Checkpoint {
	return schemas.Checkpoint{Keyword: schemas.KeywordFuzzy, StateIndex: idx, Target: schemas.Target{Kind: schemas.TargetWholeScreen, NodeID: -1}}
}

func textboxCP(idx, node int) schemas.Checkpoint {
	return schemas.Checkpoint{Keyword: schemas.KeywordTextbox, StateIndex: idx, Target: schemas.Target{Kind: schemas.TargetNode, NodeID: node}}
}

// groundTruth builds a trace of n states where the listed indices carry
// checkpoints.
func groundTruth(n int, checkpoints map[int][]schemas.Checkpoint) *schemas.Trace {
	tr := &schemas.Trace{Episode: "ep", Kind: schemas.TraceGroundTruth}
	for i := 0; i < n; i++ {
		tr.States = append(tr.States, schemas.UIState{Index: i, Checkpoints: checkpoints[i]})
	}
	return tr
}

func execution(n int) *schemas.Trace {
	tr := &schemas.Trace{Episode: "ep", Kind: schemas.TraceExecution}
	for i := 0; i < n; i++ {
		tr.States = append(tr.States, schemas.UIState{Index: i})
	}
	return tr
}

func strategies(t *testing.T) []Strategy {
	logger := zaptest.NewLogger(t)
	return []Strategy{
		NewGreedy(logger),
		NewLCS(logger, 4, false),
		NewLCS(logger, 2, true),
	}
}

func TestAlign_Scenarios(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	gt := groundTruth(3, map[int][]schemas.Checkpoint{
		0: {fuzzyCP(0)},
		2: {textboxCP(2, 3)},
	})

	t.Run("in order matches pass", func(t *testing.T) {
		m := &tableMatcher{hits: map[cell]bool{{0, 1}: true, {2, 4}: true}}
		for _, s := range strategies(t) {
			v, err := s.Align(ctx, m, gt, execution(5))
			require.NoError(t, err, s.Name())
			assert.True(t, v.Passed, s.Name())
			assert.Equal(t, []int{1, 4}, v.MatchIndices(), s.Name())
			assert.Equal(t, 2, v.Aligned)
			assert.Equal(t, 2, v.Required)
			assert.Equal(t, s.Name(), v.Strategy)
			assert.Empty(t, v.Reason)
		}
	})

	t.Run("out of order matches fail", func(t *testing.T) {
		m := &tableMatcher{hits: map[cell]bool{{0, 4}: true, {2, 1}: true}}
		for _, s := range strategies(t) {
			v, err := s.Align(ctx, m, gt, execution(5))
			require.NoError(t, err, s.Name())
			assert.False(t, v.Passed, s.Name())
			assert.Equal(t, schemas.ReasonStepCheckFailed, v.Reason, s.Name())
			assert.NotEmpty(t, v.Detail)
		}
	})

	t.Run("empty execution fails", func(t *testing.T) {
		for _, s := range strategies(t) {
			v, err := s.Align(ctx, &tableMatcher{}, gt, execution(0))
			require.NoError(t, err, s.Name())
			assert.False(t, v.Passed, s.Name())
			assert.Equal(t, []int{-1, -1}, v.MatchIndices(), s.Name())
		}
	})

	t.Run("no checkpoints passes", func(t *testing.T) {
		for _, s := range strategies(t) {
			v, err := s.Align(ctx, &tableMatcher{}, groundTruth(2, nil), execution(3))
			require.NoError(t, err, s.Name())
			assert.True(t, v.Passed, s.Name())
			assert.Zero(t, v.Required)
		}
	})
}

func TestGreedy_CandidatesAreNotReused(t *testing.T) {
	gt := groundTruth(2, map[int][]schemas.Checkpoint{0: {fuzzyCP(0)}, 1: {fuzzyCP(1)}})
	// Both essential states are satisfied only by candidate 2.
	m := &tableMatcher{hits: map[cell]bool{{0, 2}: true, {1, 2}: true}}

	v, err := NewGreedy(zaptest.NewLogger(t)).Align(context.Background(), m, gt, execution(4))
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Equal(t, 1, v.Aligned)
	assert.Equal(t, []int{2, -1}, v.MatchIndices())
	assert.NotContains(t, m.calls, cell{1, 0}, "the cursor never moves back")
	assert.NotContains(t, m.calls, cell{1, 2})
}

func TestGreedy_StopsAtFirstMiss(t *testing.T) {
	gt := groundTruth(3, map[int][]schemas.Checkpoint{0: {fuzzyCP(0)}, 1: {fuzzyCP(1)}, 2: {fuzzyCP(2)}})
	m := &tableMatcher{hits: map[cell]bool{{2, 0}: true}}

	v, err := NewGreedy(zaptest.NewLogger(t)).Align(context.Background(), m, gt, execution(3))
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Len(t, m.calls, 3, "only the first essential state is checked")
	assert.Contains(t, v.Detail, "ground truth state 0")
}

func TestAlign_SkippedCheckpoints(t *testing.T) {
	gt := groundTruth(1, map[int][]schemas.Checkpoint{0: {fuzzyCP(0), textboxCP(0, 1)}})
	m := &tableMatcher{hits: map[cell]bool{{0, 0}: true}, disabled: map[schemas.Keyword]bool{schemas.KeywordTextbox: true}}

	for _, s := range strategies(t) {
		v, err := s.Align(context.Background(), m, gt, execution(1))
		require.NoError(t, err)
		require.Len(t, v.Matches, 2)
		assert.True(t, v.Matches[0].Matched)
		assert.False(t, v.Matches[0].Skipped)
		assert.False(t, v.Matches[1].Matched)
		assert.True(t, v.Matches[1].Skipped)
		assert.Equal(t, 0, v.Matches[1].MatchedAgainst)
	}
}

func TestAlign_ErrorsPropagate(t *testing.T) {
	defer goleak.VerifyNone(t)
	gt := groundTruth(1, map[int][]schemas.Checkpoint{0: {textboxCP(0, 9)}})
	m := &tableMatcher{errs: map[cell]error{{0, 1}: schemas.ErrCorruptFixture}}

	for _, s := range strategies(t) {
		_, err := s.Align(context.Background(), m, gt, execution(3))
		assert.ErrorIs(t, err, schemas.ErrCorruptFixture, s.Name())
	}
}

func TestAlign_Canceled(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gt := groundTruth(1, map[int][]schemas.Checkpoint{0: {fuzzyCP(0)}})

	for _, s := range strategies(t) {
		_, err := s.Align(ctx, &tableMatcher{}, gt, execution(3))
		assert.True(t, errors.Is(err, context.Canceled), s.Name())
	}
}

// Greedy passing implies LCS passing with a full table, and pruning never
// changes the LCS verdict.
func TestAlign_GreedyImpliesLCS(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	greedy, full, pruned := NewGreedy(logger), NewLCS(logger, 3, false), NewLCS(logger, 3, true)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 300; trial++ {
		n, cols := 1+rng.Intn(4), rng.Intn(7)
		cps := make(map[int][]schemas.Checkpoint)
		for i := 0; i < n; i++ {
			cps[i] = []schemas.Checkpoint{fuzzyCP(i)}
		}
		gt := groundTruth(n, cps)
		hits := make(map[cell]bool)
		for i := 0; i < n; i++ {
			for j := 0; j < cols; j++ {
				hits[cell{i, j}] = rng.Float64() < 0.3
			}
		}
		m := &tableMatcher{hits: hits}

		g, err := greedy.Align(ctx, m, gt, execution(cols))
		require.NoError(t, err)
		l, err := full.Align(ctx, m, gt, execution(cols))
		require.NoError(t, err)
		p, err := pruned.Align(ctx, m, gt, execution(cols))
		require.NoError(t, err)

		if g.Passed {
			assert.True(t, l.Passed, "trial %d", trial)
			assert.Equal(t, n, l.Aligned, "trial %d", trial)
		}
		assert.Equal(t, l.Passed, p.Passed, "trial %d", trial)
		if l.Passed {
			indices := l.MatchIndices()
			for i := 1; i < len(indices); i++ {
				assert.Less(t, indices[i-1], indices[i], "trial %d", trial)
			}
		}
	}
}

func TestNew(t *testing.T) {
	logger := zaptest.NewLogger(t)

	s, err := New(config.EvaluatorConfig{Strategy: config.StrategyGreedy}, logger)
	require.NoError(t, err)
	assert.Equal(t, schemas.StrategyGreedy, s.Name())

	s, err = New(config.EvaluatorConfig{Strategy: config.StrategyLCS, LCSParallelism: 0}, logger)
	require.NoError(t, err)
	assert.Equal(t, schemas.StrategyLCS, s.Name())
	assert.Equal(t, 1, s.(*LCS).parallelism)

	_, err = New(config.EvaluatorConfig{Strategy: "dtw"}, logger)
	assert.ErrorContains(t, err, "unknown or unsupported alignment strategy")
}
