// internal/matcher/registry_test.go
package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
)

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) Name() string { return "mockMatcher" }

func (m *mockMatcher) Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	args := m.Called(ctx, gt, cand, cp)
	return args.Bool(0), args.Error(1)
}

func allGroups() config.MatchersConfig {
	return config.MatchersConfig{Fuzzy: true, Exact: true, SystemState: true, Image: true}
}

func TestGroupOf(t *testing.T) {
	want := map[schemas.Keyword]Group{
		schemas.KeywordFuzzy:          GroupFuzzy,
		schemas.KeywordTextbox:        GroupExact,
		schemas.KeywordActivity:       GroupExact,
		schemas.KeywordClick:          GroupExact,
		schemas.KeywordType:           GroupExact,
		schemas.KeywordButton:         GroupExact,
		schemas.KeywordCheckInstall:   GroupSystemState,
		schemas.KeywordCheckUninstall: GroupSystemState,
		schemas.KeywordImage:          GroupImage,
	}
	for _, k := range schemas.AllKeywords() {
		g, err := GroupOf(k)
		require.NoError(t, err, k.String())
		assert.Equal(t, want[k], g, k.String())
	}
	_, err := GroupOf(schemas.Keyword(99))
	assert.ErrorIs(t, err, ErrNoMatcher)
}

func TestNewRegistry(t *testing.T) {
	t.Run("registers a matcher for every keyword", func(t *testing.T) {
		r, err := NewRegistry(testResources(t))
		require.NoError(t, err)
		for _, k := range schemas.AllKeywords() {
			assert.Contains(t, r.matchers, k, k.String())
		}
	})

	t.Run("requires artifacts and a scorer", func(t *testing.T) {
		_, err := NewRegistry(Resources{Logger: zaptest.NewLogger(t)})
		assert.Error(t, err)
	})
}

func TestRegistry_MatchState(t *testing.T) {
	ctx := context.Background()
	fuzzy := schemas.Checkpoint{Keyword: schemas.KeywordFuzzy, Target: schemas.Target{Kind: schemas.TargetWholeScreen, NodeID: -1}}
	install := schemas.Checkpoint{Keyword: schemas.KeywordCheckInstall, Target: schemas.Target{Kind: schemas.TargetApp, NodeID: -1, Text: "chrome"}}
	gt := &schemas.UIState{Index: 0, Checkpoints: []schemas.Checkpoint{fuzzy, install}}
	cand := &schemas.UIState{Index: 5}

	newRegistry := func(t *testing.T, groups config.MatchersConfig, f, s *mockMatcher) *Registry {
		res := testResources(t)
		res.Matchers = groups
		r, err := NewRegistry(res, WithMatchers(map[schemas.Keyword]Matcher{
			schemas.KeywordFuzzy:        f,
			schemas.KeywordCheckInstall: s,
		}))
		require.NoError(t, err)
		return r
	}

	t.Run("all checkpoints must match", func(t *testing.T) {
		f, s := new(mockMatcher), new(mockMatcher)
		f.On("Match", ctx, gt, cand, fuzzy).Return(true, nil).Once()
		s.On("Match", ctx, gt, cand, install).Return(true, nil).Once()

		ok, err := newRegistry(t, allGroups(), f, s).MatchState(ctx, gt, cand)
		require.NoError(t, err)
		assert.True(t, ok)
		f.AssertExpectations(t)
		s.AssertExpectations(t)
	})

	t.Run("stops at the first miss", func(t *testing.T) {
		f, s := new(mockMatcher), new(mockMatcher)
		f.On("Match", ctx, gt, cand, fuzzy).Return(false, nil).Once()

		ok, err := newRegistry(t, allGroups(), f, s).MatchState(ctx, gt, cand)
		require.NoError(t, err)
		assert.False(t, ok)
		s.AssertNotCalled(t, "Match", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("disabled groups are skipped", func(t *testing.T) {
		f, s := new(mockMatcher), new(mockMatcher)
		f.On("Match", ctx, gt, cand, fuzzy).Return(true, nil).Once()
		groups := allGroups()
		groups.SystemState = false
		r := newRegistry(t, groups, f, s)

		ok, err := r.MatchState(ctx, gt, cand)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, r.Enabled(schemas.KeywordCheckInstall))
		s.AssertNotCalled(t, "Match", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		matched, skipped, err := r.Match(ctx, gt, cand, install)
		require.NoError(t, err)
		assert.False(t, matched)
		assert.True(t, skipped)
	})

	t.Run("matcher errors keep their cause", func(t *testing.T) {
		f, s := new(mockMatcher), new(mockMatcher)
		f.On("Match", ctx, gt, cand, fuzzy).Return(true, nil).Once()
		s.On("Match", ctx, gt, cand, install).Return(false, schemas.ErrCorruptFixture).Once()

		_, err := newRegistry(t, allGroups(), f, s).MatchState(ctx, gt, cand)
		assert.ErrorIs(t, err, schemas.ErrCorruptFixture)
		assert.Contains(t, err.Error(), "candidate state 5")
	})

	t.Run("unregistered keyword is an error", func(t *testing.T) {
		f, s := new(mockMatcher), new(mockMatcher)
		r := newRegistry(t, allGroups(), f, s)
		_, _, err := r.Match(ctx, gt, cand, schemas.Checkpoint{Keyword: schemas.KeywordImage, Target: schemas.Target{NodeID: 1}})
		assert.ErrorIs(t, err, ErrNoMatcher)
		_, _, err = r.Match(ctx, gt, cand, schemas.Checkpoint{Keyword: schemas.Keyword(42)})
		assert.ErrorIs(t, err, ErrNoMatcher)
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newRegistry(t, allGroups(), new(mockMatcher), new(mockMatcher)).MatchState(canceled, gt, cand)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRegistry_DefaultMatchers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gt := f.groundTruth(
		schemas.Checkpoint{Keyword: schemas.KeywordFuzzy, Target: schemas.Target{Kind: schemas.TargetNode, NodeID: 2}},
		schemas.Checkpoint{Keyword: schemas.KeywordClick, Target: schemas.Target{Kind: schemas.TargetNode, NodeID: 2}},
		schemas.Checkpoint{Keyword: schemas.KeywordActivity, Target: schemas.Target{Kind: schemas.TargetWholeScreen, NodeID: -1}},
	)
	r, err := NewRegistry(testResources(t))
	require.NoError(t, err)

	cand := f.candidate(1, candidateXML("", "true"), tap(0.2, 0.5))
	cand.Activity = "com.android.settings"
	ok, err := r.MatchState(ctx, gt, cand)
	require.NoError(t, err)
	assert.True(t, ok)

	swipe := f.candidate(2, candidateXML("", "true"), &schemas.Action{
		Type: schemas.ActionDualPoint, Touch: schemas.Point{Y: 0.2, X: 0.5}, Lift: schemas.Point{Y: 0.7, X: 0.5},
	})
	swipe.Activity = "com.android.settings"
	ok, err = r.MatchState(ctx, gt, swipe)
	require.NoError(t, err)
	assert.False(t, ok)
}
