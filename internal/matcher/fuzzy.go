// internal/matcher/fuzzy.go
package matcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
)

// FuzzyMatcher handles FUZZY checkpoints:
//
//	-2  system-state placeholder, always satisfied
//	-1  whole-screen structural similarity
//	>=0 a candidate node carries exactly the annotated node's text
//
// In region mode a node target is instead compared structurally within the
// neighbourhood of the annotated box.
type FuzzyMatcher struct {
	res    *Resources
	logger *zap.Logger
}

// NewFuzzyMatcher creates a FuzzyMatcher.
func NewFuzzyMatcher(res *Resources) *FuzzyMatcher {
	return &FuzzyMatcher{res: res, logger: res.Logger.Named("fuzzy")}
}

func (m *FuzzyMatcher) Name() string { return "FuzzyMatcher" }

func (m *FuzzyMatcher) Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	switch cp.Target.Kind {
	case schemas.TargetSystemState:
		return true, nil
	case schemas.TargetWholeScreen:
		return m.matchScreen(ctx, gt, cand, cp)
	case schemas.TargetNode:
		if m.res.Matchers.FuzzyNodeMode == config.FuzzyNodeModeRegion {
			return m.matchRegion(ctx, gt, cand, cp)
		}
		return m.matchText(gt, cand, cp)
	default:
		return false, kindError(cp)
	}
}

func (m *FuzzyMatcher) matchScreen(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	gtTree, err := m.res.Artifacts.Tree(gt.HierarchyRef)
	if err != nil {
		return false, fmt.Errorf("ground truth state %d: %w", gt.Index, err)
	}
	candTree, ok, err := candidateTree(m.res, m.logger, cand)
	if !ok {
		return false, err
	}
	similar, score, err := similarity.Similar(ctx, m.res.Scorer,
		similarity.Simplify(gtTree), similarity.Simplify(candTree), m.res.Similarity.ScreenThreshold)
	if err != nil {
		return false, err
	}
	m.logger.Debug("Whole-screen comparison.", append(matchFields(gt, cand, cp),
		zap.Float64("score", score), zap.Bool("matched", similar))...)
	return similar, nil
}

func (m *FuzzyMatcher) matchText(gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	node, _, err := annotatedNode(m.res, gt, cp)
	if err != nil {
		return false, err
	}
	if node.Text == "" {
		return false, fmt.Errorf("%w: state %d node %d has no text to match", schemas.ErrCorruptFixture, gt.Index, cp.Target.NodeID)
	}
	candTree, ok, err := candidateTree(m.res, m.logger, cand)
	if !ok {
		return false, err
	}
	for _, n := range candTree.Nodes() {
		if n.Text() == node.Text {
			m.logger.Debug("Annotated text found.", append(matchFields(gt, cand, cp), zap.String("text", node.Text))...)
			return true, nil
		}
	}
	return false, nil
}

func (m *FuzzyMatcher) matchRegion(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	_, box, err := annotatedNode(m.res, gt, cp)
	if err != nil {
		return false, err
	}
	gtTree, err := m.res.Artifacts.Tree(gt.HierarchyRef)
	if err != nil {
		return false, fmt.Errorf("ground truth state %d: %w", gt.Index, err)
	}
	candTree, ok, err := candidateTree(m.res, m.logger, cand)
	if !ok {
		return false, err
	}
	ratio := m.res.Similarity.TextRatio
	similar, score, err := similarity.Similar(ctx, m.res.Scorer,
		similarity.SimplifyRegion(gtTree, m.res.Geometry, box, ratio),
		similarity.SimplifyRegion(candTree, m.res.Geometry, box, ratio),
		m.res.Similarity.RegionThreshold)
	if err != nil {
		return false, err
	}
	m.logger.Debug("Region comparison.", append(matchFields(gt, cand, cp),
		zap.Float64("score", score), zap.Bool("matched", similar))...)
	return similar, nil
}
