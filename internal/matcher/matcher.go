// internal/matcher/matcher.go
package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
)

// Matcher decides whether a candidate state satisfies one checkpoint of a
// ground-truth state. An expected non-match is (false, nil); errors are
// reserved for artifacts that cannot be read or do not resolve.
type Matcher interface {
	Name() string
	Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error)
}

// Resources bundles what the matchers read from. Artifacts is scoped to a
// single episode by the caller.
type Resources struct {
	Artifacts  *hierarchy.Cache
	Scorer     similarity.Scorer
	Geometry   similarity.Geometry
	Similarity config.SimilarityConfig
	Matchers   config.MatchersConfig
	Logger     *zap.Logger
}

// DefaultResources returns Resources populated with the default ratios and
// thresholds and the offline token scorer.
func DefaultResources(artifacts *hierarchy.Cache, logger *zap.Logger) Resources {
	cfg := config.NewDefaultConfig()
	return Resources{
		Artifacts:  artifacts,
		Scorer:     similarity.TokenCosineScorer{},
		Geometry:   similarity.DefaultGeometry,
		Similarity: cfg.Similarity,
		Matchers:   cfg.Matchers,
		Logger:     logger,
	}
}

// candidateTree loads the candidate hierarchy. A candidate without a usable
// hierarchy cannot satisfy a structural checkpoint, so ok is false rather
// than an error.
func candidateTree(r *Resources, logger *zap.Logger, cand *schemas.UIState) (*hierarchy.Tree, bool, error) {
	tree, err := r.Artifacts.Tree(cand.HierarchyRef)
	if err != nil {
		if errors.Is(err, schemas.ErrHierarchyUnavailable) {
			logger.Debug("Candidate hierarchy unavailable, treating as no match.",
				zap.Int("candidate_index", cand.Index), zap.Error(err))
			return nil, false, nil
		}
		return nil, false, err
	}
	return tree, true, nil
}

// annotatedNode resolves the checkpoint's node id in the ground-truth sidecar.
func annotatedNode(r *Resources, gt *schemas.UIState, cp schemas.Checkpoint) (hierarchy.SidecarNode, hierarchy.Box, error) {
	sidecar, err := r.Artifacts.Sidecar(gt.SidecarRef)
	if err != nil {
		return hierarchy.SidecarNode{}, hierarchy.Box{}, fmt.Errorf("state %d: %w", gt.Index, err)
	}
	node, err := sidecar.Node(cp.Target.NodeID)
	if err != nil {
		return hierarchy.SidecarNode{}, hierarchy.Box{}, fmt.Errorf("state %d: %w", gt.Index, err)
	}
	box, err := node.Box()
	if err != nil {
		return hierarchy.SidecarNode{}, hierarchy.Box{}, fmt.Errorf("state %d node %d: %w", gt.Index, cp.Target.NodeID, err)
	}
	return node, box, nil
}

func matchFields(gt, cand *schemas.UIState, cp schemas.Checkpoint) []zap.Field {
	return []zap.Field{
		zap.Int("gt_index", gt.Index),
		zap.Int("candidate_index", cand.Index),
		zap.Stringer("keyword", cp.Keyword),
	}
}

func kindError(cp schemas.Checkpoint) error {
	return fmt.Errorf("%w: %s does not accept target %q", schemas.ErrCorruptFixture, cp.Keyword, cp.Target.Payload())
}
