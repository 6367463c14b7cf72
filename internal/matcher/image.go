// internal/matcher/image.go
package matcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
)

// ImageMatcher compares the annotated element's screenshot patch against the
// same region of the candidate screenshot.
type ImageMatcher struct {
	res    *Resources
	logger *zap.Logger
}

// NewImageMatcher creates an ImageMatcher.
func NewImageMatcher(res *Resources) *ImageMatcher {
	return &ImageMatcher{res: res, logger: res.Logger.Named("image")}
}

func (m *ImageMatcher) Name() string { return "ImageMatcher" }

func (m *ImageMatcher) Match(_ context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	if cp.Target.Kind != schemas.TargetNode {
		return false, kindError(cp)
	}
	_, box, err := annotatedNode(m.res, gt, cp)
	if err != nil {
		return false, err
	}
	reference, err := m.res.Artifacts.Image(gt.ScreenshotRef)
	if err != nil {
		return false, fmt.Errorf("ground truth state %d: %w", gt.Index, err)
	}
	candidate, err := m.res.Artifacts.Image(cand.ScreenshotRef)
	if err != nil {
		return false, fmt.Errorf("candidate state %d: %w", cand.Index, err)
	}

	patch := similarity.PatchMatcher{Bound: m.res.Similarity.ImageHashBound}
	distance, matched, err := patch.Match(reference, candidate, box)
	if err != nil {
		return false, fmt.Errorf("%w: state %d node %d: %v", schemas.ErrCorruptFixture, gt.Index, cp.Target.NodeID, err)
	}
	m.logger.Debug("Patch comparison.", append(matchFields(gt, cand, cp),
		zap.Int("distance", distance), zap.Bool("matched", matched))...)
	return matched, nil
}
