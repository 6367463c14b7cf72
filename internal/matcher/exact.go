// internal/matcher/exact.go
package matcher

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
)

// Classes scanned when no text field shares the annotated resource id.
const (
	classEditText = "android.widget.EditText"
	classTextView = "android.widget.TextView"
)

// -- TEXTBOX --

// TextboxMatcher accepts a candidate when a text field near the annotated
// box holds text similar to the annotated text.
type TextboxMatcher struct {
	res    *Resources
	logger *zap.Logger
}

// NewTextboxMatcher creates a TextboxMatcher.
func NewTextboxMatcher(res *Resources) *TextboxMatcher {
	return &TextboxMatcher{res: res, logger: res.Logger.Named("textbox")}
}

func (m *TextboxMatcher) Name() string { return "TextboxMatcher" }

func (m *TextboxMatcher) Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	if cp.Target.Kind != schemas.TargetNode {
		return false, kindError(cp)
	}
	node, box, err := annotatedNode(m.res, gt, cp)
	if err != nil {
		return false, err
	}
	tree, ok, err := candidateTree(m.res, m.logger, cand)
	if !ok {
		return false, err
	}

	allowed := make(map[string]struct{}, len(m.res.Matchers.AutocompleteIDs)+1)
	if node.ResourceID != "" {
		allowed[node.ResourceID] = struct{}{}
	}
	for _, id := range m.res.Matchers.AutocompleteIDs {
		allowed[id] = struct{}{}
	}

	texts := m.nearbyTexts(tree, box, func(n hierarchy.Node) bool {
		_, ok := allowed[n.ResourceID()]
		return ok
	})
	if len(texts) == 0 {
		texts = m.nearbyTexts(tree, box, func(n hierarchy.Node) bool {
			return n.Class() == classEditText || n.Class() == classTextView
		})
	}

	want := node.DisplayText()
	for _, got := range texts {
		if got == "" {
			continue
		}
		similar, score, err := similarity.Similar(ctx, m.res.Scorer, want, got, m.res.Similarity.TextboxThreshold)
		if err != nil {
			return false, err
		}
		m.logger.Debug("Text field comparison.", append(matchFields(gt, cand, cp),
			zap.String("want", want), zap.String("got", got), zap.Float64("score", score))...)
		if similar {
			return true, nil
		}
	}
	return false, nil
}

func (m *TextboxMatcher) nearbyTexts(tree *hierarchy.Tree, anchor hierarchy.Box, keep func(hierarchy.Node) bool) []string {
	var out []string
	for _, n := range tree.Leaves() {
		if !keep(n) {
			continue
		}
		b, ok := n.Bounds()
		if !ok || !m.res.Geometry.Near(b, anchor, m.res.Similarity.TextRatio) {
			continue
		}
		out = append(out, n.DisplayText())
	}
	return out
}

// -- CLICK --

// ClickMatcher accepts a candidate whose outgoing action is a tap on the
// annotated element. A node target is compared by the class, text and
// resource id of the smallest element under the tap; a path target is
// resolved in the candidate tree and the tap must land near it.
type ClickMatcher struct {
	res    *Resources
	logger *zap.Logger
}

// NewClickMatcher creates a ClickMatcher.
func NewClickMatcher(res *Resources) *ClickMatcher {
	return &ClickMatcher{res: res, logger: res.Logger.Named("click")}
}

func (m *ClickMatcher) Name() string { return "ClickMatcher" }

func (m *ClickMatcher) Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	if cp.Target.Kind != schemas.TargetNode && cp.Target.Kind != schemas.TargetPath {
		return false, kindError(cp)
	}
	if !cand.Action.IsTap() {
		return false, nil
	}
	x, y, ok := m.tapPixels(cand)
	if !ok {
		m.logger.Debug("Candidate screen size unknown.", matchFields(gt, cand, cp)...)
		return false, nil
	}
	tree, ok, err := candidateTree(m.res, m.logger, cand)
	if !ok {
		return false, err
	}

	if cp.Target.Kind == schemas.TargetPath {
		n, found, err := tree.Find(cp.Target.Text)
		if err != nil || !found {
			return false, err
		}
		b, ok := n.Bounds()
		if !ok {
			return false, nil
		}
		tap := hierarchy.Box{X1: x, Y1: y, X2: x, Y2: y}
		matched := m.res.Geometry.Near(tap, b, m.res.Similarity.ClickRatio)
		m.logger.Debug("Path click comparison.", append(matchFields(gt, cand, cp),
			zap.Float64("x", x), zap.Float64("y", y), zap.Stringer("bounds", b), zap.Bool("matched", matched))...)
		return matched, nil
	}

	node, _, err := annotatedNode(m.res, gt, cp)
	if err != nil {
		return false, err
	}
	hit, ok := tree.SmallestContaining(x, y)
	if !ok {
		return false, nil
	}
	matched := hit.Class() == node.Class && hit.Text() == node.Text && hit.ResourceID() == node.ResourceID
	m.logger.Debug("Tapped element comparison.", append(matchFields(gt, cand, cp),
		zap.String("class", hit.Class()), zap.String("resource_id", hit.ResourceID()), zap.Bool("matched", matched))...)
	return matched, nil
}

// tapPixels maps the normalized touch point onto the candidate screenshot,
// falling back to the screen size recorded with the action.
func (m *ClickMatcher) tapPixels(cand *schemas.UIState) (x, y float64, ok bool) {
	w, h, err := m.res.Artifacts.ImageSize(cand.ScreenshotRef)
	if err != nil || w == 0 || h == 0 {
		w, h = cand.Action.ScreenWidth, cand.Action.ScreenHeight
	}
	if w == 0 || h == 0 {
		return 0, 0, false
	}
	return cand.Action.Touch.X * float64(w), cand.Action.Touch.Y * float64(h), true
}

// -- TYPE --

// TypeMatcher accepts a candidate whose outgoing action typed exactly the
// annotated text. Both sides are normalized when traces are loaded.
type TypeMatcher struct{}

func (TypeMatcher) Name() string { return "TypeMatcher" }

func (TypeMatcher) Match(_ context.Context, _, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	if cp.Target.Kind != schemas.TargetText {
		return false, kindError(cp)
	}
	a := cand.Action
	return a != nil && a.Type == schemas.ActionTypeText && a.TypedText == cp.Target.Text, nil
}

// -- ACTIVITY --

// ActivityMatcher compares foreground activities. An undetermined annotated
// activity always matches.
type ActivityMatcher struct {
	res    *Resources
	logger *zap.Logger
}

// NewActivityMatcher creates an ActivityMatcher.
func NewActivityMatcher(res *Resources) *ActivityMatcher {
	return &ActivityMatcher{res: res, logger: res.Logger.Named("activity")}
}

func (m *ActivityMatcher) Name() string { return "ActivityMatcher" }

func (m *ActivityMatcher) Match(ctx context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	want := strings.ToLower(gt.Activity)
	if want == "" || want == schemas.NullActivity {
		return true, nil
	}
	got := strings.ToLower(cand.Activity)
	if got == "" || got == schemas.NullActivity {
		return false, nil
	}

	if m.res.Matchers.ActivityMode == config.ActivityModeSimilarity {
		similar, score, err := similarity.Similar(ctx, m.res.Scorer, want, got, m.res.Similarity.ActivityThreshold)
		if err != nil {
			return false, err
		}
		m.logger.Debug("Activity similarity.", append(matchFields(gt, cand, cp),
			zap.String("want", want), zap.String("got", got), zap.Float64("score", score))...)
		return similar, nil
	}
	return strings.Contains(want, got), nil
}

// -- BUTTON --

// ButtonMatcher compares the checked state of a toggle. When no element
// with the annotated resource id is near the annotated box the toggle is
// assumed to be off screen and the checkpoint is satisfied.
type ButtonMatcher struct {
	res    *Resources
	logger *zap.Logger
}

// NewButtonMatcher creates a ButtonMatcher.
func NewButtonMatcher(res *Resources) *ButtonMatcher {
	return &ButtonMatcher{res: res, logger: res.Logger.Named("button")}
}

func (m *ButtonMatcher) Name() string { return "ButtonMatcher" }

func (m *ButtonMatcher) Match(_ context.Context, gt, cand *schemas.UIState, cp schemas.Checkpoint) (bool, error) {
	if cp.Target.Kind != schemas.TargetToggle {
		return false, kindError(cp)
	}
	node, box, err := annotatedNode(m.res, gt, cp)
	if err != nil {
		return false, err
	}
	tree, ok, err := candidateTree(m.res, m.logger, cand)
	if !ok {
		return false, err
	}

	seen := false
	for _, n := range tree.Nodes() {
		if n.ResourceID() != node.ResourceID {
			continue
		}
		b, ok := n.Bounds()
		if !ok || !m.res.Geometry.Near(b, box, m.res.Similarity.ToggleRatio) {
			continue
		}
		seen = true
		if n.Checked() == cp.Target.On {
			return true, nil
		}
	}
	if !seen {
		m.logger.Debug("No toggle with the annotated resource id nearby, accepting.",
			append(matchFields(gt, cand, cp), zap.String("resource_id", node.ResourceID))...)
		return true, nil
	}
	return false, nil
}
