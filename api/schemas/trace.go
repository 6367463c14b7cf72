package schemas

import "fmt"

// -- Trace Schemas --

// NullActivity is the sentinel recorded when the foreground window could not be determined.
const NullActivity = "null"

// ActionType enumerates the normalized action kinds found in trace artifacts.
type ActionType string

const (
	ActionDualPoint            ActionType = "DUAL_POINT"
	ActionTypeText             ActionType = "TYPE"
	ActionPressBack            ActionType = "PRESS_BACK"
	ActionPressHome            ActionType = "PRESS_HOME"
	ActionPressEnter           ActionType = "PRESS_ENTER"
	ActionStatusTaskComplete   ActionType = "STATUS_TASK_COMPLETE"
	ActionStatusTaskImpossible ActionType = "STATUS_TASK_IMPOSSIBLE"
)

// Point is a normalized screen coordinate in [0,1]x[0,1], stored y first to
// match the artifact encoding.
type Point struct {
	Y float64 `json:"y"`
	X float64 `json:"x"`
}

// Unset reports whether the point carries the (-1,-1) placeholder used by
// actions without coordinates.
func (p Point) Unset() bool {
	return p.X < 0 && p.Y < 0
}

// UnsetPoint is the placeholder for actions that carry no coordinates.
var UnsetPoint = Point{Y: -1, X: -1}

// Action is the action taken leaving a UIState.
type Action struct {
	Type  ActionType `json:"type"`
	Touch Point      `json:"touch"`
	Lift  Point      `json:"lift"`
	// TypedText is lower-cased and trimmed when the trace is built.
	TypedText string `json:"typed_text,omitempty"`
	// ScreenWidth and ScreenHeight are the dimensions recorded alongside the
	// action, zero when the artifact did not carry them.
	ScreenWidth  int `json:"screen_width,omitempty"`
	ScreenHeight int `json:"screen_height,omitempty"`
}

// IsTap reports whether the action is a DUAL_POINT gesture whose touch and
// lift points coincide.
func (a *Action) IsTap() bool {
	if a == nil || a.Type != ActionDualPoint {
		return false
	}
	return a.Touch == a.Lift && !a.Touch.Unset()
}

// UIState is one observed screen at one step of a trace. Artifact references
// are file paths resolved lazily by the hierarchy and similarity packages.
type UIState struct {
	Index            int     `json:"index"`
	ScreenshotRef    string  `json:"screenshot_ref"`
	HierarchyRef     string  `json:"hierarchy_ref"`
	SidecarRef       string  `json:"sidecar_ref"`
	InstalledAppsRef string  `json:"installed_apps_ref,omitempty"`
	Activity         string  `json:"activity"`
	Action           *Action `json:"action,omitempty"`
	// Checkpoints is only populated on annotated ground-truth states.
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
}

// IsEssential reports whether the state carries at least one checkpoint.
func (s *UIState) IsEssential() bool {
	return len(s.Checkpoints) > 0
}

// TraceKind distinguishes annotated ground truth from agent executions.
type TraceKind string

const (
	TraceGroundTruth TraceKind = "ground_truth"
	TraceExecution   TraceKind = "execution"
)

// Trace is the ordered sequence of states recorded for one episode. A trace
// is never modified after it has been loaded.
type Trace struct {
	Episode string    `json:"episode"`
	Kind    TraceKind `json:"kind"`
	Root    string    `json:"root"`
	States  []UIState `json:"states"`
}

// EssentialStates returns the states that carry checkpoints, in index order.
func (t *Trace) EssentialStates() []UIState {
	var out []UIState
	for _, s := range t.States {
		if s.IsEssential() {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that state indices are strictly increasing.
func (t *Trace) Validate() error {
	for i := 1; i < len(t.States); i++ {
		if t.States[i].Index <= t.States[i-1].Index {
			return fmt.Errorf("%w: trace %s has non-increasing state index %d after %d",
				ErrCorruptFixture, t.Episode, t.States[i].Index, t.States[i-1].Index)
		}
	}
	return nil
}
