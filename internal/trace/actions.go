// internal/trace/actions.go
package trace

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/checkpoint"
)

// ActionLogParser converts a textual action record into normalized actions.
// Each log dialect gets its own implementation so nothing downstream depends
// on a specific textual format.
type ActionLogParser interface {
	ParseActions(r io.Reader) ([]schemas.Action, error)
}

const nullParam = "NULL"

// ArtifactParser reads the per-step artifact format
// ACTION_TYPE|PARAM1|PARAM2|SCREEN_WIDTH|SCREEN_HEIGHT, one action per line.
type ArtifactParser struct{}

// ParseActions implements ActionLogParser.
func (p ArtifactParser) ParseActions(r io.Reader) ([]schemas.Action, error) {
	var out []schemas.Action
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		a, err := ParseArtifact(line)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read action artifact: %w", err)
	}
	return out, nil
}

// ParseArtifact parses a single action artifact line. CLICK and SWIPE are
// normalized to DUAL_POINT; typed text is normalized here, once.
func ParseArtifact(line string) (schemas.Action, error) {
	fields := strings.Split(strings.TrimSpace(line), "|")
	if len(fields) < 5 {
		return schemas.Action{}, corrupt("action %q: expected 5 fields, got %d", line, len(fields))
	}
	kind := strings.ToUpper(strings.TrimSpace(fields[0]))
	n := len(fields)
	// Typed text may itself contain the delimiter; everything between the
	// kind and the last three fields belongs to the first parameter.
	p1 := strings.Join(fields[1:n-3], "|")
	p2 := strings.TrimSpace(fields[n-3])
	if kind != "TYPE" && n != 5 {
		return schemas.Action{}, corrupt("action %q: expected 5 fields, got %d", line, n)
	}

	width, err := parseDimension(fields[n-2])
	if err != nil {
		return schemas.Action{}, corrupt("action %q: screen width: %v", line, err)
	}
	height, err := parseDimension(fields[n-1])
	if err != nil {
		return schemas.Action{}, corrupt("action %q: screen height: %v", line, err)
	}

	a := schemas.Action{
		Touch:        schemas.UnsetPoint,
		Lift:         schemas.UnsetPoint,
		ScreenWidth:  width,
		ScreenHeight: height,
	}

	switch kind {
	case "CLICK":
		pt, err := ParsePoint(p1)
		if err != nil {
			return schemas.Action{}, corrupt("action %q: click point: %v", line, err)
		}
		a.Type = schemas.ActionDualPoint
		a.Touch, a.Lift = pt, pt
	case "SWIPE":
		start, err := ParsePoint(p1)
		if err != nil {
			return schemas.Action{}, corrupt("action %q: swipe start: %v", line, err)
		}
		end, err := ParsePoint(p2)
		if err != nil {
			return schemas.Action{}, corrupt("action %q: swipe end: %v", line, err)
		}
		a.Type = schemas.ActionDualPoint
		a.Touch, a.Lift = start, end
	case "TYPE":
		a.Type = schemas.ActionTypeText
		if strings.TrimSpace(p1) != nullParam {
			a.TypedText = checkpoint.NormalizeTypedText(p1)
		}
	case "PRESS_BACK", "PRESS_HOME", "PRESS_ENTER", "STATUS_TASK_COMPLETE", "STATUS_TASK_IMPOSSIBLE":
		a.Type = schemas.ActionType(kind)
	default:
		return schemas.Action{}, corrupt("action %q: unknown action type %q", line, kind)
	}
	return a, nil
}

// ParsePoint parses a bracketed [y x] or [y,x] pair.
func ParsePoint(s string) (schemas.Point, error) {
	s = strings.TrimSpace(s)
	if s == nullParam || s == "" {
		return schemas.Point{}, fmt.Errorf("point is absent")
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return schemas.Point{}, fmt.Errorf("point %q is not bracketed", s)
	}
	parts := strings.Fields(strings.ReplaceAll(s[1:len(s)-1], ",", " "))
	if len(parts) != 2 {
		return schemas.Point{}, fmt.Errorf("point %q must have two coordinates", s)
	}
	y, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	x, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return schemas.Point{Y: y, X: x}, nil
}

func parseDimension(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == nullParam || s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative dimension %d", v)
	}
	return v, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", schemas.ErrCorruptFixture, fmt.Sprintf(format, args...))
}

// -- Legacy event log --

var (
	eventKindPattern  = regexp.MustCompile(`【(?P<kind>.+?)】`)
	eventTapPattern   = regexp.MustCompile(`屏幕大小：（w(\d+)，h(\d+)），触摸位置：（x(\d+)，y(\d+)）`)
	eventSwipePattern = regexp.MustCompile(`屏幕大小：（w(\d+)，h(\d+)），起始位置：（x(\d+)，y(\d+)），结束位置：（x(\d+)，y(\d+)）`)
	eventTextPattern  = regexp.MustCompile(`【键盘输入】(.*)`)
)

// Event kinds used by the recorder that produced eventStructs.txt.
const (
	eventHome  = "Home键"
	eventBack  = "Back键"
	eventTap   = "点击事件"
	eventSwipe = "滑动事件"
	eventInput = "键盘输入"
)

// EventLogParser reads the bilingual eventStructs.txt log written while the
// ground-truth traces were recorded. The recorder never logs task completion,
// so a STATUS_TASK_COMPLETE action is appended after the last event.
type EventLogParser struct{}

// ParseActions implements ActionLogParser.
func (p EventLogParser) ParseActions(r io.Reader) ([]schemas.Action, error) {
	var out []schemas.Action
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		a, err := parseEvent(line)
		if err != nil {
			return nil, fmt.Errorf("event log line %d: %w", lineNo, err)
		}
		out = append(out, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	out = append(out, schemas.Action{
		Type:  schemas.ActionStatusTaskComplete,
		Touch: schemas.UnsetPoint,
		Lift:  schemas.UnsetPoint,
	})
	return out, nil
}

func parseEvent(line string) (schemas.Action, error) {
	m := eventKindPattern.FindStringSubmatch(line)
	if m == nil {
		return schemas.Action{}, corrupt("event %q has no bracketed kind", line)
	}
	a := schemas.Action{Touch: schemas.UnsetPoint, Lift: schemas.UnsetPoint}

	switch m[1] {
	case eventHome:
		a.Type = schemas.ActionPressHome
	case eventBack:
		a.Type = schemas.ActionPressBack
	case eventTap:
		g := eventTapPattern.FindStringSubmatch(line)
		if g == nil {
			return schemas.Action{}, corrupt("tap event %q does not match the recorder format", line)
		}
		v := atoiAll(g[1:])
		if v[0] == 0 || v[1] == 0 {
			return schemas.Action{}, corrupt("tap event %q has a zero screen size", line)
		}
		pt := schemas.Point{Y: float64(v[3]) / float64(v[1]), X: float64(v[2]) / float64(v[0])}
		a.Type = schemas.ActionDualPoint
		a.Touch, a.Lift = pt, pt
		a.ScreenWidth, a.ScreenHeight = v[0], v[1]
	case eventSwipe:
		g := eventSwipePattern.FindStringSubmatch(line)
		if g == nil {
			return schemas.Action{}, corrupt("swipe event %q does not match the recorder format", line)
		}
		v := atoiAll(g[1:])
		if v[0] == 0 || v[1] == 0 {
			return schemas.Action{}, corrupt("swipe event %q has a zero screen size", line)
		}
		w, h := float64(v[0]), float64(v[1])
		a.Type = schemas.ActionDualPoint
		a.Touch = schemas.Point{Y: float64(v[3]) / h, X: float64(v[2]) / w}
		a.Lift = schemas.Point{Y: float64(v[5]) / h, X: float64(v[4]) / w}
		a.ScreenWidth, a.ScreenHeight = v[0], v[1]
	case eventInput:
		g := eventTextPattern.FindStringSubmatch(line)
		a.Type = schemas.ActionTypeText
		if g != nil {
			a.TypedText = checkpoint.NormalizeTypedText(g[1])
		}
	default:
		return schemas.Action{}, corrupt("unknown event kind %q", m[1])
	}
	return a, nil
}

// atoiAll converts regexp digit groups; the patterns guarantee digits only.
func atoiAll(groups []string) []int {
	out := make([]int, len(groups))
	for i, g := range groups {
		out[i], _ = strconv.Atoi(g)
	}
	return out
}

// -- Activity artifacts --

var activityPattern = regexp.MustCompile(`(com\.[\w./]+)|mObscuringWindow=(null)`)

// ExtractActivity pulls the foreground window identifier out of an activity
// artifact. The literal null means the window could not be determined.
func ExtractActivity(content string) (string, error) {
	m := activityPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return "", corrupt("activity artifact %q names no window", strings.TrimSpace(content))
	}
	if m[1] != "" {
		return m[1], nil
	}
	return schemas.NullActivity, nil
}
