// internal/similarity/geometry.go
package similarity

import (
	"math"

	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
)

// Default expansion ratios for the three kinds of neighbourhood search.
const (
	DefaultTextRatio   = 10.0
	DefaultToggleRatio = 5.0
	DefaultClickRatio  = 2.0
)

// Geometry expands anchor boxes around their centre and clamps the result
// to the screen the ground truth was recorded on.
type Geometry struct {
	ScreenWidth  float64
	ScreenHeight float64
}

// DefaultGeometry is the 1080x2400 reference screen.
var DefaultGeometry = Geometry{ScreenWidth: 1080, ScreenHeight: 2400}

// Expand scales b by ratio around its centre, clamped to the screen.
func (g Geometry) Expand(b hierarchy.Box, ratio float64) hierarchy.Box {
	cx, cy := b.Center()
	hw, hh := b.Width()/2*ratio, b.Height()/2*ratio
	return hierarchy.Box{
		X1: math.Max(cx-hw, 0),
		Y1: math.Max(cy-hh, 0),
		X2: math.Min(cx+hw, g.ScreenWidth),
		Y2: math.Min(cy+hh, g.ScreenHeight),
	}
}

// Near reports whether captured lies fully inside anchor expanded by ratio.
// Raising the ratio never turns a true result false.
func (g Geometry) Near(captured, anchor hierarchy.Box, ratio float64) bool {
	return g.Expand(anchor, ratio).Contains(captured)
}

// NearBounds is Near for a raw bounds attribute. Absent or malformed bounds
// are never near anything.
func (g Geometry) NearBounds(captured string, anchor hierarchy.Box, ratio float64) bool {
	b, err := hierarchy.ParseBox(captured)
	if err != nil {
		return false
	}
	return g.Near(b, anchor, ratio)
}
