// internal/hierarchy/positions.go
package hierarchy

import "strings"

// containerSuffixes identify layout classes that only group other views.
var containerSuffixes = []string{
	"Layout",
	"ViewGroup",
	"RecyclerView",
	"ScrollView",
	"ListView",
	"GridView",
	"ViewPager",
	"WebView",
}

func isContainer(class string) bool {
	for _, s := range containerSuffixes {
		if strings.HasSuffix(class, s) {
			return true
		}
	}
	return false
}

// Position is a UI element's box normalized by the screen size, stored y
// first like action coordinates.
type Position struct {
	Y, X, Height, Width float64
}

// UIPositions extracts the boxes of clickable, non-container nodes with a
// positive area, normalized by the given screen size. A tree that yields no
// positions cannot be used to evaluate the state it describes.
func (t *Tree) UIPositions(screenWidth, screenHeight float64) []Position {
	if screenWidth <= 0 || screenHeight <= 0 {
		return nil
	}
	var out []Position
	for _, n := range t.nodes {
		if !n.Clickable() || isContainer(n.Class()) {
			continue
		}
		b, ok := n.Bounds()
		if !ok || b.Area() <= 0 {
			continue
		}
		out = append(out, Position{
			Y:      b.Y1 / screenHeight,
			X:      b.X1 / screenWidth,
			Height: b.Height() / screenHeight,
			Width:  b.Width() / screenWidth,
		})
	}
	return out
}
