// internal/hierarchy/bounds.go
package hierarchy

import (
	"fmt"
	"strconv"
	"strings"
)

// Box is an axis-aligned screen rectangle in pixels, as encoded by the
// "[x1,y1][x2,y2]" bounds attribute of a view hierarchy node.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// ParseBox parses a bounds attribute. Empty values and the literal "None"
// written by some dumpers are reported as errors.
func ParseBox(s string) (Box, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return Box{}, fmt.Errorf("bounds are absent")
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Box{}, fmt.Errorf("bounds %q are not bracketed", s)
	}
	pairs := strings.Split(s[1:len(s)-1], "][")
	if len(pairs) != 2 {
		return Box{}, fmt.Errorf("bounds %q must contain two corners", s)
	}
	var v [4]float64
	for i, pair := range pairs {
		x, y, ok := strings.Cut(pair, ",")
		if !ok {
			return Box{}, fmt.Errorf("bounds %q: corner %q has no comma", s, pair)
		}
		xi, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return Box{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		yi, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil {
			return Box{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[2*i], v[2*i+1] = float64(xi), float64(yi)
	}
	return Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// Width is always non-negative, even for boxes with swapped corners.
func (b Box) Width() float64 {
	if b.X2 < b.X1 {
		return b.X1 - b.X2
	}
	return b.X2 - b.X1
}

// Height is always non-negative, even for boxes with swapped corners.
func (b Box) Height() float64 {
	if b.Y2 < b.Y1 {
		return b.Y1 - b.Y2
	}
	return b.Y2 - b.Y1
}

func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the midpoint of the box.
func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// ContainsPoint reports whether (x, y) lies inside the box, edges included.
func (b Box) ContainsPoint(x, y float64) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// Contains reports whether inner lies fully inside b, edges included.
func (b Box) Contains(inner Box) bool {
	return inner.X1 >= b.X1 && inner.Y1 >= b.Y1 && inner.X2 <= b.X2 && inner.Y2 <= b.Y2
}

// String renders the box in bounds-attribute form.
func (b Box) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}
