// internal/similarity/imagepatch.go
package similarity

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/corona10/goimagehash"

	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
)

// DefaultImageHashBound is the largest perceptual-hash distance still
// counted as a match.
const DefaultImageHashBound = 1

// PatchMatcher compares the same screen region across two screenshots of
// possibly different resolutions.
type PatchMatcher struct {
	Bound int
}

// Match crops box (in reference pixels) from reference, rescales it
// proportionally onto candidate, and compares the perceptual hashes of both
// crops. It returns the hash distance and whether it is within the bound.
func (p PatchMatcher) Match(reference, candidate image.Image, box hierarchy.Box) (int, bool, error) {
	rb := reference.Bounds()
	if rb.Dx() == 0 || rb.Dy() == 0 {
		return 0, false, fmt.Errorf("reference screenshot is empty")
	}
	// Normalize by the reference resolution, then project onto the candidate.
	norm := [4]float64{
		box.X1 / float64(rb.Dx()), box.Y1 / float64(rb.Dy()),
		box.X2 / float64(rb.Dx()), box.Y2 / float64(rb.Dy()),
	}
	refRect := project(norm, rb)
	candRect := project(norm, candidate.Bounds())
	if refRect.Empty() || candRect.Empty() {
		return 0, false, fmt.Errorf("patch %s is empty after projection", box)
	}

	refHash, err := goimagehash.PerceptionHash(crop(reference, refRect))
	if err != nil {
		return 0, false, fmt.Errorf("failed to hash reference patch: %w", err)
	}
	candHash, err := goimagehash.PerceptionHash(crop(candidate, candRect))
	if err != nil {
		return 0, false, fmt.Errorf("failed to hash candidate patch: %w", err)
	}
	d, err := refHash.Distance(candHash)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compare patch hashes: %w", err)
	}
	return d, d <= p.Bound, nil
}

func project(norm [4]float64, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		bounds.Min.X+int(math.Round(norm[0]*w)), bounds.Min.Y+int(math.Round(norm[1]*h)),
		bounds.Min.X+int(math.Round(norm[2]*w)), bounds.Min.Y+int(math.Round(norm[3]*h)),
	)
	return r.Intersect(bounds)
}

// crop copies r out of img into a fresh RGBA image anchored at the origin.
func crop(img image.Image, r image.Rectangle) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
