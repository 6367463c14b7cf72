// internal/similarity/scorer.go
package similarity

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// Default thresholds. A score counts as similar when it is at least the
// threshold.
const (
	DefaultTextboxThreshold  = 0.8
	DefaultScreenThreshold   = 0.8
	DefaultRegionThreshold   = 0.65
	DefaultActivityThreshold = 0.95
)

// Scorer rates how similar two texts are on a [0,1] scale.
type Scorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, a, b string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}

// Similar scores a and b and compares the result against threshold.
func Similar(ctx context.Context, s Scorer, a, b string, threshold float64) (bool, float64, error) {
	score, err := s.Score(ctx, a, b)
	if err != nil {
		return false, 0, err
	}
	return score >= threshold, score, nil
}

// tokenPattern keeps words of two or more letters, digits or underscores.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// TokenCosineScorer is the offline default: cosine similarity between the
// lower-cased token count vectors of both texts. It is deterministic and
// needs no network access.
type TokenCosineScorer struct{}

// Score implements Scorer. Identical texts always score 1, and two texts
// without any tokens score 1 only when they are equal.
func (TokenCosineScorer) Score(_ context.Context, a, b string) (float64, error) {
	if a == b {
		return 1, nil
	}
	va, vb := termCounts(a), termCounts(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0, nil
	}
	var dot, na, nb float64
	for term, ca := range va {
		na += ca * ca
		if cb, ok := vb[term]; ok {
			dot += ca * cb
		}
	}
	for _, cb := range vb {
		nb += cb * cb
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}

func termCounts(s string) map[string]float64 {
	counts := make(map[string]float64)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		counts[tok]++
	}
	return counts
}

// CosineFloat32 is the cosine similarity of two embedding vectors, clamped
// to [0,1]. Mismatched or zero vectors score 0.
func CosineFloat32(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
