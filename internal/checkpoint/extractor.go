// internal/checkpoint/extractor.go
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// annotationFile matches N.text and N_drawed.png.text style names.
var annotationFile = regexp.MustCompile(`^(\d+)(?:_[^.]*)?(?:\.png)?\.text$`)

// Annotation is the checkpoint set attached to one ground-truth step.
type Annotation struct {
	StateIndex  int
	Source      string
	Checkpoints []schemas.Checkpoint
}

// Extractor reads annotation artifacts from a ground-truth episode directory.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("checkpoint")}
}

// ExtractDir returns the annotations found in dir, ordered by the numeric
// step index encoded in each file name. Directory listing order is never
// trusted.
func (e *Extractor) ExtractDir(dir string) ([]Annotation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation directory %s: %w", dir, err)
	}

	seen := make(map[int]string)
	var out []Annotation
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".text") {
			continue
		}
		m := annotationFile.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("%w: annotation file %s has no numeric step prefix", schemas.ErrCorruptFixture, name)
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: annotation file %s: %v", schemas.ErrCorruptFixture, name, err)
		}
		if prev, dup := seen[idx]; dup {
			return nil, fmt.Errorf("%w: step %d annotated twice (%s, %s)", schemas.ErrCorruptFixture, idx, prev, name)
		}
		seen[idx] = name

		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read annotation %s: %w", path, err)
		}
		cps, err := ParseAnnotation(string(content), idx)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Source = path
			}
			return nil, err
		}
		if len(cps) == 0 {
			e.logger.Debug("Annotation file carries no checkpoints", zap.String("file", path))
			continue
		}
		out = append(out, Annotation{StateIndex: idx, Source: path, Checkpoints: cps})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StateIndex < out[j].StateIndex })
	e.logger.Debug("Extracted checkpoints", zap.String("dir", dir), zap.Int("annotated_steps", len(out)))
	return out, nil
}
