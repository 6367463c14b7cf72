// internal/similarity/simplify.go
package similarity

import (
	"strings"
	"unicode"

	"github.com/xkilldash9x/tracecheck/internal/hierarchy"
)

// Simplify flattens a view hierarchy into the text form compared by the
// screen-level scorers. Each node becomes one line holding only its attribute
// values: the short class name, text, resource-id entry, content-desc and
// bounds. Attribute names never appear, so two screens share tokens only
// where their content does.
func Simplify(tree *hierarchy.Tree) string {
	var lines []string
	for _, n := range tree.Nodes() {
		if l := label(n); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// SimplifyRegion is Simplify restricted to nodes lying inside anchor
// expanded by ratio.
func SimplifyRegion(tree *hierarchy.Tree, g Geometry, anchor hierarchy.Box, ratio float64) string {
	var lines []string
	for _, n := range tree.Nodes() {
		if !g.NearBounds(n.Attr(hierarchy.AttrBounds), anchor, ratio) {
			continue
		}
		if l := label(n); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

func label(n hierarchy.Node) string {
	fields := []string{
		shortClass(n.Class()),
		n.Text(),
		resourceEntry(n.ResourceID()),
		n.ContentDesc(),
		boundsToken(n.Attr(hierarchy.AttrBounds)),
	}
	kept := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

// shortClass drops the package: android.widget.TextView becomes TextView.
func shortClass(class string) string {
	return class[strings.LastIndexByte(class, '.')+1:]
}

// resourceEntry drops the package prefix of a resource id, which is the same
// for every node of an app.
func resourceEntry(id string) string {
	if i := strings.Index(id, ":id/"); i >= 0 {
		return id[i+len(":id/"):]
	}
	return id
}

// boundsToken renders "[x1,y1][x2,y2]" as the single token x1_y1_x2_y2, so
// screens share a bounds token only for identically placed nodes.
func boundsToken(bounds string) string {
	nums := strings.FieldsFunc(bounds, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '-'
	})
	if len(nums) != 4 {
		return ""
	}
	return strings.Join(nums, "_")
}
