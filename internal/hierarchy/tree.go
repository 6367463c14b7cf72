// internal/hierarchy/tree.go
package hierarchy

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// Node attribute names written by uiautomator dumps.
const (
	AttrClass       = "class"
	AttrText        = "text"
	AttrResourceID  = "resource-id"
	AttrContentDesc = "content-desc"
	AttrBounds      = "bounds"
	AttrChecked     = "checked"
	AttrClickable   = "clickable"
)

// Node wraps one element of a parsed view hierarchy.
type Node struct {
	el *etree.Element
}

// Tag is the element name, usually "node" (or "hierarchy" for the root).
func (n Node) Tag() string { return n.el.Tag }

// Attr returns the attribute value, or "" when absent.
func (n Node) Attr(name string) string { return n.el.SelectAttrValue(name, "") }

func (n Node) Class() string       { return n.Attr(AttrClass) }
func (n Node) Text() string        { return n.Attr(AttrText) }
func (n Node) ResourceID() string  { return n.Attr(AttrResourceID) }
func (n Node) ContentDesc() string { return n.Attr(AttrContentDesc) }
func (n Node) Checked() bool       { return n.Attr(AttrChecked) == "true" }
func (n Node) Clickable() bool     { return n.Attr(AttrClickable) == "true" }

// DisplayText is the node's text, falling back to its content description.
func (n Node) DisplayText() string {
	if t := n.Text(); t != "" {
		return t
	}
	return n.ContentDesc()
}

// Bounds parses the node's bounds attribute.
func (n Node) Bounds() (Box, bool) {
	b, err := ParseBox(n.Attr(AttrBounds))
	return b, err == nil
}

// IsLeaf reports whether the node has no child elements.
func (n Node) IsLeaf() bool {
	return len(n.el.ChildElements()) == 0
}

// Tree is a parsed view hierarchy. It is read-only once built and safe to
// share between goroutines.
type Tree struct {
	doc   *etree.Document
	nodes []Node
}

// ParseTree parses a view hierarchy dump. The reader is permissive because
// device dumps regularly contain stray control characters.
func ParseTree(data []byte) (*Tree, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrHierarchyUnavailable, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root element", schemas.ErrHierarchyUnavailable)
	}
	t := &Tree{doc: doc}
	t.collect(root)
	return t, nil
}

func (t *Tree) collect(el *etree.Element) {
	t.nodes = append(t.nodes, Node{el: el})
	for _, child := range el.ChildElements() {
		t.collect(child)
	}
}

// Nodes returns every element in document order, root first.
func (t *Tree) Nodes() []Node {
	return t.nodes
}

// Leaves returns the nodes without child elements.
func (t *Tree) Leaves() []Node {
	var out []Node
	for _, n := range t.nodes {
		if n.IsLeaf() {
			out = append(out, n)
		}
	}
	return out
}

// Find resolves a structural path expression such as //*[@text='Done'].
// Double-quoted attribute literals are accepted and rewritten to the single
// quoted form the path compiler understands.
func (t *Tree) Find(path string) (Node, bool, error) {
	if !strings.Contains(path, "'") {
		path = strings.ReplaceAll(path, `"`, `'`)
	}
	p, err := etree.CompilePath(path)
	if err != nil {
		return Node{}, false, fmt.Errorf("%w: path %q: %v", schemas.ErrCorruptFixture, path, err)
	}
	el := t.doc.FindElementPath(p)
	if el == nil {
		return Node{}, false, nil
	}
	return Node{el: el}, true, nil
}

// SmallestContaining returns the smallest-area node whose bounds contain the
// pixel point (x, y).
func (t *Tree) SmallestContaining(x, y float64) (Node, bool) {
	var (
		best     Node
		bestArea = -1.0
	)
	for _, n := range t.nodes {
		b, ok := n.Bounds()
		if !ok || !b.ContainsPoint(x, y) {
			continue
		}
		if a := b.Area(); bestArea < 0 || a < bestArea {
			best, bestArea = n, a
		}
	}
	return best, bestArea >= 0
}
