// internal/hierarchy/sidecar.go
package hierarchy

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SidecarNode is one entry of the simplified JSON sidecar written next to a
// view hierarchy dump. Checkpoint node ids index into this array.
type SidecarNode struct {
	Bounds      string `json:"bounds"`
	Class       string `json:"class"`
	Text        string `json:"text"`
	ResourceID  string `json:"resource-id"`
	ContentDesc string `json:"content-desc"`
}

// DisplayText is the node's text, falling back to its content description.
func (n SidecarNode) DisplayText() string {
	if n.Text != "" {
		return n.Text
	}
	return n.ContentDesc
}

// Box parses the node's bounds.
func (n SidecarNode) Box() (Box, error) {
	b, err := ParseBox(n.Bounds)
	if err != nil {
		return Box{}, fmt.Errorf("%w: sidecar node bounds: %v", schemas.ErrCorruptFixture, err)
	}
	return b, nil
}

// Sidecar is a decoded sidecar array.
type Sidecar []SidecarNode

// ParseSidecar decodes a sidecar document.
func ParseSidecar(data []byte) (Sidecar, error) {
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: sidecar: %v", schemas.ErrCorruptFixture, err)
	}
	return s, nil
}

// Node returns the entry for a checkpoint node id. An id outside the array
// means the annotation and the sidecar disagree.
func (s Sidecar) Node(id int) (SidecarNode, error) {
	if id < 0 || id >= len(s) {
		return SidecarNode{}, fmt.Errorf("%w: node id %d outside sidecar of %d nodes", schemas.ErrCorruptFixture, id, len(s))
	}
	return s[id], nil
}
