package coordinator

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ryandielhenn/wavetree/pkg/topology"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

var ErrInvalidTree = errors.New("coordinator: invalid spanning tree")

// Tree is the set of node snapshots taken at the end of a run.
type Tree struct {
	Root  wave.NodeID
	Nodes map[wave.NodeID]wave.Snapshot

	graph topology.Graph
}

// Parent returns id's parent and whether id was reached.
func (t Tree) Parent(id wave.NodeID) (wave.NodeID, bool) {
	s, ok := t.Nodes[id]
	if !ok || !s.Reached() {
		return "", false
	}
	return s.Parent, true
}

// Depth is the number of parent hops from id to the root, or -1 when id was
// not reached or its chain is broken.
func (t Tree) Depth(id wave.NodeID) int {
	d := 0
	for cur := id; ; d++ {
		p, ok := t.Parent(cur)
		if !ok || d > len(t.Nodes) {
			return -1
		}
		if p == cur {
			if cur != t.Root {
				return -1
			}
			return d
		}
		cur = p
	}
}

// Reached lists every node with a parent, in vertex order.
func (t Tree) Reached() []wave.NodeID {
	var out []wave.NodeID
	for _, id := range t.graph.Vertices() {
		if _, ok := t.Parent(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// Unreached lists every node without a parent, in vertex order.
func (t Tree) Unreached() []wave.NodeID {
	var out []wave.NodeID
	for _, id := range t.graph.Vertices() {
		if _, ok := t.Parent(id); !ok {
			out = append(out, id)
		}
	}
	return out
}

// Missing lists nodes that are reachable from the root in the graph but were
// not reached by the wave.
func (t Tree) Missing() []wave.NodeID {
	reach := t.graph.Reachable(t.Root)
	var out []wave.NodeID
	for _, id := range t.graph.Vertices() {
		if _, ok := t.Parent(id); reach[id] && !ok {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks the parent relation: the root is its own parent, no other
// node is, every other parent is a graph neighbor, and every chain ends at
// the root.
func (t Tree) Validate() error {
	if p, ok := t.Parent(t.Root); !ok || p != t.Root {
		return fmt.Errorf("%w: root %s has parent %q", ErrInvalidTree, t.Root, p)
	}
	for _, id := range t.Reached() {
		p, _ := t.Parent(id)
		if id != t.Root && p == id {
			return fmt.Errorf("%w: %s is its own parent but is not the root", ErrInvalidTree, id)
		}
		if id != t.Root && !t.graph.Adjacent(id, p) {
			return fmt.Errorf("%w: %s has non-neighbor parent %s", ErrInvalidTree, id, p)
		}
		if t.Depth(id) < 0 {
			return fmt.Errorf("%w: parent chain from %s does not reach the root", ErrInvalidTree, id)
		}
	}
	return nil
}

// Format renders the tree with two-space indentation per level, children in
// vertex order, followed by any unreached nodes.
func (t Tree) Format(w io.Writer) error {
	children := map[wave.NodeID][]wave.NodeID{}
	for _, id := range t.Reached() {
		if p, _ := t.Parent(id); p != id {
			children[p] = append(children[p], id)
		}
	}
	var b strings.Builder
	var walk func(id wave.NodeID, depth int)
	walk = func(id wave.NodeID, depth int) {
		s := t.Nodes[id]
		fmt.Fprintf(&b, "%s%s (waiting=%d)\n", strings.Repeat("  ", depth), id, len(s.WaitingFrom))
		for _, c := range children[id] {
			walk(c, depth+1)
		}
	}
	if _, ok := t.Parent(t.Root); ok {
		walk(t.Root, 0)
	}
	if un := t.Unreached(); len(un) > 0 {
		parts := make([]string, len(un))
		for i, id := range un {
			parts[i] = string(id)
		}
		fmt.Fprintf(&b, "unreached: %s\n", strings.Join(parts, " "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
