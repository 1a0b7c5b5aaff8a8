// Package topology holds the immutable neighbor relation a wave runs over.
package topology

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/ryandielhenn/wavetree/pkg/wave"
)

var ErrInvalidGraph = errors.New("topology: invalid graph")

// Graph is an undirected graph. It is a value: nothing hands out its
// internal slices, so a Graph can be shared freely once built.
type Graph struct {
	vertices []wave.NodeID
	adj      map[wave.NodeID][]wave.NodeID
}

// New validates adj and builds a Graph from it. Every id used as a neighbor
// must also be a key, no vertex may list itself, and the relation must be
// symmetric. Repeated neighbor entries are collapsed, first occurrence wins.
func New(adj map[wave.NodeID][]wave.NodeID) (Graph, error) {
	g := Graph{adj: make(map[wave.NodeID][]wave.NodeID, len(adj))}
	for v, nbs := range adj {
		if v == "" {
			return Graph{}, fmt.Errorf("%w: empty vertex id", ErrInvalidGraph)
		}
		seen := make(map[wave.NodeID]struct{}, len(nbs))
		out := make([]wave.NodeID, 0, len(nbs))
		for _, n := range nbs {
			if n == v {
				return Graph{}, fmt.Errorf("%w: self loop at %s", ErrInvalidGraph, v)
			}
			if _, ok := adj[n]; !ok {
				return Graph{}, fmt.Errorf("%w: %s lists unknown neighbor %s", ErrInvalidGraph, v, n)
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
		g.adj[v] = out
		g.vertices = append(g.vertices, v)
	}
	for v, nbs := range g.adj {
		for _, n := range nbs {
			if !slices.Contains(g.adj[n], v) {
				return Graph{}, fmt.Errorf("%w: edge %s-%s is not symmetric", ErrInvalidGraph, v, n)
			}
		}
	}
	slices.SortFunc(g.vertices, compareIDs)
	return g, nil
}

// compareIDs orders numeric ids numerically and everything else lexically,
// numbers first.
func compareIDs(a, b wave.NodeID) int {
	ai, aErr := strconv.Atoi(string(a))
	bi, bErr := strconv.Atoi(string(b))
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(ai, bi)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// Vertices returns all vertex ids in sorted order.
func (g Graph) Vertices() []wave.NodeID {
	return slices.Clone(g.vertices)
}

func (g Graph) Len() int { return len(g.vertices) }

func (g Graph) Has(id wave.NodeID) bool {
	_, ok := g.adj[id]
	return ok
}

// Neighbors returns a copy of id's neighbor list in declaration order.
func (g Graph) Neighbors(id wave.NodeID) []wave.NodeID {
	return slices.Clone(g.adj[id])
}

func (g Graph) Adjacent(a, b wave.NodeID) bool {
	return slices.Contains(g.adj[a], b)
}

func (g Graph) Edges() int {
	n := 0
	for _, nbs := range g.adj {
		n += len(nbs)
	}
	return n / 2
}

// Reachable returns every vertex reachable from root, root included.
func (g Graph) Reachable(root wave.NodeID) map[wave.NodeID]bool {
	seen := map[wave.NodeID]bool{}
	if !g.Has(root) {
		return seen
	}
	seen[root] = true
	queue := []wave.NodeID{root}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, n := range g.adj[v] {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

// Connected reports whether every vertex is reachable from every other.
func (g Graph) Connected() bool {
	if len(g.vertices) == 0 {
		return true
	}
	return len(g.Reachable(g.vertices[0])) == len(g.vertices)
}
