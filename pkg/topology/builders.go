package topology

import (
	"math/rand"
	"strconv"

	"github.com/ryandielhenn/wavetree/pkg/wave"
)

// builder accumulates undirected edges over vertices "0".."n-1".
type builder struct {
	adj map[wave.NodeID][]wave.NodeID
}

func newBuilder(n int) *builder {
	b := &builder{adj: make(map[wave.NodeID][]wave.NodeID, n)}
	for i := range n {
		b.adj[vid(i)] = []wave.NodeID{}
	}
	return b
}

func vid(i int) wave.NodeID { return wave.NodeID(strconv.Itoa(i)) }

func (b *builder) edge(i, j int) {
	a, c := vid(i), vid(j)
	for _, n := range b.adj[a] {
		if n == c {
			return
		}
	}
	b.adj[a] = append(b.adj[a], c)
	b.adj[c] = append(b.adj[c], a)
}

func (b *builder) graph() Graph {
	g, err := New(b.adj)
	if err != nil {
		// edges are added in pairs, so this cannot fail
		panic(err)
	}
	return g
}

// Path returns 0-1-...-(n-1).
func Path(n int) Graph {
	b := newBuilder(n)
	for i := 1; i < n; i++ {
		b.edge(i-1, i)
	}
	return b.graph()
}

// Star returns center 0 connected to 1..n-1.
func Star(n int) Graph {
	b := newBuilder(n)
	for i := 1; i < n; i++ {
		b.edge(0, i)
	}
	return b.graph()
}

// Ring returns a cycle over n vertices. Rings of fewer than 3 vertices
// degrade to a path.
func Ring(n int) Graph {
	b := newBuilder(n)
	for i := 1; i < n; i++ {
		b.edge(i-1, i)
	}
	if n > 2 {
		b.edge(n-1, 0)
	}
	return b.graph()
}

// Complete returns the complete graph on n vertices.
func Complete(n int) Graph {
	b := newBuilder(n)
	for i := range n {
		for j := i + 1; j < n; j++ {
			b.edge(i, j)
		}
	}
	return b.graph()
}

// Random returns a connected graph: a random spanning tree plus up to extra
// additional edges.
func Random(n, extra int, rng *rand.Rand) Graph {
	b := newBuilder(n)
	for i := 1; i < n; i++ {
		b.edge(rng.Intn(i), i)
	}
	if n > 1 {
		for range extra {
			i, j := rng.Intn(n), rng.Intn(n)
			if i != j {
				b.edge(i, j)
			}
		}
	}
	return b.graph()
}
