package topology

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ryandielhenn/wavetree/pkg/wave"
)

// ParseAdjacency reads one vertex per line:
//
//	# comment
//	0: 1 2
//	1 0 2
//	2: 0, 1
//
// The first token names the vertex (a trailing ':' is optional), the rest
// are its neighbors, separated by spaces or commas. A vertex may appear on
// several lines; its neighbor lists are concatenated.
func ParseAdjacency(r io.Reader) (Graph, error) {
	adj := map[wave.NodeID][]wave.NodeID{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		var head string
		var rest []string
		if before, after, ok := strings.Cut(line, ":"); ok {
			head = strings.TrimSpace(before)
			rest = splitIDs(after)
			if head == "" {
				return Graph{}, fmt.Errorf("%w: line %d: missing vertex id", ErrInvalidGraph, lineNo)
			}
		} else {
			fields := splitIDs(line)
			if len(fields) == 0 {
				continue
			}
			head, rest = fields[0], fields[1:]
		}
		v := wave.NodeID(head)
		if _, ok := adj[v]; !ok {
			adj[v] = []wave.NodeID{}
		}
		for _, n := range rest {
			adj[v] = append(adj[v], wave.NodeID(n))
		}
	}
	if err := sc.Err(); err != nil {
		return Graph{}, fmt.Errorf("topology: read adjacency: %w", err)
	}
	return New(adj)
}

func splitIDs(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
}

// LoadFile parses the adjacency file at path.
func LoadFile(path string) (Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return Graph{}, fmt.Errorf("topology load failed (%s): %w", path, err)
	}
	defer f.Close()
	g, err := ParseAdjacency(f)
	if err != nil {
		return Graph{}, fmt.Errorf("topology parse failed (%s): %w", path, err)
	}
	return g, nil
}

// Format writes g in the format ParseAdjacency reads.
func (g Graph) Format(w io.Writer) error {
	for _, v := range g.vertices {
		nbs := make([]string, 0, len(g.adj[v]))
		for _, n := range g.adj[v] {
			nbs = append(nbs, string(n))
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", v, strings.Join(nbs, " ")); err != nil {
			return err
		}
	}
	return nil
}
