// Package export renders the neighbourhood of an entity as JSON or as a
// Mermaid diagram.
package export

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dusk-indust/cohortgraph/internal/graph"
)

// ErrNotFound is returned when the root entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Defaults for Collect.
const (
	DefaultDepth    = 1
	DefaultMaxNodes = 500
)

// Options bounds a neighbourhood walk.
type Options struct {
	// Depth is the number of hops from the root, in either direction.
	Depth int
	// MaxNodes stops the walk once this many nodes were reached.
	MaxNodes int
}

// Neighbourhood is a connected slice of the graph around Root.
type Neighbourhood struct {
	Root  graph.Node
	Nodes []graph.Node
	Edges []graph.Edge
	// Truncated is set when MaxNodes cut the walk short.
	Truncated bool
}

// FindRoot returns the single entity matching p.
func FindRoot(ctx context.Context, eng graph.Engine, p graph.Pattern) (graph.Node, error) {
	p.Limit = 2
	nodes, err := eng.FindNodes(ctx, p)
	if err != nil {
		return graph.Node{}, fmt.Errorf("export: find root: %w", err)
	}
	switch len(nodes) {
	case 0:
		return graph.Node{}, fmt.Errorf("export: %s %q: %w", p.Type, p.Key, ErrNotFound)
	case 1:
		return nodes[0], nil
	default:
		return graph.Node{}, fmt.Errorf("export: %s %q matches more than one entity", p.Type, p.Key)
	}
}

// Collect walks the edges around rootID breadth first, following relations
// in both directions.
func Collect(ctx context.Context, eng graph.Engine, rootID string, opts Options) (*Neighbourhood, error) {
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	roots, err := eng.GetNodes(ctx, []string{rootID})
	if err != nil {
		return nil, fmt.Errorf("export: get root: %w", err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("export: %q: %w", rootID, ErrNotFound)
	}

	n := &Neighbourhood{Root: roots[0]}
	seen := map[string]bool{rootID: true}
	edgeSeen := make(map[graph.Edge]bool)
	frontier := []string{rootID}

walk:
	for depth := 0; depth < opts.Depth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			out, err := eng.FindEdges(ctx, graph.EdgePattern{From: id})
			if err != nil {
				return nil, fmt.Errorf("export: edges from %s: %w", id, err)
			}
			in, err := eng.FindEdges(ctx, graph.EdgePattern{To: id})
			if err != nil {
				return nil, fmt.Errorf("export: edges to %s: %w", id, err)
			}
			for _, e := range append(out, in...) {
				other := e.To
				if other == id {
					other = e.From
				}
				if !seen[other] {
					if len(seen) >= opts.MaxNodes {
						n.Truncated = true
						continue
					}
					seen[other] = true
					next = append(next, other)
				}
				if !edgeSeen[e] {
					edgeSeen[e] = true
					n.Edges = append(n.Edges, e)
				}
			}
			if n.Truncated && len(seen) >= opts.MaxNodes {
				break walk
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	nodes, err := eng.GetNodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("export: get nodes: %w", err)
	}
	slices.SortFunc(nodes, func(a, b graph.Node) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Key, b.Key), cmp.Compare(a.ID, b.ID))
	})
	slices.SortFunc(n.Edges, func(a, b graph.Edge) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	n.Nodes = nodes
	return n, nil
}
