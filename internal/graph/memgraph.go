package graph

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time assertion: *MemGraph satisfies Engine.
var _ Engine = (*MemGraph)(nil)

// MemGraph implements Engine using Go maps. Thread-safe via sync.RWMutex.
type MemGraph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	byKey map[string][]string // key: "type\x00nkey"
	edges []Edge
	out   map[string][]int // node id -> indexes into edges
	in    map[string][]int
}

// NewMemGraph returns an initialized MemGraph ready for use.
func NewMemGraph() *MemGraph {
	return &MemGraph{
		nodes: make(map[string]Node),
		byKey: make(map[string][]string),
		out:   make(map[string][]int),
		in:    make(map[string][]int),
	}
}

// typeKey builds the composite lookup key for the natural-key index.
func typeKey(etype, key string) string {
	return etype + "\x00" + key
}

// InitSchema is a no-op for the in-memory engine.
func (m *MemGraph) InitSchema(_ context.Context) error {
	return nil
}

// ---------- Write operations ----------

// Apply validates the whole batch before touching any map, which makes it
// atomic.
func (m *MemGraph) Apply(_ context.Context, b Batch) error {
	if err := checkBatch(b); err != nil {
		return fmt.Errorf("memory: apply: %w", err)
	}
	nodes := make([]Node, 0, len(b.Nodes))
	for _, n := range b.Nodes {
		attrs, err := normalizeAttrs(n.Attrs)
		if err != nil {
			return fmt.Errorf("memory: apply: %w", err)
		}
		n.Attrs = attrs
		nodes = append(nodes, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range nodes {
		if _, dup := m.nodes[n.ID]; dup {
			return fmt.Errorf("memory: apply: node %s already exists", n.ID)
		}
	}
	if err := checkEndpoints(context.Background(), b, m.lookupLocked); err != nil {
		return fmt.Errorf("memory: apply: %w", err)
	}

	for _, n := range nodes {
		m.nodes[n.ID] = n
		if n.Key != "" {
			k := typeKey(n.Type, n.Key)
			m.byKey[k] = append(m.byKey[k], n.ID)
		}
	}
	for _, e := range b.Edges {
		idx := len(m.edges)
		m.edges = append(m.edges, e)
		m.out[e.From] = append(m.out[e.From], idx)
		m.in[e.To] = append(m.in[e.To], idx)
	}
	return nil
}

// Load is Apply: maps have no separate bulk path.
func (m *MemGraph) Load(ctx context.Context, b Batch) error {
	return m.Apply(ctx, b)
}

// ---------- Read operations ----------

// FindNodes narrows candidates through the natural-key index when possible,
// then checks links and attributes.
func (m *MemGraph) FindNodes(_ context.Context, p Pattern) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []Node
	if p.Type != "" && p.Key != "" {
		for _, id := range m.byKey[typeKey(p.Type, p.Key)] {
			candidates = append(candidates, m.nodes[id])
		}
	} else {
		for _, n := range m.nodes {
			if p.Type != "" && n.Type != p.Type {
				continue
			}
			if p.Key != "" && n.Key != p.Key {
				continue
			}
			candidates = append(candidates, n)
		}
	}

	linked := candidates[:0]
	for _, n := range candidates {
		if m.hasLinks(n.ID, p.Links) {
			linked = append(linked, copyNode(n))
		}
	}
	return finishNodes(linked, p), nil
}

// hasLinks reports whether node id satisfies every link constraint.
func (m *MemGraph) hasLinks(id string, links []Link) bool {
	for _, l := range links {
		found := false
		if l.Reverse {
			for _, idx := range m.in[id] {
				e := m.edges[idx]
				if e.Type == l.Relation && e.From == l.Target {
					found = true
					break
				}
			}
		} else {
			for _, idx := range m.out[id] {
				e := m.edges[idx]
				if e.Type == l.Relation && e.To == l.Target {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FindEdges returns edges matching p, using the adjacency index when an
// endpoint is given.
func (m *MemGraph) FindEdges(_ context.Context, p EdgePattern) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Edge
	switch {
	case p.From != "":
		for _, idx := range m.out[p.From] {
			if e := m.edges[idx]; matchEdge(e, p) {
				out = append(out, e)
			}
		}
	case p.To != "":
		for _, idx := range m.in[p.To] {
			if e := m.edges[idx]; matchEdge(e, p) {
				out = append(out, e)
			}
		}
	default:
		for _, e := range m.edges {
			if matchEdge(e, p) {
				out = append(out, e)
			}
		}
	}
	sortEdges(out)
	return out, nil
}

// GetNodes returns the nodes among ids that exist, in id order.
func (m *MemGraph) GetNodes(ctx context.Context, ids []string) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(ctx, ids)
}

func (m *MemGraph) lookupLocked(_ context.Context, ids []string) ([]Node, error) {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return out, nil
}

// Sync is a no-op: nothing outlives the process.
func (m *MemGraph) Sync(_ context.Context) error {
	return nil
}

// Stats returns node and edge counts per type.
func (m *MemGraph) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := newStats()
	for _, n := range m.nodes {
		st.NodesByType[n.Type]++
	}
	for _, e := range m.edges {
		st.EdgesByType[e.Type]++
	}
	st.NodeCount = len(m.nodes)
	st.EdgeCount = len(m.edges)
	return st, nil
}

// Close is a no-op for the in-memory engine.
func (m *MemGraph) Close() error {
	return nil
}

// copyNode returns n with its own attribute map so callers cannot mutate
// stored state.
func copyNode(n Node) Node {
	attrs := make(map[string]any, len(n.Attrs))
	for k, v := range n.Attrs {
		attrs[k] = v
	}
	n.Attrs = attrs
	return n
}
