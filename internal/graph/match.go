package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dusk-indust/cohortgraph/internal/schema"
)

// ErrUnknownNode is returned when an edge references a node id the engine
// does not hold.
var ErrUnknownNode = errors.New("unknown node")

// ---------- Batch validation ----------

// checkBatch rejects malformed writes before they reach a backend.
func checkBatch(b Batch) error {
	seen := make(map[string]bool, len(b.Nodes))
	for _, n := range b.Nodes {
		if n.ID == "" || n.Type == "" {
			return fmt.Errorf("node without id or type: %+v", n)
		}
		if seen[n.ID] {
			return fmt.Errorf("node %s appears twice in batch", n.ID)
		}
		seen[n.ID] = true
	}
	for _, e := range b.Edges {
		if e.From == "" || e.To == "" || e.Type == "" {
			return fmt.Errorf("incomplete edge: %+v", e)
		}
	}
	return nil
}

// edgeEndpoints returns the endpoint ids of b's edges that are not created by
// b itself.
func edgeEndpoints(b Batch) []string {
	inBatch := make(map[string]bool, len(b.Nodes))
	for _, n := range b.Nodes {
		inBatch[n.ID] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range b.Edges {
		for _, id := range [2]string{e.From, e.To} {
			if inBatch[id] || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// checkEndpoints verifies that every edge endpoint outside the batch is known
// to the engine, using lookup to fetch the existing subset.
func checkEndpoints(ctx context.Context, b Batch, lookup func(context.Context, []string) ([]Node, error)) error {
	ids := edgeEndpoints(b)
	if len(ids) == 0 {
		return nil
	}
	found, err := lookup(ctx, ids)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(found))
	for _, n := range found {
		known[n.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownNode, strings.Join(missing, ", "))
	}
	return nil
}

// ---------- Attribute encoding ----------

// encodeAttrs renders attributes as a JSON object. Every engine stores
// attributes this way so values read back identically everywhere.
func encodeAttrs(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attrs: %w", err)
	}
	return string(raw), nil
}

func decodeAttrs(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil, fmt.Errorf("decode attrs: %w", err)
	}
	return attrs, nil
}

// normalizeAttrs round-trips attrs through JSON.
func normalizeAttrs(attrs map[string]any) (map[string]any, error) {
	raw, err := encodeAttrs(attrs)
	if err != nil {
		return nil, err
	}
	return decodeAttrs(raw)
}

// ---------- Matching ----------

// MatchAttrs reports whether have holds every attribute in want with an
// equal value.
func MatchAttrs(have, want map[string]any) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok || !ValueEqual(h, w) {
			return false
		}
	}
	return true
}

// ValueEqual compares two attribute values. Numbers compare numerically
// whatever their Go type; everything else compares by its key rendering.
func ValueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aNum := toFloat64(a)
	fb, bNum := toFloat64(b)
	if aNum && bNum {
		return fa == fb
	}
	return schema.KeyString(a) == schema.KeyString(b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// finishNodes applies the attribute filter and limit of p to candidates that
// already satisfy its type, key and link constraints, in id order.
func finishNodes(candidates []Node, p Pattern) []Node {
	sortNodes(candidates)
	out := candidates[:0]
	for _, n := range candidates {
		if !MatchAttrs(n.Attrs, p.Attrs) {
			continue
		}
		out = append(out, n)
		if p.Limit > 0 && len(out) >= p.Limit {
			break
		}
	}
	return out
}

// matchEdge reports whether e satisfies p.
func matchEdge(e Edge, p EdgePattern) bool {
	return (p.From == "" || p.From == e.From) &&
		(p.Type == "" || p.Type == e.Type) &&
		(p.To == "" || p.To == e.To)
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		return edges[i].To < edges[j].To
	})
}

func newStats() *Stats {
	return &Stats{NodesByType: map[string]int{}, EdgesByType: map[string]int{}}
}
