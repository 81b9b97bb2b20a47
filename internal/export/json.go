package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/dusk-indust/cohortgraph/internal/graph"
)

// GraphExport is the top-level JSON export structure.
type GraphExport struct {
	ExportedAt string           `json:"exportedAt"`
	Root       EntityExport     `json:"root"`
	Entities   []EntityExport   `json:"entities"`
	Relations  []RelationExport `json:"relations"`
	Truncated  bool             `json:"truncated,omitempty"`
}

// EntityExport describes one entity.
type EntityExport struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Key   string         `json:"key,omitempty"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// RelationExport describes one relation.
type RelationExport struct {
	From string `json:"from"`
	Type string `json:"type"`
	To   string `json:"to"`
}

// ExportNeighbourhood builds a GraphExport from a collected neighbourhood.
func ExportNeighbourhood(n *Neighbourhood, now time.Time) *GraphExport {
	export := &GraphExport{
		ExportedAt: now.UTC().Format(time.RFC3339),
		Root:       entity(n.Root),
		Entities:   make([]EntityExport, 0, len(n.Nodes)),
		Relations:  make([]RelationExport, 0, len(n.Edges)),
		Truncated:  n.Truncated,
	}
	for _, node := range n.Nodes {
		export.Entities = append(export.Entities, entity(node))
	}
	for _, e := range n.Edges {
		export.Relations = append(export.Relations, RelationExport{From: e.From, Type: e.Type, To: e.To})
	}
	return export
}

func entity(n graph.Node) EntityExport {
	return EntityExport{ID: n.ID, Type: n.Type, Key: n.Key, Attrs: n.Attrs}
}

// WriteJSON writes the export as indented JSON.
func WriteJSON(w io.Writer, export *GraphExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
