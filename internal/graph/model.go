package graph

// --- Models ---

// Node is one entity in the graph.
type Node struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Key is the natural-key value rendered as text, "" when the type has none.
	Key   string         `json:"key,omitempty"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Edge is a typed, directed relation between two nodes.
type Edge struct {
	From string `json:"from"`
	Type string `json:"type"`
	To   string `json:"to"`
}

// Batch is a unit of writes handed to an engine.
type Batch struct {
	Nodes []Node
	Edges []Edge
}

// Len returns the number of writes in the batch.
func (b Batch) Len() int { return len(b.Nodes) + len(b.Edges) }

// Link constrains a node to have an edge of type Relation to Target.
// With Reverse set the edge must run from Target to the node instead.
type Link struct {
	Relation string `json:"relation"`
	Target   string `json:"target"`
	Reverse  bool   `json:"reverse,omitempty"`
}

// Pattern is a parameterized node query. Empty fields match everything.
type Pattern struct {
	Type  string         `json:"type,omitempty"`
	Key   string         `json:"key,omitempty"`
	Attrs map[string]any `json:"attrs,omitempty"`
	Links []Link         `json:"links,omitempty"`
	// Limit caps the number of results; 0 means no limit.
	Limit int `json:"limit,omitempty"`
}

// EdgePattern is an edge query. Empty fields are wildcards.
type EdgePattern struct {
	From string `json:"from,omitempty"`
	Type string `json:"type,omitempty"`
	To   string `json:"to,omitempty"`
}

// Stats summarizes the contents of an engine.
type Stats struct {
	NodeCount   int            `json:"nodeCount"`
	EdgeCount   int            `json:"edgeCount"`
	NodesByType map[string]int `json:"nodesByType"`
	EdgesByType map[string]int `json:"edgesByType"`
}
