package mcptools

import (
	"github.com/dusk-indust/cohortgraph/internal/export"
	"github.com/dusk-indust/cohortgraph/internal/graph"
)

// --- MCP Tool Input Types ---
// These structs define the JSON schema for each MCP tool's input.
// The MCP Go SDK auto-generates JSON schemas from struct tags.

// GraphStatsInput is the input for the graph_stats MCP tool.
type GraphStatsInput struct{}

// GraphStatsOutput is the result of the graph_stats MCP tool.
type GraphStatsOutput struct {
	Stats graph.Stats `json:"stats"`
}

// FindEntitiesInput is the input for the find_entities MCP tool.
type FindEntitiesInput struct {
	Pattern string `json:"pattern" jsonschema:"entity pattern: a type followed by attr=value filters, e.g. Scan label=T1"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results (default: 50)"`
}

// FindEntitiesOutput is the result of the find_entities MCP tool.
type FindEntitiesOutput struct {
	Entities []graph.Node `json:"entities"`
	Total    int          `json:"total"`
}

// DeriveGroupsInput is the input for the derive_groups MCP tool.
type DeriveGroupsInput struct {
	Identifier string `json:"identifier" jsonschema:"assessment identifier, e.g. toy_V1_s1"`
}

// DeriveGroupsOutput is the result of the derive_groups MCP tool.
type DeriveGroupsOutput struct {
	Groups  []string `json:"groups"`
	Missing []string `json:"missing,omitempty"`
}

// NeighbourhoodInput is the input for the neighbourhood MCP tool.
type NeighbourhoodInput struct {
	Type     string `json:"type" jsonschema:"entity type of the root, e.g. Assessment"`
	Key      string `json:"key" jsonschema:"natural key of the root, e.g. its identifier"`
	Depth    int    `json:"depth,omitempty" jsonschema:"number of hops from the root (default: 1)"`
	MaxNodes int    `json:"maxNodes,omitempty" jsonschema:"stop after this many entities (default: 500)"`
	Mermaid  bool   `json:"mermaid,omitempty" jsonschema:"also render a Mermaid diagram"`
}

// NeighbourhoodOutput is the result of the neighbourhood MCP tool.
type NeighbourhoodOutput struct {
	Export  *export.GraphExport `json:"export"`
	Mermaid string              `json:"mermaid,omitempty"`
}
