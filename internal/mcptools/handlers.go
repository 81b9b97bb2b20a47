package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/cohortgraph/internal/export"
	"github.com/dusk-indust/cohortgraph/internal/graph"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

const defaultFindLimit = 50

// InspectService answers read-only questions about an imported cohort graph.
type InspectService struct {
	eng graph.Engine
	now func() time.Time
}

// NewInspectService creates an InspectService over eng. It never writes.
func NewInspectService(eng graph.Engine) *InspectService {
	return &InspectService{eng: eng, now: time.Now}
}

// GraphStats returns entity and relation counts by type.
func (s *InspectService) GraphStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GraphStatsInput,
) (*mcp.CallToolResult, GraphStatsOutput, error) {
	st, err := s.eng.Stats(ctx)
	if err != nil {
		return nil, GraphStatsOutput{}, fmt.Errorf("stats: %w", err)
	}
	return nil, GraphStatsOutput{Stats: *st}, nil
}

// FindEntities returns the entities matching a textual pattern.
func (s *InspectService) FindEntities(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input FindEntitiesInput,
) (*mcp.CallToolResult, FindEntitiesOutput, error) {
	if input.Pattern == "" {
		return nil, FindEntitiesOutput{}, fmt.Errorf("pattern is required")
	}
	p, err := graph.ParsePattern(input.Pattern)
	if err != nil {
		return nil, FindEntitiesOutput{}, err
	}
	p.Limit = input.Limit
	if p.Limit <= 0 {
		p.Limit = defaultFindLimit
	}
	nodes, err := s.eng.FindNodes(ctx, p)
	if err != nil {
		return nil, FindEntitiesOutput{}, fmt.Errorf("find entities: %w", err)
	}
	if nodes == nil {
		nodes = []graph.Node{}
	}
	return nil, FindEntitiesOutput{Entities: nodes, Total: len(nodes)}, nil
}

// DeriveGroups returns the security groups derived from an assessment
// identifier and reports which of them do not exist yet.
func (s *InspectService) DeriveGroups(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeriveGroupsInput,
) (*mcp.CallToolResult, DeriveGroupsOutput, error) {
	if input.Identifier == "" {
		return nil, DeriveGroupsOutput{}, fmt.Errorf("identifier is required")
	}
	if err := upsert.CheckGroupTokens(input.Identifier); err != nil {
		return nil, DeriveGroupsOutput{}, err
	}
	out := DeriveGroupsOutput{Groups: upsert.DeriveGroupNames(input.Identifier)}
	for _, name := range out.Groups {
		nodes, err := s.eng.FindNodes(ctx, graph.Pattern{Type: "CWGroup", Key: name, Limit: 1})
		if err != nil {
			return nil, DeriveGroupsOutput{}, fmt.Errorf("find group %s: %w", name, err)
		}
		if len(nodes) == 0 {
			out.Missing = append(out.Missing, name)
		}
	}
	return nil, out, nil
}

// Neighbourhood exports the entities around one root entity.
func (s *InspectService) Neighbourhood(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input NeighbourhoodInput,
) (*mcp.CallToolResult, NeighbourhoodOutput, error) {
	if input.Type == "" || input.Key == "" {
		return nil, NeighbourhoodOutput{}, fmt.Errorf("type and key are required")
	}
	root, err := export.FindRoot(ctx, s.eng, graph.Pattern{Type: input.Type, Key: input.Key})
	if err != nil {
		return nil, NeighbourhoodOutput{}, err
	}
	n, err := export.Collect(ctx, s.eng, root.ID, export.Options{Depth: input.Depth, MaxNodes: input.MaxNodes})
	if err != nil {
		return nil, NeighbourhoodOutput{}, err
	}
	out := NeighbourhoodOutput{Export: export.ExportNeighbourhood(n, s.now())}
	if input.Mermaid {
		out.Mermaid = export.GenerateMermaid(n)
	}
	return nil, out, nil
}
