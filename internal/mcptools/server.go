// Package mcptools exposes read-only inspection of a cohort graph as MCP
// tools.
package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewInspectMCPServer creates an MCP server with the four inspection tools
// registered.
func NewInspectMCPServer(svc *InspectService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cohortgraph-inspect",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Count the entities and relations of the cohort graph, by type.",
	}, svc.GraphStats)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_entities",
		Description: "Find entities matching a pattern: an entity type followed by attr=value filters, for example 'Scan label=T1' or 'Subject identifier=\"toy_s1274\"'.",
	}, svc.FindEntities)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "derive_groups",
		Description: "Derive the security groups an assessment identifier grants access to, and report which of them are missing from the graph.",
	}, svc.DeriveGroups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "neighbourhood",
		Description: "Export the entities and relations around one entity, found by type and natural key. Optionally renders a Mermaid diagram.",
	}, svc.Neighbourhood)

	return server
}

// RunMCPServer starts an HTTP server exposing the inspection tools.
func RunMCPServer(ctx context.Context, svc *InspectService, addr string) error {
	server := NewInspectMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunStdio serves the inspection tools over stdin/stdout until the client
// disconnects or ctx is cancelled.
func RunStdio(ctx context.Context, svc *InspectService) error {
	return NewInspectMCPServer(svc).Run(ctx, &mcp.StdioTransport{})
}
