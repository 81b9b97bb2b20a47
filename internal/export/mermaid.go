package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/cohortgraph/internal/graph"
)

// GenerateMermaid produces a Mermaid graph LR diagram of a neighbourhood.
// Entities are grouped by type; relations become labelled arrows.
func GenerateMermaid(n *Neighbourhood) string {
	// Build node → ID mapping for Mermaid (alphanumeric only).
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(id string) string {
		if mid, ok := nodeIDs[id]; ok {
			return mid
		}
		mid := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[id] = mid
		return mid
	}

	var sb strings.Builder
	sb.WriteString("graph LR\n")

	// Nodes arrive sorted by type, so each type is one contiguous run.
	for i := 0; i < len(n.Nodes); {
		typ := n.Nodes[i].Type
		fmt.Fprintf(&sb, "  subgraph %s[\"%s\"]\n", getID("type:"+typ), typ)
		for ; i < len(n.Nodes) && n.Nodes[i].Type == typ; i++ {
			node := n.Nodes[i]
			shape := "[\"%s\"]"
			if node.ID == n.Root.ID {
				shape = "((\"%s\"))"
			}
			fmt.Fprintf(&sb, "    %s"+shape+"\n", getID(node.ID), label(node))
		}
		sb.WriteString("  end\n")
	}

	for _, e := range n.Edges {
		fmt.Fprintf(&sb, "  %s -->|%s| %s\n", getID(e.From), e.Type, getID(e.To))
	}
	return sb.String()
}

// label is the natural key when there is one, else a short id.
func label(n graph.Node) string {
	text := n.Key
	if text == "" {
		text = n.ID
		if len(text) > 8 {
			text = text[:8]
		}
	}
	return strings.ReplaceAll(fmt.Sprintf("%.40s", text), `"`, "'")
}
