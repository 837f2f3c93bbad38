package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/nodes"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	// Failed lists nodes ("type.id") that did not start.
	Failed []string
	// Highlight lists nodes to emphasize.
	Highlight []string
}

// GenerateMermaid produces a Mermaid flowchart of a topology.
// Node shapes follow the node type:
// - Player: (["Stadium"])
// - Encoder: [["Subroutine"]]
// - Selector: {"Rhombus"}
// - Default: ["Rectangle"]
// Links into a selector input that is not the active one are drawn dotted.
func GenerateMermaid(decl *domain.Declaration, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	active := make(map[domain.NodeID]string)
	for _, id := range decl.NodeIDs() {
		cfg, _ := decl.Config(id)
		safeID := sanitizeMermaidID(id.String())

		opener, closer := "[", "]"
		switch id.Type {
		case nodes.TypePlayer:
			opener, closer = "([", "])"
		case nodes.TypeEncoder:
			opener, closer = "[[", "]]"
		case nodes.TypeSelector:
			opener, closer = "{", "}"
			active[id] = cfg["active"]
			if active[id] == "" {
				active[id] = "0"
			}
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, id, closer)
	}

	for _, ld := range decl.Links {
		link, err := ld.Parse()
		if err != nil {
			// Unparseable links are reported by validation, not drawn.
			continue
		}
		from := sanitizeMermaidID(link.Source.Node.String())
		to := sanitizeMermaidID(link.Target.Node.String())
		label := strings.ReplaceAll(link.Source.ID+" → "+link.Target.ID, "\"", "'")

		arrow := fmt.Sprintf("-- \"%s\" -->", label)
		if want, ok := active[link.Target.Node]; ok && want != link.Target.ID {
			arrow = fmt.Sprintf("-. \"%s\" .->", label)
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", from, arrow, to)
	}

	if overlay != nil && (len(overlay.Failed) > 0 || len(overlay.Highlight) > 0) {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text for contrast on both light and dark themes.
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef highlight fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Failed {
			safeID := sanitizeMermaidID(id)
			if safeID != "" && !seen[safeID] {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s failed;\n", safeID)
			}
		}
		for _, id := range overlay.Highlight {
			if safeID := sanitizeMermaidID(id); safeID != "" {
				fmt.Fprintf(&sb, "    class %s highlight;\n", safeID)
			}
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
