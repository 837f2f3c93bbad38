package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/patchbay/pkg/domain"
)

// StatusMarkdown summarizes a topology as markdown: one table of nodes with
// their configuration, one of links. Nodes listed in failed are marked.
func StatusMarkdown(decl *domain.Declaration, failed []string) string {
	var sb strings.Builder
	ids := decl.NodeIDs()
	fmt.Fprintf(&sb, "# Topology\n\n%d nodes, %d links\n\n", len(ids), len(decl.Links))

	if len(ids) > 0 {
		sb.WriteString("## Nodes\n\n| Node | Status | Configuration |\n|---|---|---|\n")
		for _, id := range ids {
			status := "running"
			if slices.Contains(failed, id.String()) {
				status = "**failed**"
			}
			cfg, _ := decl.Config(id)
			fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", id, status, formatConfig(cfg))
		}
		sb.WriteString("\n")
	}

	if len(decl.Links) > 0 {
		sb.WriteString("## Links\n\n| From | To |\n|---|---|\n")
		for _, l := range decl.Links {
			fmt.Fprintf(&sb, "| `%s` | `%s` |\n", l.From, l.To)
		}
	}
	return sb.String()
}

func formatConfig(cfg domain.Config) string {
	if len(cfg) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		// Pipes would end the table cell.
		parts[i] = fmt.Sprintf("%s=%s", k, strings.ReplaceAll(cfg[k], "|", `\|`))
	}
	return strings.Join(parts, ", ")
}
