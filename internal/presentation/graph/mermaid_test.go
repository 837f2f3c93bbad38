package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/patchbay/internal/presentation/graph"
	"github.com/aretw0/patchbay/pkg/domain"
)

func topology() *domain.Declaration {
	decl := domain.NewDeclaration()
	decl.AddNode(domain.NodeID{Type: "mpv", Instance: "main"}, domain.Config{"source": "a.ogg"})
	decl.AddNode(domain.NodeID{Type: "mpv", Instance: "backup-1"}, domain.Config{"source": "b.ogg"})
	decl.AddNode(domain.NodeID{Type: "mux", Instance: "sel"}, domain.Config{"inputs": "2", "active": "1"})
	decl.AddNode(domain.NodeID{Type: "icecast", Instance: "out"}, domain.Config{"stream_url": "icecast://x"})
	decl.AddNode(domain.NodeID{Type: "other", Instance: "x"}, domain.Config{})
	decl.Links = []domain.LinkDecl{
		{From: "mpv.main[0]", To: "mux.sel[0]"},
		{From: "mpv.backup-1[0]", To: "mux.sel[1]"},
		{From: "mux.sel[0]", To: "icecast.out[0]"},
		{From: "broken", To: "icecast.out[0]"},
	}
	return decl
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		overlay  *graph.GraphOverlay
		contains []string
		excludes []string
	}{
		{
			name: "Node Shapes",
			contains: []string{
				"graph LR\n",
				`mpv_main(["mpv.main"])`,
				`icecast_out[["icecast.out"]]`,
				`mux_sel{"mux.sel"}`,
				`other_x["other.x"]`,
			},
		},
		{
			name: "ID Sanitization",
			contains: []string{
				`mpv_backup_1(["mpv.backup-1"])`,
			},
		},
		{
			name: "Active And Inactive Inputs",
			contains: []string{
				`mpv_backup_1 -- "0 → 1" --> mux_sel`,
				`mpv_main -. "0 → 0" .-> mux_sel`,
				`mux_sel -- "0 → 0" --> icecast_out`,
			},
			excludes: []string{"broken"},
		},
		{
			name:     "No Overlay",
			excludes: []string{"classDef"},
		},
		{
			name:    "Overlay",
			overlay: &graph.GraphOverlay{Failed: []string{"icecast.out", "icecast.out"}, Highlight: []string{"mux.sel"}},
			contains: []string{
				"classDef failed",
				"class icecast_out failed;\n",
				"class mux_sel highlight;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(topology(), tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("GenerateMermaid() = \n%v\nUnwanted substring: %v", got, unwanted)
				}
			}
			if n := strings.Count(got, "class icecast_out failed;"); tt.overlay != nil && n != 1 {
				t.Errorf("failed class applied %d times, want 1", n)
			}
		})
	}
}
