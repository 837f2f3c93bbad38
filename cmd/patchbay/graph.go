package main

import (
	"fmt"

	"github.com/aretw0/patchbay/internal/presentation/graph"
	"github.com/aretw0/patchbay/pkg/adapters/file"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph [declaration]",
	Short: "Export the topology visualization",
	Long:  `Reads a declaration (or the saved state with --live) and outputs a Mermaid diagram (graph LR) of nodes and links.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Declaration
		if live, _ := cmd.Flags().GetBool("live"); live {
			path = cfg.State
		}
		if len(args) > 0 {
			path = args[0]
		}
		highlight, _ := cmd.Flags().GetStringSlice("highlight")

		decl, err := file.New(path).Load(cmd.Context())
		if err != nil {
			return err
		}

		var overlay *graph.GraphOverlay
		if len(highlight) > 0 {
			overlay = &graph.GraphOverlay{Highlight: highlight}
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(decl, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().Bool("live", false, "Read the saved state instead of the declaration")
	graphCmd.Flags().StringSlice("highlight", nil, "Nodes to emphasize (type.id)")
}
