package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/patchbay"
	"github.com/aretw0/patchbay/pkg/adapters/file"
	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/nodes"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [declaration]",
	Short: "Check a topology declaration",
	Long: `Loads the declaration against an in-memory audio server: addresses, node
types, node configurations and links are checked exactly as 'serve' would,
without starting any process.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Declaration
		if len(args) > 0 {
			path = args[0]
		}
		summary, err := runValidate(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Topology is valid! ✅ (%s)\n", summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(ctx context.Context, path string) (string, error) {
	decl, err := file.New(path).Load(ctx)
	if err != nil {
		return "", err
	}

	backend := memory.NewBackend()
	bay := patchbay.New(
		patchbay.WithBackend(backend),
		patchbay.WithLauncher(memory.NewLauncher(backend, nodes.SimulatedCommands())),
		patchbay.WithStartTimeout(time.Second),
	)
	defer bay.Shutdown(ctx)

	if err := bay.Load(ctx, decl); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d nodes, %d links", len(decl.NodeIDs()), len(decl.Links)), nil
}
