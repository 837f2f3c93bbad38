package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/patchbay/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Loads the topology and exposes it to AI agents as MCP tools (get_state,
get_node_config, set_node_field, link, unlink, reconcile) and the
patchbay://state resource.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		listen, _ := cmd.Flags().GetString("listen")
		resume, _ := cmd.Flags().GetBool("resume")
		if transport != "stdio" && transport != "sse" {
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.close(shutdownCtx); err != nil {
				logger.Error("teardown incomplete", "err", err)
			}
		}()
		if err := a.load(ctx, resume); err != nil {
			return err
		}

		srv := mcp.NewServer(a.bay, mcp.WithLogger(logger.With("component", "mcp")))
		switch transport {
		case "sse":
			return srv.ServeSSE(ctx, listen, "http://localhost"+listen)
		default:
			// Logs go to stderr, so stdout stays free for JSON-RPC.
			logger.Info("starting MCP server (stdio)")
			return srv.ServeStdio()
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("listen", ":8081", "Address to listen on (only for SSE)")
	mcpCmd.Flags().Bool("resume", false, "Start from the saved state instead of the declaration")
}
