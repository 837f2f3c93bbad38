package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/patchbay"
	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/internal/presentation/graph"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StateURI is the resource holding the live topology.
const StateURI = "patchbay://state"

// Topology is the part of the topology store exposed to agents.
type Topology interface {
	Snapshot() *domain.Declaration
	NodeConfig(id domain.NodeID) (domain.Config, error)
	SetField(ctx context.Context, id domain.NodeID, field, value string) error
	Link(ctx context.Context, source, target domain.Port) error
	Unlink(ctx context.Context, source, target domain.Port) error
	ReconcileAll(ctx context.Context) error
}

// Server wraps a topology and exposes it as an MCP Server.
type Server struct {
	topo      Topology
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger. Stdio servers must not log to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(topo Topology, opts ...Option) *Server {
	s := &Server{
		topo:      topo,
		mcpServer: server.NewMCPServer("patchbay-mcp", patchbay.Version),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get every node configuration and every link of the live topology."),
	), s.handleGetState)

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the live topology as a Mermaid flowchart."),
	), s.handleGetGraph)

	s.mcpServer.AddTool(mcp.NewTool("get_node_config",
		mcp.WithDescription("Get the configuration of one node."),
		mcp.WithString("node", mcp.Required(), mcp.Description("Node id, e.g. mpv.main")),
	), s.handleGetNodeConfig)

	s.mcpServer.AddTool(mcp.NewTool("set_node_field",
		mcp.WithDescription("Set one configuration field of a node. The node applies it immediately, restarting if needed."),
		mcp.WithString("node", mcp.Required(), mcp.Description("Node id, e.g. mux.main")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Configuration key, e.g. active")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New value")),
	), s.handleSetNodeField)

	s.mcpServer.AddTool(mcp.NewTool("link",
		mcp.WithDescription("Link an output port to an input port. Linking an existing link does nothing."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Output port address, e.g. mpv.main[0]")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Input port address, e.g. icecast.out[0]")),
	), s.handleLink)

	s.mcpServer.AddTool(mcp.NewTool("unlink",
		mcp.WithDescription("Remove a link. Removing a missing link does nothing."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Output port address")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Input port address")),
	), s.handleUnlink)

	s.mcpServer.AddTool(mcp.NewTool("reconcile",
		mcp.WithDescription("Re-apply every link to the audio server."),
	), s.handleReconcile)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.topo.Snapshot())
}

func (s *Server) handleGetGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(graph.GenerateMermaid(s.topo.Snapshot(), nil)), nil
}

func (s *Server) handleGetNodeConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := domain.ParseNodeID(request.GetString("node", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cfg, err := s.topo.NodeConfig(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cfg)
}

func (s *Server) handleSetNodeField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := domain.ParseNodeID(request.GetString("node", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	field := request.GetString("field", "")
	if field == "" {
		return mcp.NewToolResultError("field is required"), nil
	}
	if err := s.topo.SetField(ctx, id, field, request.GetString("value", "")); err != nil {
		s.logger.Warn("MCP set_node_field failed", "node", id.String(), "field", field, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("set failed: %v", err)), nil
	}
	cfg, err := s.topo.NodeConfig(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cfg)
}

func (s *Server) handleLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.changeLink(ctx, request, "link", s.topo.Link)
}

func (s *Server) handleUnlink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.changeLink(ctx, request, "unlink", s.topo.Unlink)
}

func (s *Server) changeLink(ctx context.Context, request mcp.CallToolRequest, op string, fn func(context.Context, domain.Port, domain.Port) error) (*mcp.CallToolResult, error) {
	link, err := domain.LinkDecl{
		From: request.GetString("from", ""),
		To:   request.GetString("to", ""),
	}.Parse()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := fn(ctx, link.Source, link.Target); err != nil {
		s.logger.Warn("MCP "+op+" failed", "link", link.String(), "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err)), nil
	}
	return jsonResult(s.topo.Snapshot().Links)
}

func (s *Server) handleReconcile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.topo.ReconcileAll(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reconcile failed: %v", err)), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StateURI, "Live Topology",
		mcp.WithMIMEType("application/json"),
	), s.readState)
}

func (s *Server) readState(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(s.topo.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode topology: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StateURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
