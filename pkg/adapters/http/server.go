package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/internal/presentation/graph"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// maxBodySize bounds request bodies; configurations are small string maps.
const maxBodySize = 1 << 20

// Topology is the part of the topology store exposed over HTTP.
type Topology interface {
	Snapshot() *domain.Declaration
	NodeConfig(id domain.NodeID) (domain.Config, error)
	SetField(ctx context.Context, id domain.NodeID, field, value string) error
	Update(ctx context.Context, id domain.NodeID, cfg domain.Config) error
	Link(ctx context.Context, source, target domain.Port) error
	Unlink(ctx context.Context, source, target domain.Port) error
	ReconcileAll(ctx context.Context) error
	Ready() bool
}

// Server serves the control surface of a topology.
type Server struct {
	Topology Topology
	Streams  *StreamManager
	Metrics  http.Handler
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStreams shares a StreamManager, so lifecycle hooks registered elsewhere
// reach the /events subscribers.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.Metrics = h
	}
}

// WithLogger configures the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the topology.
func NewHandler(topo Topology, opts ...Option) http.Handler {
	server := &Server{
		Topology: topo,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.Streams == nil {
		server.Streams = NewStreamManager(server.logger)
	}

	r := chi.NewRouter()
	r.Get("/state", server.GetState)
	r.Get("/node/{type}/{id}/props", server.GetProps)
	r.Put("/node/{type}/{id}/props", server.PutProps)
	r.Put("/node/{type}/{id}/props/{field}", server.PutPropField)
	r.Post("/links", server.PostLink)
	r.Delete("/links", server.DeleteLink)
	r.Post("/reconcile", server.PostReconcile)
	r.Get("/graph", server.GetGraph)
	r.Get("/events", server.SubscribeEvents)
	r.Get("/health", server.GetHealth)
	if server.Metrics != nil {
		r.Handle("/metrics", server.Metrics)
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetState handles the GET /state request.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Topology.Snapshot())
}

// GetProps handles the GET /node/{type}/{id}/props request.
func (s *Server) GetProps(w http.ResponseWriter, r *http.Request) {
	id := nodeID(r)
	cfg, err := s.Topology.NodeConfig(id)
	if err != nil {
		s.writeError(w, "GetProps", err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// PutProps handles the PUT /node/{type}/{id}/props request: the body is the
// whole new configuration.
func (s *Server) PutProps(w http.ResponseWriter, r *http.Request) {
	var cfg domain.Config
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PutProps: invalid request body", "err", err)
		return
	}
	id := nodeID(r)
	if err := s.Topology.Update(r.Context(), id, cfg); err != nil {
		s.writeError(w, "PutProps", err)
		return
	}
	s.GetProps(w, r)
}

// PutPropField handles the PUT /node/{type}/{id}/props/{field} request. The
// body is the new value, either raw or as a JSON string.
func (s *Server) PutPropField(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	value := strings.TrimSpace(string(raw))
	var quoted string
	if json.Unmarshal(raw, &quoted) == nil {
		value = quoted
	}

	id := nodeID(r)
	field := chi.URLParam(r, "field")
	if err := s.Topology.SetField(r.Context(), id, field, value); err != nil {
		s.writeError(w, "PutPropField", err)
		return
	}
	s.GetProps(w, r)
}

// LinkRequest is the body of the /links endpoints.
type LinkRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PostLink handles the POST /links request.
func (s *Server) PostLink(w http.ResponseWriter, r *http.Request) {
	s.changeLink(w, r, "PostLink", s.Topology.Link)
}

// DeleteLink handles the DELETE /links request.
func (s *Server) DeleteLink(w http.ResponseWriter, r *http.Request) {
	s.changeLink(w, r, "DeleteLink", s.Topology.Unlink)
}

func (s *Server) changeLink(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, domain.Port, domain.Port) error) {
	var body LinkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn(op+": invalid request body", "err", err)
		return
	}
	link, err := domain.LinkDecl{From: body.From, To: body.To}.Parse()
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	if err := fn(r.Context(), link.Source, link.Target); err != nil {
		s.writeError(w, op, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Topology.Snapshot().Links)
}

// PostReconcile handles the POST /reconcile request.
func (s *Server) PostReconcile(w http.ResponseWriter, r *http.Request) {
	if err := s.Topology.ReconcileAll(r.Context()); err != nil {
		s.writeError(w, "PostReconcile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGraph handles the GET /graph request: a Mermaid flowchart of the topology.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(s.Topology.Snapshot(), nil))
}

// GetHealth handles the GET /health request. It reports 503 until the
// initial load completed.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	if !s.Topology.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func nodeID(r *http.Request) domain.NodeID {
	return domain.NodeID{Type: chi.URLParam(r, "type"), Instance: chi.URLParam(r, "id")}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMalformedAddress),
		errors.Is(err, domain.ErrPortNotFound),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrUnknownNodeType),
		errors.Is(err, domain.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNodeExists),
		errors.Is(err, domain.ErrDuplicateLink):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
