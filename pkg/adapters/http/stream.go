package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/pkg/domain"
)

// Event is one topology event as delivered to SSE subscribers.
type Event struct {
	Type domain.EventType
	Data string
}

// StreamManager handles active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan<- Event]struct{}
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[chan<- Event]struct{}),
		logger:      logger,
	}
}

func (sm *StreamManager) Subscribe() (<-chan Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Event, 16)
	sm.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.subscribers, ch)
			close(ch)
		})
	}
}

// Subscribers returns the number of connected clients.
func (sm *StreamManager) Subscribers() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

// Broadcast serializes payload and sends it to every subscriber. Slow
// subscribers lose the event rather than block the topology.
func (sm *StreamManager) Broadcast(typ domain.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		sm.logger.Error("SSE: event encode failed", "type", typ, "err", err)
		return
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sm.logger.Debug("StreamManager: broadcasting", "type", typ, "subscribers", len(sm.subscribers))
	for ch := range sm.subscribers {
		select {
		case ch <- Event{Type: typ, Data: string(data)}:
		default:
			sm.logger.Warn("SSE: client buffer full, dropping event", "type", typ)
		}
	}
}

// Hooks returns lifecycle hooks that broadcast every topology event.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	node := func(_ context.Context, e *domain.NodeEvent) { sm.Broadcast(e.Type, e) }
	return domain.LifecycleHooks{
		OnNodeStart:  node,
		OnNodeStop:   node,
		OnNodeUpdate: node,
		OnLink:       func(_ context.Context, e *domain.LinkEvent) { sm.Broadcast(e.Type, e) },
		OnReconcile:  func(_ context.Context, e *domain.ReconcileEvent) { sm.Broadcast(e.Type, e) },
	}
}

// SubscribeEvents handles the GET /events request (SSE). The optional
// "watch" query parameter is a comma-separated list of event types.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	var watchList []domain.EventType
	if watch := r.URL.Query().Get("watch"); watch != "" {
		for _, field := range strings.Split(watch, ",") {
			watchList = append(watchList, domain.EventType(strings.TrimSpace(field)))
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe()
	defer cancel()
	s.logger.Info("SSE: client subscribed", "watch", watchList)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if len(watchList) > 0 && !slices.Contains(watchList, event.Type) {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		}
	}
}
