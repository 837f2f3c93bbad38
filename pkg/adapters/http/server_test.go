package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/patchbay/internal/runtime"
	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/nodes"
	"github.com/aretw0/patchbay/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *runtime.Store
	backend *memory.Backend
	handler http.Handler
}

func newFixture(t *testing.T, load bool) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	streams := NewStreamManager(nil)

	backend := memory.NewBackend()
	store := runtime.NewStore(nodes.NewRegistry(),
		runtime.WithBackend(backend),
		runtime.WithLauncher(memory.NewLauncher(backend, nodes.SimulatedCommands())),
		runtime.WithStartTimeout(200*time.Millisecond),
		runtime.WithLifecycleHooks(domain.CombineHooks(metrics.Hooks(), streams.Hooks())),
	)
	t.Cleanup(func() {
		_ = store.Shutdown(context.Background())
	})

	if load {
		decl := domain.NewDeclaration()
		decl.AddNode(domain.NodeID{Type: "mpv", Instance: "a"}, domain.Config{"source": "a.mp3"})
		decl.AddNode(domain.NodeID{Type: "icecast", Instance: "b"}, domain.Config{"stream_url": "icecast://b"})
		decl.Links = []domain.LinkDecl{{From: "mpv.a[0]", To: "icecast.b[0]"}}
		require.NoError(t, store.Load(context.Background(), decl))
	}

	handler := NewHandler(store,
		WithStreams(streams),
		WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	return &fixture{store: store, backend: backend, handler: handler}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) connections(t *testing.T, port string) []string {
	t.Helper()
	conns, err := f.backend.Connections(context.Background(), port)
	require.NoError(t, err)
	return conns
}

func TestGetState(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, "GET", "/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var state struct {
		AllNodes map[string]map[string]map[string]string `json:"all_nodes"`
		AllLinks []map[string]string                     `json:"all_links"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "a.mp3", state.AllNodes["mpv"]["a"]["source"])
	assert.Equal(t, "icecast://b", state.AllNodes["icecast"]["b"]["stream_url"])
	assert.Equal(t, []map[string]string{{"from": "mpv.a[0]", "to": "icecast.b[0]"}}, state.AllLinks)
}

func TestGetProps(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, "GET", "/node/mpv/a/props", "")
	require.Equal(t, http.StatusOK, w.Code)
	var cfg map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, "a.mp3", cfg["source"])

	w = f.do(t, "GET", "/node/mpv/missing/props", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutPropField(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "JSON String", body: `"128k"`, want: "128k"},
		{name: "Raw Body", body: "256k\n", want: "256k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)

			w := f.do(t, "PUT", "/node/icecast/b/props/bitrate", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var cfg map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
			assert.Equal(t, tt.want, cfg["bitrate"])

			// The encoder restarted and its feed was routed again.
			assert.Equal(t, []string{"icecast.b:input_1"}, f.connections(t, "mpv.a:out_0"))
			assert.Equal(t, []string{"icecast.b:input_2"}, f.connections(t, "mpv.a:out_1"))
		})
	}
}

func TestPutProps(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, "PUT", "/node/mpv/a/props", `{"source":"b.mp3"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cfg, err := f.store.NodeConfig(domain.NodeID{Type: "mpv", Instance: "a"})
	require.NoError(t, err)
	assert.Equal(t, "b.mp3", cfg["source"])

	w = f.do(t, "PUT", "/node/icecast/b/props", `{"bitrate":"64k"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "PUT", "/node/mpv/a/props", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinks(t *testing.T) {
	f := newFixture(t, true)
	link := `{"from":"mpv.a[0]","to":"icecast.b[0]"}`

	w := f.do(t, "DELETE", "/links", link)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Empty(t, f.connections(t, "mpv.a:out_0"))

	w = f.do(t, "POST", "/links", link)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[`+link+`]`, w.Body.String())
	assert.Equal(t, []string{"icecast.b:input_1"}, f.connections(t, "mpv.a:out_0"))

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "Malformed Address", body: `{"from":"mpv.a","to":"icecast.b[0]"}`, code: http.StatusBadRequest},
		{name: "Unknown Node", body: `{"from":"mpv.x[0]","to":"icecast.b[0]"}`, code: http.StatusNotFound},
		{name: "Unknown Port", body: `{"from":"mpv.a[7]","to":"icecast.b[0]"}`, code: http.StatusBadRequest},
		{name: "Invalid Body", body: `{`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/links", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: fmt.Errorf("lookup: %w", domain.ErrNodeNotFound), code: http.StatusNotFound},
		{err: fmt.Errorf("node x.y: %w", domain.ErrUnknownNodeType), code: http.StatusBadRequest},
		{err: fmt.Errorf("update: %w", domain.ErrInvalidConfig), code: http.StatusBadRequest},
		{err: fmt.Errorf("add: %w", domain.ErrNodeExists), code: http.StatusConflict},
		{err: fmt.Errorf("links[1]: %w", domain.ErrDuplicateLink), code: http.StatusConflict},
		{err: errors.New("backend gone"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, statusFor(tt.err))
		})
	}
}

func TestPostReconcile(t *testing.T) {
	f := newFixture(t, true)
	f.backend.ResetStats()

	w := f.do(t, "POST", "/reconcile", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, memory.Stats{}, f.backend.Stats(), "a converged topology needs no backend changes")
}

func TestGetGraph(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, "GET", "/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "graph LR")
	assert.Contains(t, w.Body.String(), `mpv_a -- "0 → 0" --> icecast_b`)
}

func TestGetHealth(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "GET", "/health", "").Code)

	f = newFixture(t, true)
	w := f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "patchbay_node_events_total")
	assert.Contains(t, w.Body.String(), "patchbay_link_events_total")
}

func TestSubscribeEvents(t *testing.T) {
	f := newFixture(t, true)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?watch=unlink", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() string {
		select {
		case line := <-lines:
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for an SSE line")
			return ""
		}
	}

	// The ping is written after the subscription is registered.
	require.Equal(t, "event: ping", next())
	require.Equal(t, "data: connected", next())
	require.Equal(t, "", next())

	w := f.do(t, "DELETE", "/links", `{"from":"mpv.a[0]","to":"icecast.b[0]"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Reconcile events are filtered out by the watch list.
	assert.Equal(t, "event: unlink", next())
	data := next()
	assert.Contains(t, data, `"from":"mpv.a[0]"`)
	assert.Contains(t, data, `"to":"icecast.b[0]"`)
	cancel()
}

func TestStreamManager_DropsWhenFull(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, unsubscribe := sm.Subscribe()
	assert.Equal(t, 1, sm.Subscribers())

	for i := 0; i < 20; i++ {
		sm.Broadcast(domain.EventLink, map[string]int{"n": i})
	}
	assert.Len(t, ch, cap(ch))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, sm.Subscribers())
}
