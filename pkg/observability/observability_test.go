package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnNodeStart(ctx, &domain.NodeEvent{EventBase: domain.EventBase{Type: domain.EventNodeStart}, NodeType: "mpv"})
	hooks.OnNodeStart(ctx, &domain.NodeEvent{EventBase: domain.EventBase{Type: domain.EventNodeStart}, NodeType: "mpv", Error: "timeout"})
	hooks.OnLink(ctx, &domain.LinkEvent{EventBase: domain.EventBase{Type: domain.EventLink}})
	hooks.OnReconcile(ctx, &domain.ReconcileEvent{Scope: domain.ScopeAll, Duration: time.Millisecond})
	hooks.OnReconcile(ctx, &domain.ReconcileEvent{Scope: "mpv.a", Error: "1 of 1 nodes reported errors"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeEvents.WithLabelValues("mpv", "node_start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeEvents.WithLabelValues("mpv", "node_start", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkEvents.WithLabelValues("link")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileErrors.WithLabelValues("node")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ReconcileDuration))
}

func TestInstrumentBackend(t *testing.T) {
	m := observability.NewMetrics(nil)
	inner := memory.NewBackend()
	inner.Register("a:out", "b:in")
	backend := observability.InstrumentBackend(inner, m)
	ctx := context.Background()

	require.NoError(t, backend.Connect(ctx, "a:out", "b:in"))
	assert.Error(t, backend.Connect(ctx, "a:out", "ghost:in"))
	_, err := backend.Connections(ctx, "a:out")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendOps.WithLabelValues("connect", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendOps.WithLabelValues("connect", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendOps.WithLabelValues("connections", "ok")))
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	hooks := observability.LoggingHooks(logging.NewWithWriter(&buf, slog.LevelDebug))

	hooks.OnNodeStart(context.Background(), &domain.NodeEvent{
		EventBase: domain.EventBase{Type: domain.EventNodeStart},
		NodeID:    "mpv.a",
		Error:     "timed out",
	})
	hooks.OnLink(context.Background(), &domain.LinkEvent{
		EventBase: domain.EventBase{Type: domain.EventUnlink},
		From:      "mpv.a[0]",
		To:        "icecast.b[0]",
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN msg=node_start node=mpv.a")
	assert.Contains(t, out, "err=\"timed out\"")
	assert.Contains(t, out, "msg=unlink from=mpv.a[0] to=icecast.b[0]")
}
