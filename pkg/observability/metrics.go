package observability

import (
	"context"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the control plane.
type Metrics struct {
	NodeEvents        *prometheus.CounterVec
	LinkEvents        *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	ReconcileErrors   *prometheus.CounterVec
	BackendOps        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbay_node_events_total",
				Help: "Node lifecycle events by node type, event and result",
			},
			[]string{"node_type", "event", "result"},
		),
		LinkEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbay_link_events_total",
				Help: "Links declared and removed",
			},
			[]string{"event"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patchbay_reconcile_duration_seconds",
				Help:    "Duration of reconciliation passes",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"scope"},
		),
		ReconcileErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbay_reconcile_errors_total",
				Help: "Reconciliation passes in which a node reported errors",
			},
			[]string{"scope"},
		),
		BackendOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbay_backend_operations_total",
				Help: "Audio-server operations by kind and result",
			},
			[]string{"op", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.NodeEvents, m.LinkEvents, m.ReconcileDuration, m.ReconcileErrors, m.BackendOps)
	}
	return m
}

func result(errMsg string) string {
	if errMsg != "" {
		return "error"
	}
	return "ok"
}

// scopeLabel keeps label cardinality bounded: per-node passes share one label.
func scopeLabel(scope string) string {
	if scope == domain.ScopeAll {
		return "all"
	}
	return "node"
}

// Hooks returns lifecycle hooks recording into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	node := func(_ context.Context, e *domain.NodeEvent) {
		m.NodeEvents.WithLabelValues(e.NodeType, string(e.Type), result(e.Error)).Inc()
	}
	return domain.LifecycleHooks{
		OnNodeStart:  node,
		OnNodeStop:   node,
		OnNodeUpdate: node,
		OnLink: func(_ context.Context, e *domain.LinkEvent) {
			m.LinkEvents.WithLabelValues(string(e.Type)).Inc()
		},
		OnReconcile: func(_ context.Context, e *domain.ReconcileEvent) {
			scope := scopeLabel(e.Scope)
			m.ReconcileDuration.WithLabelValues(scope).Observe(e.Duration.Seconds())
			if e.Error != "" {
				m.ReconcileErrors.WithLabelValues(scope).Inc()
			}
		},
	}
}
