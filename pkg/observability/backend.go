package observability

import (
	"context"

	"github.com/aretw0/patchbay/pkg/ports"
)

type instrumentedBackend struct {
	next ports.Backend
	m    *Metrics
}

// InstrumentBackend counts every backend operation of next in m.BackendOps.
func InstrumentBackend(next ports.Backend, m *Metrics) ports.Backend {
	return &instrumentedBackend{next: next, m: m}
}

func (b *instrumentedBackend) record(op string, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	b.m.BackendOps.WithLabelValues(op, res).Inc()
}

func (b *instrumentedBackend) ListPorts(ctx context.Context, pattern string) ([]string, error) {
	out, err := b.next.ListPorts(ctx, pattern)
	b.record("list_ports", err)
	return out, err
}

func (b *instrumentedBackend) Connections(ctx context.Context, port string) ([]string, error) {
	out, err := b.next.Connections(ctx, port)
	b.record("connections", err)
	return out, err
}

func (b *instrumentedBackend) Connect(ctx context.Context, source, target string) error {
	err := b.next.Connect(ctx, source, target)
	b.record("connect", err)
	return err
}

func (b *instrumentedBackend) Disconnect(ctx context.Context, source, target string) error {
	err := b.next.Disconnect(ctx, source, target)
	b.record("disconnect", err)
	return err
}
