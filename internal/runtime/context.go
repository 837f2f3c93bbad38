package runtime

import (
	"context"
	"log/slog"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// nodeContext is the ReconcileContext handed to nodes. It runs inside the
// Store's critical section (node callbacks are only invoked by the Store), so
// it reads the topology without locking.
type nodeContext struct {
	topo   *topology
	engine *Engine
	guard  *guard
	logger *slog.Logger
}

var _ ports.ReconcileContext = (*nodeContext)(nil)

func (c *nodeContext) RequestReconcile(ctx context.Context, id domain.NodeID) {
	c.logger.Debug("reconcile requested", "node", id.String())
	if !c.guard.allow(id.String()) {
		return
	}
	if err := c.engine.ReconcileNode(ctx, id); err != nil {
		c.logger.Warn("requested reconcile failed", "node", id.String(), "err", err)
	}
}

func (c *nodeContext) RequestReconcileAll(ctx context.Context) {
	c.logger.Debug("global reconcile requested")
	if !c.guard.allow(domain.ScopeAll) {
		return
	}
	if err := c.engine.ReconcileAll(ctx); err != nil {
		c.logger.Warn("requested global reconcile reported errors", "err", err)
	}
}

func (c *nodeContext) RequestReconcileUpstream(ctx context.Context, id domain.NodeID) {
	c.logger.Debug("upstream reconcile requested", "node", id.String())
	if !c.guard.allow("upstream of " + id.String()) {
		return
	}
	c.engine.ReconcileUpstream(ctx, id)
}

func (c *nodeContext) Lookup(id domain.NodeID) (ports.Node, bool) {
	return c.topo.lookup(id)
}

func (c *nodeContext) Sources(port domain.Port) []domain.Port {
	return c.topo.links.sources(port)
}

func (c *nodeContext) Targets(port domain.Port) []domain.Port {
	return c.topo.links.targets(port)
}
