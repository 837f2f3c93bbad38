package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/hashicorp/go-multierror"
)

// topology is the live model: started nodes keyed by type then instance, and
// the link table.
type topology struct {
	nodes map[string]map[string]ports.Node
	links *linkTable
}

func newTopology() *topology {
	return &topology{
		nodes: make(map[string]map[string]ports.Node),
		links: newLinkTable(),
	}
}

func (t *topology) lookup(id domain.NodeID) (ports.Node, bool) {
	node, ok := t.nodes[id.Type][id.Instance]
	return node, ok
}

func (t *topology) add(node ports.Node) {
	id := node.ID()
	if t.nodes[id.Type] == nil {
		t.nodes[id.Type] = make(map[string]ports.Node)
	}
	t.nodes[id.Type][id.Instance] = node
}

func (t *topology) remove(id domain.NodeID) {
	delete(t.nodes[id.Type], id.Instance)
	if len(t.nodes[id.Type]) == 0 {
		delete(t.nodes, id.Type)
	}
}

// ids returns every node id sorted by type, then instance.
func (t *topology) ids() []domain.NodeID {
	var ids []domain.NodeID
	for typ, instances := range t.nodes {
		for instance := range instances {
			ids = append(ids, domain.NodeID{Type: typ, Instance: instance})
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].Instance < ids[j].Instance
	})
	return ids
}

// Engine drives each node's ReconcileLinks with the links it is the source of.
// It holds the guard in the reconciling phase while a pass runs.
type Engine struct {
	topo   *topology
	guard  *guard
	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

func newEngine(topo *topology, g *guard, hooks domain.LifecycleHooks, logger *slog.Logger) *Engine {
	return &Engine{topo: topo, guard: g, hooks: hooks, logger: logger}
}

// ReconcileAll partitions the links by source node and reconciles every
// source node once, in order of first appearance in the link list.
// Nodes without outgoing links are not invoked. A node reporting errors does
// not stop the pass; the errors are returned together once it completes.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	end := e.guard.begin(domain.ScopeAll)
	defer end()

	start := time.Now()
	var order []domain.NodeID
	bySource := make(map[domain.NodeID][]domain.Link)
	for _, l := range e.topo.links.all() {
		if _, seen := bySource[l.Source.Node]; !seen {
			order = append(order, l.Source.Node)
		}
		bySource[l.Source.Node] = append(bySource[l.Source.Node], l)
	}

	var errs *multierror.Error
	failed := 0
	for _, id := range order {
		node, ok := e.topo.lookup(id)
		if !ok {
			// The link table only references loaded nodes.
			e.logger.Error("link source is not loaded", "node", id.String())
			continue
		}
		if err := e.invoke(ctx, node, bySource[id]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("reconcile %s: %w", id, err))
			failed++
		}
	}

	event := &domain.ReconcileEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventReconcile},
		Scope:     domain.ScopeAll,
		Links:     e.topo.links.count(),
		Duration:  time.Since(start),
	}
	if failed > 0 {
		event.Error = fmt.Sprintf("%d of %d nodes reported errors", failed, len(order))
	}
	if e.hooks.OnReconcile != nil {
		e.hooks.OnReconcile(ctx, event)
	}
	e.logger.Debug("global reconcile done", "nodes", len(order), "failed", failed, "duration", event.Duration)
	return errs.ErrorOrNil()
}

// ReconcileNode reconciles one node with the links it is the source of.
// An empty link set is passed through, so the node drops every connection.
// Failed backend operations do not stop the pass; they are returned once it
// completes.
func (e *Engine) ReconcileNode(ctx context.Context, id domain.NodeID) error {
	node, ok := e.topo.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}

	end := e.guard.begin(id.String())
	defer end()

	links := e.topo.links.from(id)
	start := time.Now()
	err := e.invoke(ctx, node, links)

	event := &domain.ReconcileEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventReconcile},
		Scope:     id.String(),
		Links:     len(links),
		Duration:  time.Since(start),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if e.hooks.OnReconcile != nil {
		e.hooks.OnReconcile(ctx, event)
	}
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", id, err)
	}
	return nil
}

// ReconcileNodeByName is ReconcileNode for a "type.instance" string.
func (e *Engine) ReconcileNodeByName(ctx context.Context, name string) error {
	id, err := domain.ParseNodeID(name)
	if err != nil {
		return err
	}
	return e.ReconcileNode(ctx, id)
}

// ReconcileUpstream reconciles every node with a link path into id, nearest
// first. Routing through pass-through nodes is resolved by their upstream
// sources, so this is how a change behind a selector reaches the backend.
func (e *Engine) ReconcileUpstream(ctx context.Context, id domain.NodeID) {
	for _, up := range e.topo.links.upstream(id) {
		if err := e.ReconcileNode(ctx, up); err != nil {
			e.logger.Warn("upstream reconcile failed", "node", up.String(), "err", err)
		}
	}
}

// invoke calls ReconcileLinks on running nodes that have the capability.
func (e *Engine) invoke(ctx context.Context, node ports.Node, links []domain.Link) error {
	reconciler, ok := node.(ports.LinkReconciler)
	if !ok {
		e.logger.Debug("node has no outputs to reconcile", "node", node.ID().String())
		return nil
	}
	if live, ok := node.(ports.Liveness); ok && !live.Running() {
		e.logger.Warn("node is not running, not reconciling", "node", node.ID().String())
		return fmt.Errorf("%w: %s", domain.ErrNotStarted, node.ID())
	}
	if err := reconciler.ReconcileLinks(ctx, links); err != nil {
		e.logger.Warn("reconcile reported errors", "node", node.ID().String(), "links", len(links), "err", err)
		return err
	}
	return nil
}
