package ports

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/patchbay/pkg/domain"
)

// Node is the lifecycle contract every routable unit implements.
//
// The call sequence is: construction, Start, reconciliation, any number of
// Update and ReconcileLinks calls, LateStart once per load batch, Shutdown.
type Node interface {
	ID() domain.NodeID
	Inputs() []domain.Port
	Outputs() []domain.Port
	Config() domain.Config

	// Start blocks until the node's backend ports exist. A failure is fatal for
	// this node and is not retried.
	Start(ctx context.Context) error

	// Update applies a new configuration. A node that restarts itself must
	// request its own reconciliation through the ReconcileContext.
	Update(ctx context.Context, cfg domain.Config) error

	// Shutdown releases the process and ports. It must not fail when the node
	// is already stopped.
	Shutdown(ctx context.Context) error
}

// LateStarter is implemented by nodes whose routing depends on peers from the
// same load batch. LateStart runs once, after every node of the batch started.
type LateStarter interface {
	LateStart(ctx context.Context) error
}

// InputResolver is implemented by nodes with input ports.
// InputPorts returns the backend port names behind an input port, one entry per
// concrete destination. An empty result means the port is currently not routable.
type InputResolver interface {
	InputPorts(ctx context.Context, port domain.Port) ([]domain.ChannelPorts, error)
}

// Liveness is implemented by nodes whose process can be down while the node
// stays loaded, e.g. after a failed restart. A node that is not running is
// never handed to ReconcileLinks.
type Liveness interface {
	Running() bool
}

// LinkReconciler is implemented by nodes with output ports.
// ReconcileLinks receives every declared link whose source is this node and
// makes the live backend connections match. An empty list disconnects everything.
type LinkReconciler interface {
	ReconcileLinks(ctx context.Context, links []domain.Link) error
}

// ReconcileContext is the view of the topology handed to every node.
//
// Requests are only honoured while no reconciliation is in flight and the
// initial load has completed; otherwise they are dropped.
type ReconcileContext interface {
	RequestReconcile(ctx context.Context, id domain.NodeID)
	RequestReconcileAll(ctx context.Context)
	// RequestReconcileUpstream reconciles every node with a link path into id.
	RequestReconcileUpstream(ctx context.Context, id domain.NodeID)

	Lookup(id domain.NodeID) (Node, bool)
	// Sources returns the output ports linked into an input port, in link order.
	Sources(port domain.Port) []domain.Port
	// Targets returns the input ports an output port links to, in link order.
	Targets(port domain.Port) []domain.Port
}

// NodeEnv carries the collaborators a node implementation may use.
type NodeEnv struct {
	Backend      Backend
	Context      ReconcileContext
	Launcher     Launcher
	Logger       *slog.Logger
	StartTimeout time.Duration
}

// NodeFactory builds nodes from their declared id and configuration.
// Construction validates the configuration but must not spawn anything.
type NodeFactory interface {
	Build(id domain.NodeID, cfg domain.Config, env NodeEnv) (Node, error)
	Types() []string
}
