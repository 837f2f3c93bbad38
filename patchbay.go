package patchbay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/internal/runtime"
	"github.com/aretw0/patchbay/pkg/adapters/file"
	"github.com/aretw0/patchbay/pkg/adapters/jack"
	"github.com/aretw0/patchbay/pkg/adapters/process"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/nodes"
	"github.com/aretw0/patchbay/pkg/observability"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/aretw0/patchbay/pkg/registry"
)

// Bay is the high-level entry point of the library. It wraps the topology
// store and wires the audio-server backend, the process launcher and the
// optional persistence, locking and metrics around it.
type Bay struct {
	store *runtime.Store

	registry     *registry.Registry
	backend      ports.Backend
	launcher     ports.Launcher
	state        ports.DeclarationStore
	locker       ports.DistributedLocker
	lockTTL      time.Duration
	startTimeout time.Duration
	metrics      *observability.Metrics
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
}

// Option defines a functional option for configuring the Bay.
type Option func(*Bay)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bay) {
		b.logger = logger
	}
}

// WithRegistry replaces the node types. The default registry holds the
// player, encoder and selector.
func WithRegistry(r *registry.Registry) Option {
	return func(b *Bay) {
		b.registry = r
	}
}

// WithBackend sets the audio server. Defaults to JACK.
func WithBackend(backend ports.Backend) Option {
	return func(b *Bay) {
		b.backend = backend
	}
}

// WithLauncher sets how node processes are spawned. Defaults to a process
// supervisor running commands from PATH.
func WithLauncher(l ports.Launcher) Option {
	return func(b *Bay) {
		b.launcher = l
	}
}

// WithStateStore saves the live topology after every successful change.
func WithStateStore(store ports.DeclarationStore) Option {
	return func(b *Bay) {
		b.state = store
	}
}

// WithLocker serializes mutations across replicas sharing one audio server.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(b *Bay) {
		b.locker = locker
		b.lockTTL = ttl
	}
}

// WithStartTimeout bounds how long a node may take to expose its ports.
func WithStartTimeout(d time.Duration) Option {
	return func(b *Bay) {
		b.startTimeout = d
	}
}

// WithMetrics counts lifecycle events and backend operations.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bay) {
		b.metrics = m
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(b *Bay) {
		b.hooks = hooks
	}
}

// New builds a Bay. Nothing is started until Load.
func New(opts ...Option) *Bay {
	b := &Bay{}
	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = logging.NewNop()
	}
	if b.registry == nil {
		b.registry = nodes.NewRegistry()
	}
	if b.backend == nil {
		b.backend = jack.New(jack.WithLogger(b.logger.With("component", "jack")))
	}
	if b.launcher == nil {
		b.launcher = process.NewSupervisor(process.WithLogger(b.logger.With("component", "process")))
	}

	backend := b.backend
	hooks := b.hooks
	if b.metrics != nil {
		backend = observability.InstrumentBackend(backend, b.metrics)
		hooks = domain.CombineHooks(b.metrics.Hooks(), hooks)
	}

	storeOpts := []runtime.Option{
		runtime.WithLogger(b.logger),
		runtime.WithBackend(backend),
		runtime.WithLauncher(b.launcher),
		runtime.WithLifecycleHooks(hooks),
	}
	if b.startTimeout > 0 {
		storeOpts = append(storeOpts, runtime.WithStartTimeout(b.startTimeout))
	}
	if b.state != nil {
		storeOpts = append(storeOpts, runtime.WithStateStore(b.state))
	}
	if b.locker != nil {
		storeOpts = append(storeOpts, runtime.WithLocker(b.locker, b.lockTTL))
	}
	b.store = runtime.NewStore(b.registry, storeOpts...)
	return b
}

// Load starts the nodes of decl, commits its links and runs one global
// reconciliation. Nodes already loaded are kept. A malformed declaration
// aborts before any process is spawned; start failures are aggregated and
// leave the rest of the batch running.
func (b *Bay) Load(ctx context.Context, decl *domain.Declaration) error {
	return b.store.Load(ctx, decl)
}

// LoadFile loads a declaration file (.toml, .yaml or .json).
func (b *Bay) LoadFile(ctx context.Context, path string) error {
	decl, err := file.New(path).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read declaration: %w", err)
	}
	return b.store.Load(ctx, decl)
}

// Resume loads the topology last saved to the state store. It returns
// domain.ErrDeclarationNotFound when nothing was saved yet.
func (b *Bay) Resume(ctx context.Context) error {
	if b.state == nil {
		return fmt.Errorf("resume: %w", domain.ErrDeclarationNotFound)
	}
	decl, err := b.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return b.store.Load(ctx, decl)
}

// Reload applies the topology another replica saved to the state store.
// Unlike Resume it also removes what is no longer declared, and it does not
// save the result back.
func (b *Bay) Reload(ctx context.Context) error {
	if b.state == nil {
		return fmt.Errorf("reload: %w", domain.ErrDeclarationNotFound)
	}
	decl, err := b.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return b.store.Sync(ctx, decl)
}

// AddNode starts a single node.
func (b *Bay) AddNode(ctx context.Context, id domain.NodeID, cfg domain.Config) error {
	return b.store.AddNode(ctx, id, cfg)
}

// RemoveNode unlinks a node and shuts it down.
func (b *Bay) RemoveNode(ctx context.Context, id domain.NodeID) error {
	return b.store.RemoveNode(ctx, id)
}

// Link declares a link and reconciles the affected nodes.
func (b *Bay) Link(ctx context.Context, source, target domain.Port) error {
	return b.store.Link(ctx, source, target)
}

// Unlink removes a link and reconciles the affected nodes.
func (b *Bay) Unlink(ctx context.Context, source, target domain.Port) error {
	return b.store.Unlink(ctx, source, target)
}

// Update replaces the configuration of a node.
func (b *Bay) Update(ctx context.Context, id domain.NodeID, cfg domain.Config) error {
	return b.store.Update(ctx, id, cfg)
}

// SetField sets one configuration key of a node.
func (b *Bay) SetField(ctx context.Context, id domain.NodeID, field, value string) error {
	return b.store.SetField(ctx, id, field, value)
}

// ReconcileAll re-applies every link to the audio server.
func (b *Bay) ReconcileAll(ctx context.Context) error {
	return b.store.ReconcileAll(ctx)
}

// ReconcileNode re-applies the links of one node, given as "type.instance".
func (b *Bay) ReconcileNode(ctx context.Context, name string) error {
	return b.store.ReconcileNode(ctx, name)
}

// Snapshot returns the declaration of the live topology.
func (b *Bay) Snapshot() *domain.Declaration {
	return b.store.Snapshot()
}

// NodeConfig returns the current configuration of a node.
func (b *Bay) NodeConfig(id domain.NodeID) (domain.Config, error) {
	return b.store.NodeConfig(id)
}

// Links returns the live links in declaration order.
func (b *Bay) Links() []domain.Link {
	return b.store.Links()
}

// Ready reports whether the initial load completed.
func (b *Bay) Ready() bool {
	return b.store.Ready()
}

// Save writes the live topology to the state store, if one is configured.
func (b *Bay) Save(ctx context.Context) error {
	return b.store.Save(ctx)
}

// Shutdown removes every link from the audio server and stops every node.
func (b *Bay) Shutdown(ctx context.Context) error {
	return b.store.Shutdown(ctx)
}

// Types returns the registered node types.
func (b *Bay) Types() []string {
	return b.registry.Types()
}

// IsMalformed reports whether err is a declaration error rather than a
// node failing to start.
func IsMalformed(err error) bool {
	return runtime.IsMalformed(err)
}
