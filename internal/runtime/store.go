package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultStartTimeout bounds how long a node may take to expose its ports.
	DefaultStartTimeout = 10 * time.Second

	lockKey        = "topology"
	defaultLockTTL = 30 * time.Second
)

// Store owns the live nodes and the link table. It is the only mutator of the
// model: every public method runs its mutation and the resulting
// reconciliation inside one critical section before returning.
type Store struct {
	mu sync.Mutex

	topo    *topology
	guard   *guard
	engine  *Engine
	nodeCtx *nodeContext

	factory      ports.NodeFactory
	backend      ports.Backend
	launcher     ports.Launcher
	startTimeout time.Duration

	// unstarted holds the nodes that failed to start and the links waiting on
	// them, so saving the topology does not forget them.
	unstarted *domain.Declaration

	state   ports.DeclarationStore
	locker  ports.DistributedLocker
	lockTTL time.Duration

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger configures a logger for the Store and every node it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBackend sets the audio-server backend handed to nodes.
func WithBackend(b ports.Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithLauncher sets the process launcher handed to nodes.
func WithLauncher(l ports.Launcher) Option {
	return func(s *Store) {
		s.launcher = l
	}
}

// WithStartTimeout bounds the wait for a node's backend ports.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.startTimeout = d
		}
	}
}

// WithStateStore persists the topology after the initial load and after every
// successful mutation.
func WithStateStore(store ports.DeclarationStore) Option {
	return func(s *Store) {
		s.state = store
	}
}

// WithLocker takes a distributed lock around every mutation, for replicas
// sharing one audio server.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(s *Store) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Store) {
		s.hooks = hooks
	}
}

// NewStore creates an empty Store. Nodes are built by factory.
func NewStore(factory ports.NodeFactory, opts ...Option) *Store {
	s := &Store{
		topo:         newTopology(),
		unstarted:    domain.NewDeclaration(),
		factory:      factory,
		startTimeout: DefaultStartTimeout,
		lockTTL:      defaultLockTTL,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.guard = newGuard(s.logger)
	s.engine = newEngine(s.topo, s.guard, s.hooks, s.logger)
	s.nodeCtx = &nodeContext{topo: s.topo, engine: s.engine, guard: s.guard, logger: s.logger}
	return s
}

// withLock runs fn inside the Store's critical section.
func (s *Store) withLock(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, lockKey, s.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire topology lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				s.logger.Warn("Failed to release topology lock (will expire via TTL)", "err", err)
			}
		}()
	}

	return fn(ctx)
}

func (s *Store) nodeEnv(id domain.NodeID) ports.NodeEnv {
	return ports.NodeEnv{
		Backend:      s.backend,
		Context:      s.nodeCtx,
		Launcher:     s.launcher,
		Logger:       s.logger.With("node", id.String()),
		StartTimeout: s.startTimeout,
	}
}

// Load adds a batch of nodes and links.
//
// The whole declaration is validated before any node starts: a malformed
// address, an unknown type, a rejected configuration or a dangling link
// aborts the load with nothing spawned. Nodes that are already loaded are kept
// as they are. A node failing to start is left out of the topology (with its
// links) without stopping its siblings; those failures are returned together
// once the rest of the batch is loaded and reconciled. Such nodes and their
// links are still saved, and are retried by the next load declaring them.
func (s *Store) Load(ctx context.Context, decl *domain.Declaration) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.load(ctx, decl)
	})
}

func (s *Store) load(ctx context.Context, decl *domain.Declaration) error {
	applied, err := s.start(ctx, decl)
	if applied {
		s.autosave(ctx)
	}
	return err
}

// start brings up the nodes and links of decl that are not live yet. applied
// is false when decl was rejected before anything changed.
func (s *Store) start(ctx context.Context, decl *domain.Declaration) (applied bool, err error) {
	// 1. Build the new nodes (validation only, nothing spawned).
	var batch []ports.Node
	pending := make(map[domain.NodeID]ports.Node)
	for _, id := range decl.NodeIDs() {
		if _, exists := s.topo.lookup(id); exists {
			s.logger.Debug("node already loaded, keeping it", "node", id.String())
			continue
		}
		cfg, _ := decl.Config(id)
		node, err := s.factory.Build(id, cfg.Clone(), s.nodeEnv(id))
		if err != nil {
			return false, fmt.Errorf("node %s: %w", id, err)
		}
		batch = append(batch, node)
		pending[id] = node
	}

	resolve := func(id domain.NodeID) (ports.Node, bool) {
		if node, ok := pending[id]; ok {
			return node, true
		}
		return s.topo.lookup(id)
	}

	// 2. Resolve every link against loaded and pending nodes.
	links := make([]domain.Link, 0, len(decl.Links))
	seen := make(map[domain.Link]bool)
	for i, d := range decl.Links {
		link, err := d.Parse()
		if err != nil {
			return false, fmt.Errorf("links[%d]: %w", i, err)
		}
		if seen[link] {
			return false, fmt.Errorf("links[%d]: %w: %s", i, domain.ErrDuplicateLink, link)
		}
		seen[link] = true
		if err := validateLink(link, resolve); err != nil {
			return false, fmt.Errorf("links[%d]: %w", i, err)
		}
		links = append(links, link)
	}

	// Links left waiting by an earlier load get another chance.
	for _, d := range s.unstarted.Links {
		link, err := d.Parse()
		if err != nil || seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	s.unstarted.Links = []domain.LinkDecl{}

	// 3. Start the batch. One failure does not stop the others.
	var startErr *multierror.Error
	started := make([]ports.Node, 0, len(batch))
	for _, node := range batch {
		if err := s.startNode(ctx, node); err != nil {
			startErr = multierror.Append(startErr, fmt.Errorf("start %s: %w", node.ID(), err))
			s.unstarted.AddNode(node.ID(), node.Config())
			continue
		}
		s.unstarted.RemoveNode(node.ID())
		s.topo.add(node)
		started = append(started, node)
	}

	// 4. Commit links between loaded nodes; keep the others waiting.
	for _, link := range links {
		_, srcOK := s.topo.lookup(link.Source.Node)
		_, tgtOK := s.topo.lookup(link.Target.Node)
		if !srcOK || !tgtOK {
			s.logger.Warn("link waits for a node that failed to start", "link", link.String())
			s.unstarted.Links = append(s.unstarted.Links, link.Decl())
			continue
		}
		if err := validateLink(link, s.topo.lookup); err != nil {
			s.logger.Warn("dropping waiting link", "link", link.String(), "err", err)
			continue
		}
		if s.topo.links.add(link) {
			s.emitLink(ctx, domain.EventLink, link)
		}
	}

	// 5. Late start, once every node of the batch is up.
	for _, node := range started {
		late, ok := node.(ports.LateStarter)
		if !ok {
			continue
		}
		if err := late.LateStart(ctx); err != nil {
			startErr = multierror.Append(startErr, fmt.Errorf("late start %s: %w", node.ID(), err))
		}
	}

	// 6. Reconcile everything, then let nodes request reconciliation.
	if err := s.engine.ReconcileAll(ctx); err != nil {
		s.logger.Warn("initial reconcile reported errors", "err", err)
	}
	s.guard.activate()

	s.logger.Info("topology loaded",
		"started", len(started),
		"failed", len(batch)-len(started),
		"links", s.topo.links.count(),
	)
	return true, startErr.ErrorOrNil()
}

func (s *Store) startNode(ctx context.Context, node ports.Node) error {
	start := time.Now()
	err := node.Start(ctx)

	event := &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventNodeStart},
		NodeID:    node.ID().String(),
		NodeType:  node.ID().Type,
		Duration:  time.Since(start),
	}
	if err != nil {
		event.Error = err.Error()
		s.logger.Error("node failed to start", "node", event.NodeID, "err", err)
		// Release whatever the node managed to spawn.
		if shutdownErr := node.Shutdown(ctx); shutdownErr != nil {
			s.logger.Warn("cleanup after failed start", "node", event.NodeID, "err", shutdownErr)
		}
	} else {
		s.logger.Info("node started", "node", event.NodeID, "duration", event.Duration)
	}
	if s.hooks.OnNodeStart != nil {
		s.hooks.OnNodeStart(ctx, event)
	}
	return err
}

func (s *Store) stopNode(ctx context.Context, node ports.Node) error {
	err := node.Shutdown(ctx)
	event := &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventNodeStop},
		NodeID:    node.ID().String(),
		NodeType:  node.ID().Type,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if s.hooks.OnNodeStop != nil {
		s.hooks.OnNodeStop(ctx, event)
	}
	return err
}

func (s *Store) emitLink(ctx context.Context, typ domain.EventType, link domain.Link) {
	if s.hooks.OnLink == nil {
		return
	}
	s.hooks.OnLink(ctx, &domain.LinkEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: typ},
		From:      link.Source.String(),
		To:        link.Target.String(),
	})
}

// validateLink checks that both endpoints exist with the right direction and
// that the target can resolve its inputs.
func validateLink(link domain.Link, resolve func(domain.NodeID) (ports.Node, bool)) error {
	src, ok := resolve(link.Source.Node)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, link.Source.Node)
	}
	tgt, ok := resolve(link.Target.Node)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, link.Target.Node)
	}
	if !slices.Contains(src.Outputs(), link.Source) {
		return fmt.Errorf("%w: no output %s", domain.ErrPortNotFound, link.Source)
	}
	if !slices.Contains(tgt.Inputs(), link.Target) {
		return fmt.Errorf("%w: no input %s", domain.ErrPortNotFound, link.Target)
	}
	if _, ok := tgt.(ports.InputResolver); !ok {
		return fmt.Errorf("%w: %s cannot resolve inputs", domain.ErrUnsupported, link.Target.Node)
	}
	return nil
}

// AddNode builds, starts and registers a single node.
func (s *Store) AddNode(ctx context.Context, id domain.NodeID, cfg domain.Config) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		if _, exists := s.topo.lookup(id); exists {
			return fmt.Errorf("%w: %s", domain.ErrNodeExists, id)
		}
		decl := domain.NewDeclaration()
		decl.AddNode(id, cfg)
		return s.load(ctx, decl)
	})
}

// RemoveNode drops every link touching the node, reconciles the affected
// sources, then shuts the node down. A node that failed to start is forgotten
// along with its waiting links.
func (s *Store) RemoveNode(ctx context.Context, id domain.NodeID) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		node, ok := s.topo.lookup(id)
		if !ok {
			if _, waiting := s.unstarted.Config(id); waiting {
				s.unstarted.RemoveNode(id)
				s.unstarted.Links = slices.DeleteFunc(s.unstarted.Links, func(d domain.LinkDecl) bool {
					link, err := d.Parse()
					return err == nil && (link.Source.Node == id || link.Target.Node == id)
				})
				s.autosave(ctx)
				return nil
			}
			return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
		}

		var affected []domain.NodeID
		for _, link := range s.topo.links.touching(id) {
			s.topo.links.remove(link)
			s.emitLink(ctx, domain.EventUnlink, link)
			if !slices.Contains(affected, link.Source.Node) {
				affected = append(affected, link.Source.Node)
			}
		}
		for _, src := range affected {
			s.reconcileFrom(ctx, src)
		}

		s.topo.remove(id)
		err := s.stopNode(ctx, node)
		s.autosave(ctx)
		if err != nil {
			return fmt.Errorf("shutdown %s: %w", id, err)
		}
		return nil
	})
}

// Link declares a link and reconciles its source. Declaring an existing link
// is a no-op.
func (s *Store) Link(ctx context.Context, source, target domain.Port) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		link := domain.Link{Source: source, Target: target}
		if err := validateLink(link, s.topo.lookup); err != nil {
			return err
		}
		if !s.topo.links.add(link) {
			return nil
		}
		s.emitLink(ctx, domain.EventLink, link)
		s.reconcileFrom(ctx, source.Node)
		s.autosave(ctx)
		return nil
	})
}

// Unlink removes a link and reconciles its source. Removing an unknown link is
// a no-op.
func (s *Store) Unlink(ctx context.Context, source, target domain.Port) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		link := domain.Link{Source: source, Target: target}
		if !s.topo.links.remove(link) {
			if i := slices.Index(s.unstarted.Links, link.Decl()); i >= 0 {
				s.unstarted.Links = slices.Delete(s.unstarted.Links, i, i+1)
				s.autosave(ctx)
			}
			return nil
		}
		s.emitLink(ctx, domain.EventUnlink, link)
		s.reconcileFrom(ctx, source.Node)
		s.autosave(ctx)
		return nil
	})
}

// reconcileFrom reconciles a node whose outgoing links changed, then its
// upstream, whose resolution may pass through it.
func (s *Store) reconcileFrom(ctx context.Context, id domain.NodeID) {
	if err := s.engine.ReconcileNode(ctx, id); err != nil {
		s.logger.Warn("reconcile failed", "node", id.String(), "err", err)
	}
	s.engine.ReconcileUpstream(ctx, id)
}

// Update hands a new configuration to a node. Any follow-up reconciliation
// is requested by the node itself.
func (s *Store) Update(ctx context.Context, id domain.NodeID, cfg domain.Config) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		if err := s.update(ctx, id, cfg); err != nil {
			return err
		}
		s.autosave(ctx)
		return nil
	})
}

// SetField updates a single configuration key of a node.
func (s *Store) SetField(ctx context.Context, id domain.NodeID, field, value string) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		node, ok := s.topo.lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
		}
		if err := s.update(ctx, id, node.Config().With(field, value)); err != nil {
			return err
		}
		s.autosave(ctx)
		return nil
	})
}

func (s *Store) update(ctx context.Context, id domain.NodeID, cfg domain.Config) error {
	node, ok := s.topo.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}

	start := time.Now()
	err := node.Update(ctx, cfg.Clone())

	event := &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventNodeUpdate},
		NodeID:    id.String(),
		NodeType:  id.Type,
		Duration:  time.Since(start),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if s.hooks.OnNodeUpdate != nil {
		s.hooks.OnNodeUpdate(ctx, event)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	return nil
}

// Sync makes the live topology match decl, the state saved by another
// replica: links and nodes it no longer declares are removed, changed
// configurations are applied, then new nodes and links are loaded. decl is
// already saved, so Sync does not save.
func (s *Store) Sync(ctx context.Context, decl *domain.Declaration) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		declared := make(map[domain.Link]bool, len(decl.Links))
		for i, d := range decl.Links {
			link, err := d.Parse()
			if err != nil {
				return fmt.Errorf("links[%d]: %w", i, err)
			}
			declared[link] = true
		}

		var result *multierror.Error
		var affected []domain.NodeID
		for _, link := range s.topo.links.all() {
			if declared[link] {
				continue
			}
			s.topo.links.remove(link)
			s.emitLink(ctx, domain.EventUnlink, link)
			if !slices.Contains(affected, link.Source.Node) {
				affected = append(affected, link.Source.Node)
			}
		}
		for _, src := range affected {
			s.reconcileFrom(ctx, src)
		}

		for _, id := range s.topo.ids() {
			node, _ := s.topo.lookup(id)
			cfg, ok := decl.Config(id)
			if !ok {
				s.topo.remove(id)
				if err := s.stopNode(ctx, node); err != nil {
					result = multierror.Append(result, fmt.Errorf("shutdown %s: %w", id, err))
				}
				continue
			}
			if maps.Equal(node.Config(), cfg) {
				continue
			}
			if err := s.update(ctx, id, cfg); err != nil {
				result = multierror.Append(result, err)
			}
		}

		for _, id := range s.unstarted.NodeIDs() {
			if _, ok := decl.Config(id); !ok {
				s.unstarted.RemoveNode(id)
			}
		}
		s.unstarted.Links = slices.DeleteFunc(s.unstarted.Links, func(d domain.LinkDecl) bool {
			link, err := d.Parse()
			return err != nil || !declared[link]
		})

		if _, err := s.start(ctx, decl); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	})
}

// ReconcileAll runs a global reconciliation pass and returns the errors the
// nodes reported. The pass always runs to completion.
func (s *Store) ReconcileAll(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.engine.ReconcileAll(ctx)
	})
}

// ReconcileNode reconciles one node, given as "type.instance", and returns
// the errors it reported.
func (s *Store) ReconcileNode(ctx context.Context, name string) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.engine.ReconcileNodeByName(ctx, name)
	})
}

// Snapshot returns the declaration of the live topology.
func (s *Store) Snapshot() *domain.Declaration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) snapshot() *domain.Declaration {
	decl := domain.NewDeclaration()
	for _, id := range s.topo.ids() {
		node, _ := s.topo.lookup(id)
		decl.AddNode(id, node.Config())
	}
	for _, link := range s.topo.links.all() {
		decl.Links = append(decl.Links, link.Decl())
	}
	return decl
}

// NodeConfig returns the current configuration of a node.
func (s *Store) NodeConfig(id domain.NodeID) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.topo.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}
	return node.Config().Clone(), nil
}

// Node returns a loaded node.
func (s *Store) Node(id domain.NodeID) (ports.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.lookup(id)
}

// Links returns the declared links in order.
func (s *Store) Links() []domain.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topo.links.all()
}

// Ready reports whether the initial load completed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard.phase != phaseLoading
}

// Save writes the live topology to the state store, if one is configured.
func (s *Store) Save(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.save(ctx)
	})
}

func (s *Store) save(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	if err := s.state.Save(ctx, s.persisted()); err != nil {
		return fmt.Errorf("failed to save topology: %w", err)
	}
	return nil
}

// persisted is the live topology plus the nodes and links waiting on a start.
func (s *Store) persisted() *domain.Declaration {
	decl := s.snapshot()
	for _, id := range s.unstarted.NodeIDs() {
		cfg, _ := s.unstarted.Config(id)
		decl.AddNode(id, cfg)
	}
	decl.Links = append(decl.Links, s.unstarted.Links...)
	return decl
}

// Unstarted returns the nodes that failed to start and the links waiting on them.
func (s *Store) Unstarted() *domain.Declaration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unstarted.Clone()
}

func (s *Store) autosave(ctx context.Context) {
	if err := s.save(ctx); err != nil {
		s.logger.Warn("autosave failed", "err", err)
	}
}

// Shutdown tears the topology down: every source is reconciled to no links,
// then every node is shut down. Errors are collected, not short-circuited.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		s.guard.suspend()

		var sources []domain.NodeID
		links := s.topo.links.all()
		for _, link := range links {
			s.topo.links.remove(link)
			s.emitLink(ctx, domain.EventUnlink, link)
			if !slices.Contains(sources, link.Source.Node) {
				sources = append(sources, link.Source.Node)
			}
		}
		for _, id := range sources {
			if err := s.engine.ReconcileNode(ctx, id); err != nil {
				s.logger.Warn("teardown reconcile failed", "node", id.String(), "err", err)
			}
		}

		var result *multierror.Error
		ids := s.topo.ids()
		for _, id := range ids {
			node, _ := s.topo.lookup(id)
			s.topo.remove(id)
			if err := s.stopNode(ctx, node); err != nil {
				result = multierror.Append(result, fmt.Errorf("shutdown %s: %w", id, err))
			}
		}
		s.logger.Info("topology shut down", "nodes", len(ids), "links", len(links))
		return result.ErrorOrNil()
	})
}

// IsMalformed reports whether err is a declaration error (as opposed to a
// node failing to start).
func IsMalformed(err error) bool {
	for _, target := range []error{
		domain.ErrMalformedAddress,
		domain.ErrNodeNotFound,
		domain.ErrPortNotFound,
		domain.ErrUnknownNodeType,
		domain.ErrInvalidConfig,
		domain.ErrDuplicateLink,
		domain.ErrUnsupported,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
