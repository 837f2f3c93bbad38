package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// fakeNode records every call the Store makes. Sources have out_0/out_1,
// sinks have in_0/in_1; a node can be both.
type fakeNode struct {
	id      domain.NodeID
	cfg     domain.Config
	env     ports.NodeEnv
	inputs  []domain.Port
	outputs []domain.Port

	startErr error
	started  bool
	stopped  bool
	late     int

	reconciles   [][]domain.Link
	reconcileErr error
	// onReconcile runs inside ReconcileLinks, to exercise reentrancy.
	onReconcile func(ctx context.Context)
	// onUpdate runs inside Update, after the configuration is applied.
	onUpdate func(ctx context.Context)
}

func (n *fakeNode) ID() domain.NodeID      { return n.id }
func (n *fakeNode) Inputs() []domain.Port  { return n.inputs }
func (n *fakeNode) Outputs() []domain.Port { return n.outputs }
func (n *fakeNode) Config() domain.Config  { return n.cfg.Clone() }
func (n *fakeNode) LateStart(context.Context) error {
	n.late++
	return nil
}

func (n *fakeNode) Start(context.Context) error {
	if n.startErr != nil {
		return n.startErr
	}
	n.started = true
	return nil
}

func (n *fakeNode) Update(ctx context.Context, cfg domain.Config) error {
	if cfg["fail"] == "true" {
		return errors.New("rejected")
	}
	n.cfg = cfg
	if n.onUpdate != nil {
		n.onUpdate(ctx)
	}
	return nil
}

func (n *fakeNode) Shutdown(context.Context) error {
	n.stopped = true
	return nil
}

func (n *fakeNode) InputPorts(_ context.Context, port domain.Port) ([]domain.ChannelPorts, error) {
	name := n.id.String() + ":" + port.ID
	return []domain.ChannelPorts{{name + "_l", name + "_r"}}, nil
}

func (n *fakeNode) ReconcileLinks(ctx context.Context, links []domain.Link) error {
	n.reconciles = append(n.reconciles, slices.Clone(links))
	if n.onReconcile != nil {
		n.onReconcile(ctx)
	}
	return n.reconcileErr
}

// plainNode declares inputs but cannot resolve them.
type plainNode struct {
	n *fakeNode
}

func (p plainNode) ID() domain.NodeID                                { return p.n.ID() }
func (p plainNode) Inputs() []domain.Port                            { return p.n.Inputs() }
func (p plainNode) Outputs() []domain.Port                           { return p.n.Outputs() }
func (p plainNode) Config() domain.Config                            { return p.n.Config() }
func (p plainNode) Start(ctx context.Context) error                  { return p.n.Start(ctx) }
func (p plainNode) Update(ctx context.Context, c domain.Config) error { return p.n.Update(ctx, c) }
func (p plainNode) Shutdown(ctx context.Context) error               { return p.n.Shutdown(ctx) }

// fakeFactory builds fakeNodes. Types "src", "sink" and "both" pick the
// port set; "broken" fails to start; "bad" is rejected at construction.
type fakeFactory struct {
	built map[domain.NodeID]*fakeNode
	// startErrs makes the next nodes built with these ids fail to start.
	startErrs map[domain.NodeID]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		built:     make(map[domain.NodeID]*fakeNode),
		startErrs: make(map[domain.NodeID]error),
	}
}

func (f *fakeFactory) Types() []string {
	return []string{"src", "sink", "both", "broken", "bad", "plain"}
}

func (f *fakeFactory) Build(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
	n := &fakeNode{id: id, cfg: cfg, env: env, startErr: f.startErrs[id]}
	in := domain.NewPorts(id, "in_0", "in_1")
	out := domain.NewPorts(id, "out_0", "out_1")
	switch id.Type {
	case "src":
		n.outputs = out
	case "sink":
		n.inputs = in
	case "both":
		n.inputs, n.outputs = in, out
	case "broken":
		n.outputs = out
		n.startErr = errors.New("no ports appeared")
	case "bad":
		return nil, fmt.Errorf("%w: missing key", domain.ErrInvalidConfig)
	case "plain":
		f.built[id] = n
		n.inputs = in
		return plainNode{n}, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNodeType, id.Type)
	}
	f.built[id] = n
	return n, nil
}

func (f *fakeFactory) node(name string) *fakeNode {
	id, err := domain.ParseNodeID(name)
	if err != nil {
		panic(err)
	}
	return f.built[id]
}

func port(addr string) domain.Port {
	p, err := domain.ParsePort(addr)
	if err != nil {
		panic(err)
	}
	return p
}

func declaration(nodes []string, links ...string) *domain.Declaration {
	decl := domain.NewDeclaration()
	for _, name := range nodes {
		id, err := domain.ParseNodeID(name)
		if err != nil {
			panic(err)
		}
		decl.AddNode(id, domain.Config{})
	}
	for i := 0; i+1 < len(links); i += 2 {
		decl.Links = append(decl.Links, domain.LinkDecl{From: links[i], To: links[i+1]})
	}
	return decl
}
