package nodes

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// TypeSelector is the node type name of Selector.
const TypeSelector = "mux"

// SelectorConfig is the configuration of a Selector.
type SelectorConfig struct {
	// Inputs is the number of input ports, named "0" to "Inputs-1".
	Inputs int `mapstructure:"inputs"`
	// Active is the input passed through.
	Active int `mapstructure:"active"`
}

// Selector routes exactly one of its inputs to its output. It owns no audio
// ports: an upstream node linked to the active input resolves straight to
// whatever the selector's output is linked to, other inputs resolve to nothing.
type Selector struct {
	base
	conf SelectorConfig

	// resolving is set while InputPorts walks downstream, to cut cycles.
	resolving bool
}

var (
	_ ports.Node           = (*Selector)(nil)
	_ ports.InputResolver  = (*Selector)(nil)
	_ ports.LinkReconciler = (*Selector)(nil)
	_ ports.LateStarter    = (*Selector)(nil)
)

// NewSelector validates cfg and returns a Selector.
func NewSelector(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
	s := &Selector{base: newBase(id, cfg, env)}
	conf, err := parseSelectorConfig(cfg)
	if err != nil {
		return nil, err
	}
	s.conf = conf

	ids := make([]string, conf.Inputs)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	s.inputs = domain.NewPorts(id, ids...)
	s.outputs = domain.NewPorts(id, "0")
	return s, nil
}

func parseSelectorConfig(cfg domain.Config) (SelectorConfig, error) {
	var conf SelectorConfig
	if err := decodeConfig(cfg, &conf); err != nil {
		return conf, err
	}
	if conf.Inputs < 1 {
		return conf, fmt.Errorf("%w: inputs must be at least 1, got %d", domain.ErrInvalidConfig, conf.Inputs)
	}
	if conf.Active < 0 || conf.Active >= conf.Inputs {
		return conf, fmt.Errorf("%w: active must be in [0, %d), got %d", domain.ErrInvalidConfig, conf.Inputs, conf.Active)
	}
	return conf, nil
}

// Active returns the input currently passed through.
func (s *Selector) Active() int {
	return s.conf.Active
}

func (s *Selector) Start(context.Context) error    { return nil }
func (s *Selector) Shutdown(context.Context) error { return nil }

// LateStart reconciles the nodes feeding the selector, now that whatever the
// output leads to has started.
func (s *Selector) LateStart(ctx context.Context) error {
	s.topo.RequestReconcileUpstream(ctx, s.id)
	return nil
}

// Update switches the active input. The input count cannot change.
func (s *Selector) Update(ctx context.Context, cfg domain.Config) error {
	conf, err := parseSelectorConfig(cfg)
	if err != nil {
		return err
	}
	if conf.Inputs != s.conf.Inputs {
		return fmt.Errorf("%w: inputs cannot change from %d to %d", domain.ErrInvalidConfig, s.conf.Inputs, conf.Inputs)
	}

	previous := s.conf.Active
	s.conf = conf
	s.cfg = cfg.Clone()

	if conf.Active != previous {
		s.logger.Info("switching input", "from", previous, "to", conf.Active)
		s.topo.RequestReconcileUpstream(ctx, s.id)
	}
	return nil
}

// InputPorts resolves the active input to the ports the output is linked to.
func (s *Selector) InputPorts(ctx context.Context, port domain.Port) ([]domain.ChannelPorts, error) {
	if !slices.Contains(s.inputs, port) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPortNotFound, port)
	}
	if port.ID != strconv.Itoa(s.conf.Active) {
		return nil, nil
	}
	if s.resolving {
		s.logger.Warn("routing cycle through selector, ignoring", "port", port.String())
		return nil, nil
	}
	s.resolving = true
	defer func() { s.resolving = false }()

	var out []domain.ChannelPorts
	for _, target := range s.topo.Targets(s.outputs[0]) {
		pairs, err := s.resolveTarget(ctx, target)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

// ReconcileLinks does nothing: the selector's routing happens in InputPorts.
func (s *Selector) ReconcileLinks(ctx context.Context, links []domain.Link) error {
	s.logger.Debug("selector output resolved by upstream nodes", "links", len(links))
	return nil
}
