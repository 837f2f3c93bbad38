package nodes

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

const (
	defaultStartTimeout = 10 * time.Second
	stopGrace           = 5 * time.Second
	pollInterval        = 50 * time.Millisecond
)

// base holds what every node type shares: identity, configuration, ports and
// the environment handed over by the store.
type base struct {
	id      domain.NodeID
	cfg     domain.Config
	inputs  []domain.Port
	outputs []domain.Port

	backend      ports.Backend
	topo         ports.ReconcileContext
	launcher     ports.Launcher
	startTimeout time.Duration
	logger       *slog.Logger

	// restartFailed is set when a restart left the process down, so the next
	// Update starts it again even without a configuration change.
	restartFailed bool
}

func newBase(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) base {
	b := base{
		id:           id,
		cfg:          cfg.Clone(),
		backend:      env.Backend,
		topo:         env.Context,
		launcher:     env.Launcher,
		startTimeout: env.StartTimeout,
		logger:       env.Logger,
	}
	if b.startTimeout <= 0 {
		b.startTimeout = defaultStartTimeout
	}
	if b.logger == nil {
		b.logger = logging.NewNop()
	}
	return b
}

func (b *base) ID() domain.NodeID      { return b.id }
func (b *base) Inputs() []domain.Port  { return b.inputs }
func (b *base) Outputs() []domain.Port { return b.outputs }
func (b *base) Config() domain.Config  { return b.cfg.Clone() }

// clientName is the audio-server client name of the node's process.
func (b *base) clientName() string {
	return b.id.String()
}

// portPattern matches the client's ports whose short name matches suffix.
func (b *base) portPattern(suffix string) string {
	return "^" + regexp.QuoteMeta(b.clientName()) + ":" + suffix + "$"
}

// decodeConfig decodes a node's string map into a typed struct. Numbers and
// booleans are parsed from their string form.
func decodeConfig(cfg domain.Config, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]string(cfg)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %q is required", domain.ErrInvalidConfig, name)
	}
	return nil
}
