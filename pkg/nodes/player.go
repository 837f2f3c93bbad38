package nodes

import (
	"context"
	"fmt"
	"syscall"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// TypePlayer is the node type name of Player.
const TypePlayer = "mpv"

// PlayerConfig is the configuration of a Player.
type PlayerConfig struct {
	// Source is any file or URL mpv can play.
	Source string `mapstructure:"source"`
}

// Player plays a media source into the routing graph through mpv.
type Player struct {
	base
	conf PlayerConfig

	proc ports.Process
	pair domain.ChannelPorts
}

var (
	_ ports.Node           = (*Player)(nil)
	_ ports.LinkReconciler = (*Player)(nil)
	_ ports.Liveness       = (*Player)(nil)
)

// NewPlayer validates cfg and returns a stopped Player.
func NewPlayer(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
	p := &Player{base: newBase(id, cfg, env)}
	conf, err := parsePlayerConfig(cfg)
	if err != nil {
		return nil, err
	}
	p.conf = conf
	p.outputs = domain.NewPorts(id, "0")
	return p, nil
}

func parsePlayerConfig(cfg domain.Config) (PlayerConfig, error) {
	var conf PlayerConfig
	if err := decodeConfig(cfg, &conf); err != nil {
		return conf, err
	}
	return conf, requireField("source", conf.Source)
}

// PlayerArgs returns the mpv arguments for a player client.
func PlayerArgs(client, source string) []string {
	return []string{
		"--ao=jack",
		"--jack-name=" + client,
		"--jack-connect=no",
		"--quiet",
		"--no-audio-display",
		source,
	}
}

func (p *Player) Start(ctx context.Context) error {
	if p.proc != nil {
		return nil
	}

	proc, err := p.launcher.Launch(ctx, "mpv", PlayerArgs(p.clientName(), p.conf.Source)...)
	if err != nil {
		return err
	}

	found, err := p.waitForPorts(ctx, proc, p.portPattern(`out_(0|1)`), domain.Channels)
	if err != nil {
		if stopErr := p.stopProcess(ctx, proc, syscall.SIGTERM); stopErr != nil {
			p.logger.Warn("failed to stop player after start failure", "err", stopErr)
		}
		return err
	}

	p.proc = proc
	p.pair = domain.ChannelPorts{found[0], found[1]}
	p.logger.Info("player ready", "source", p.conf.Source, "pid", proc.Pid())
	return nil
}

func (p *Player) Shutdown(ctx context.Context) error {
	if p.proc == nil {
		return nil
	}
	proc := p.proc
	p.proc = nil
	p.pair = domain.ChannelPorts{}

	if err := p.stopProcess(ctx, proc, syscall.SIGTERM); err != nil {
		return err
	}
	if !p.waitForPortsGone(ctx, p.portPattern(`out_(0|1)`)) {
		p.logger.Warn("player ports still present after shutdown")
	}
	return nil
}

// Update restarts the player when the source changes, then asks for its own
// links to be reconciled against the new ports. When the restart fails the
// previous configuration is kept and the next Update tries again.
func (p *Player) Update(ctx context.Context, cfg domain.Config) error {
	conf, err := parsePlayerConfig(cfg)
	if err != nil {
		return err
	}
	changed := conf.Source != p.conf.Source
	if !p.restartFailed && (!changed || p.proc == nil) {
		p.conf, p.cfg = conf, cfg.Clone()
		return nil
	}

	prevConf, prevCfg := p.conf, p.cfg
	p.conf, p.cfg = conf, cfg.Clone()
	p.logger.Info("restarting player", "source", conf.Source)
	if err := p.restart(ctx); err != nil {
		p.conf, p.cfg = prevConf, prevCfg
		p.restartFailed = true
		return fmt.Errorf("restart: %w", err)
	}
	p.restartFailed = false
	p.topo.RequestReconcile(ctx, p.id)
	return nil
}

func (p *Player) restart(ctx context.Context) error {
	if err := p.Shutdown(ctx); err != nil {
		return err
	}
	return p.Start(ctx)
}

// Running reports whether the mpv process is up.
func (p *Player) Running() bool {
	return p.proc != nil
}

func (p *Player) ReconcileLinks(ctx context.Context, links []domain.Link) error {
	if p.proc == nil {
		return fmt.Errorf("%w: %s", domain.ErrNotStarted, p.id)
	}
	return p.reconcileOutputs(ctx, map[string]domain.ChannelPorts{"0": p.pair}, links)
}
