package nodes

import (
	"context"
	"fmt"
	"syscall"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// TypeEncoder is the node type name of Encoder.
const TypeEncoder = "icecast"

const defaultBitrate = "192k"

// EncoderConfig is the configuration of an Encoder.
type EncoderConfig struct {
	StreamURL string `mapstructure:"stream_url"`
	Bitrate   string `mapstructure:"bitrate"`
}

// Encoder streams its input to an Icecast mount as MP3 through ffmpeg.
type Encoder struct {
	base
	conf EncoderConfig

	proc ports.Process
	pair domain.ChannelPorts
}

var (
	_ ports.Node          = (*Encoder)(nil)
	_ ports.InputResolver = (*Encoder)(nil)
	_ ports.Liveness      = (*Encoder)(nil)
)

// NewEncoder validates cfg and returns a stopped Encoder.
func NewEncoder(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
	e := &Encoder{base: newBase(id, cfg, env)}
	conf, err := parseEncoderConfig(cfg)
	if err != nil {
		return nil, err
	}
	e.conf = conf
	e.inputs = domain.NewPorts(id, "0")
	return e, nil
}

func parseEncoderConfig(cfg domain.Config) (EncoderConfig, error) {
	conf := EncoderConfig{Bitrate: defaultBitrate}
	if err := decodeConfig(cfg, &conf); err != nil {
		return conf, err
	}
	if conf.Bitrate == "" {
		conf.Bitrate = defaultBitrate
	}
	return conf, requireField("stream_url", conf.StreamURL)
}

// EncoderArgs returns the ffmpeg arguments for an encoder client.
func EncoderArgs(client string, conf EncoderConfig) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nostats",
		"-f", "jack",
		"-i", client,
		"-acodec", "libmp3lame",
		"-ab", conf.Bitrate,
		"-f", "mp3",
		conf.StreamURL,
	}
}

func (e *Encoder) Start(ctx context.Context) error {
	if e.proc != nil {
		return nil
	}

	proc, err := e.launcher.Launch(ctx, "ffmpeg", EncoderArgs(e.clientName(), e.conf)...)
	if err != nil {
		return err
	}

	found, err := e.waitForPorts(ctx, proc, e.portPattern(`input_(1|2)`), domain.Channels)
	if err != nil {
		if stopErr := e.stopProcess(ctx, proc, syscall.SIGQUIT); stopErr != nil {
			e.logger.Warn("failed to stop encoder after start failure", "err", stopErr)
		}
		return err
	}

	e.proc = proc
	e.pair = domain.ChannelPorts{found[0], found[1]}
	e.logger.Info("encoder ready", "bitrate", e.conf.Bitrate, "pid", proc.Pid())
	return nil
}

// Shutdown asks ffmpeg to quit, which flushes the stream before exiting.
func (e *Encoder) Shutdown(ctx context.Context) error {
	if e.proc == nil {
		return nil
	}
	proc := e.proc
	e.proc = nil
	e.pair = domain.ChannelPorts{}
	return e.stopProcess(ctx, proc, syscall.SIGQUIT)
}

// Update restarts the encoder when the stream target or bitrate changes. Its
// ports are recreated, so whatever feeds it is reconciled again. When the
// restart fails the previous configuration is kept and the next Update tries
// again.
func (e *Encoder) Update(ctx context.Context, cfg domain.Config) error {
	conf, err := parseEncoderConfig(cfg)
	if err != nil {
		return err
	}
	changed := conf != e.conf
	if !e.restartFailed && (!changed || e.proc == nil) {
		e.conf, e.cfg = conf, cfg.Clone()
		return nil
	}

	prevConf, prevCfg := e.conf, e.cfg
	e.conf, e.cfg = conf, cfg.Clone()
	e.logger.Info("restarting encoder")
	if err := e.restart(ctx); err != nil {
		e.conf, e.cfg = prevConf, prevCfg
		e.restartFailed = true
		return fmt.Errorf("restart: %w", err)
	}
	e.restartFailed = false
	e.topo.RequestReconcileUpstream(ctx, e.id)
	return nil
}

func (e *Encoder) restart(ctx context.Context) error {
	if err := e.Shutdown(ctx); err != nil {
		return err
	}
	return e.Start(ctx)
}

// Running reports whether the ffmpeg process is up.
func (e *Encoder) Running() bool {
	return e.proc != nil
}

// InputPorts returns the ffmpeg input pair. A stopped encoder is not routable.
func (e *Encoder) InputPorts(ctx context.Context, port domain.Port) ([]domain.ChannelPorts, error) {
	if port != e.inputs[0] {
		return nil, fmt.Errorf("%w: %s", domain.ErrPortNotFound, port)
	}
	if e.proc == nil {
		return nil, nil
	}
	return []domain.ChannelPorts{e.pair}, nil
}
