package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/patchbay"
	"github.com/aretw0/patchbay/internal/config"
	"github.com/aretw0/patchbay/pkg/adapters/file"
	httpAdapter "github.com/aretw0/patchbay/pkg/adapters/http"
	"github.com/aretw0/patchbay/pkg/adapters/jack"
	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/adapters/process"
	redisAdapter "github.com/aretw0/patchbay/pkg/adapters/redis"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/nodes"
	"github.com/aretw0/patchbay/pkg/observability"
	"github.com/aretw0/patchbay/pkg/persistence/middleware"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is a Bay wired from the configuration, plus what the commands serve
// next to it.
type app struct {
	bay        *patchbay.Bay
	registry   *prometheus.Registry
	streams    *httpAdapter.StreamManager
	redis      *redisAdapter.Store
	supervisor *process.Supervisor
	cfg        config.Config
	logger     *slog.Logger
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		registry: prometheus.NewRegistry(),
		streams:  httpAdapter.NewStreamManager(logger.With("component", "sse")),
		cfg:      cfg,
		logger:   logger,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(a.registry)

	opts := []patchbay.Option{
		patchbay.WithLogger(logger),
		patchbay.WithMetrics(metrics),
		patchbay.WithStartTimeout(time.Duration(cfg.StartTimeout)),
		patchbay.WithLifecycleHooks(domain.CombineHooks(
			observability.LoggingHooks(logger.With("component", "events")),
			a.streams.Hooks(),
		)),
	}

	switch cfg.Backend {
	case config.BackendMemory:
		backend := memory.NewBackend()
		opts = append(opts,
			patchbay.WithBackend(backend),
			patchbay.WithLauncher(memory.NewLauncher(backend, nodes.SimulatedCommands())),
		)
	default:
		commands, err := process.LoadCommands(cfg.Commands)
		if err != nil {
			return nil, err
		}
		a.supervisor = process.NewSupervisor(
			process.WithRegistry(commands),
			process.WithLogger(logger.With("component", "process")),
		)
		opts = append(opts,
			patchbay.WithBackend(jack.New(jack.WithLogger(logger.With("component", "jack")))),
			patchbay.WithLauncher(a.supervisor),
		)
	}

	var state ports.DeclarationStore
	switch {
	case cfg.Redis.Enabled():
		a.redis = redisAdapter.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisAdapter.WithPrefix(cfg.Redis.Prefix))
		state = a.redis
		if cfg.Redis.Lock {
			locker := redisAdapter.NewLocker(a.redis.Client(), cfg.Redis.Prefix)
			opts = append(opts, patchbay.WithLocker(locker, time.Duration(cfg.Redis.LockTTL)))
		}
	case cfg.State != "":
		state = file.New(cfg.State)
	}
	if state != nil {
		var err error
		if state, err = sealed(cfg, state); err != nil {
			return nil, err
		}
	}
	if state != nil {
		opts = append(opts, patchbay.WithStateStore(state))
	}

	a.bay = patchbay.New(opts...)
	return a, nil
}

// sealed wraps store with the encryption middleware when a key is configured.
func sealed(c config.Config, store ports.DeclarationStore) (ports.DeclarationStore, error) {
	if !c.Encryption.Enabled() {
		return store, nil
	}
	active, fallback, err := c.Encryption.Keys()
	if err != nil {
		return nil, err
	}
	seal, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    active,
		FallbackKeys: fallback,
		Fields:       c.Encryption.Fields,
	})
	if err != nil {
		return nil, err
	}
	return middleware.Chain(store, seal), nil
}

// load starts the declared topology, or the saved one when resume is set and
// a saved topology exists. Nodes failing to start are reported and the rest
// keeps running; a malformed declaration is fatal.
func (a *app) load(ctx context.Context, resume bool) error {
	var err error
	if resume {
		err = a.bay.Resume(ctx)
		if errors.Is(err, domain.ErrDeclarationNotFound) {
			a.logger.Info("no saved topology, loading declaration", "path", a.cfg.Declaration)
			err = a.bay.LoadFile(ctx, a.cfg.Declaration)
		}
	} else {
		err = a.bay.LoadFile(ctx, a.cfg.Declaration)
	}

	if err == nil {
		return nil
	}
	if patchbay.IsMalformed(err) || errors.Is(err, domain.ErrDeclarationNotFound) {
		return fmt.Errorf("failed to load topology: %w", err)
	}
	a.logger.Warn("topology loaded with failures", "err", err)
	return nil
}

// watchReplicas applies the topologies other replicas save until ctx is done.
func (a *app) watchReplicas(ctx context.Context) {
	if a.redis == nil {
		return
	}
	go func() {
		err := a.redis.Subscribe(ctx, func(version string) {
			a.reload(ctx, version)
		})
		if err != nil {
			a.logger.Warn("replica updates unavailable", "err", err)
		}
	}()
}

func (a *app) reload(ctx context.Context, version string) {
	if err := a.bay.Reload(ctx); err != nil {
		a.logger.Warn("replica topology applied with failures", "version", version, "err", err)
		return
	}
	a.logger.Info("replica topology applied", "version", version)
}

// close tears the topology down, then kills any process left behind.
func (a *app) close(ctx context.Context) error {
	var result *multierror.Error
	if err := a.bay.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if a.supervisor != nil {
		if err := a.supervisor.StopAll(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Client().Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
