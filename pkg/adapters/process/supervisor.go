package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/hashicorp/go-multierror"
)

// Supervisor launches and tracks the long-running processes owned by nodes.
// Command names are resolved through an override registry; unknown names are
// run as-is from PATH unless strict mode is enabled.
type Supervisor struct {
	mu       sync.Mutex
	registry map[string]CommandConfig
	running  map[*Handle]struct{}

	strict  bool
	baseDir string
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

var _ ports.Launcher = (*Supervisor)(nil)

// Option configures the supervisor.
type Option func(*Supervisor)

// WithRegistry populates the command overrides from a loaded config.
func WithRegistry(commands map[string]CommandConfig) Option {
	return func(s *Supervisor) {
		for name, c := range commands {
			s.registry[name] = c
		}
	}
}

// WithStrict rejects command names that are not registered.
func WithStrict(strict bool) Option {
	return func(s *Supervisor) {
		s.strict = strict
	}
}

// WithBaseDir sets the working directory for launched processes.
func WithBaseDir(dir string) Option {
	return func(s *Supervisor) {
		s.baseDir = dir
	}
}

// WithOutput forwards the children's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		registry: make(map[string]CommandConfig),
		running:  make(map[*Handle]struct{}),
		stderr:   os.Stderr,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register overrides the executable and leading arguments for a command name.
func (s *Supervisor) Register(name, command string, args ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = CommandConfig{Name: name, Command: command, Args: args}
}

// Launch starts the named command with args appended to its registered
// arguments. The process is not bound to ctx: it runs until stopped.
func (s *Supervisor) Launch(ctx context.Context, name string, args ...string) (ports.Process, error) {
	s.mu.Lock()
	c, ok := s.registry[name]
	s.mu.Unlock()

	if !ok {
		if s.strict {
			return nil, fmt.Errorf("command not registered: %s", name)
		}
		c = CommandConfig{Name: name, Command: name}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	argv := append(append([]string{}, c.Args...), args...)
	cmd := exec.Command(c.Command, argv...)
	cmd.Dir = s.baseDir
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	if len(c.Environment) > 0 {
		env := cmd.Environ()
		for k, v := range c.Environment {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}

	h := &Handle{name: name, cmd: cmd, done: make(chan struct{})}
	s.mu.Lock()
	s.running[h] = struct{}{}
	s.mu.Unlock()

	go func() {
		h.err = cmd.Wait()
		close(h.done)
		s.mu.Lock()
		delete(s.running, h)
		s.mu.Unlock()
		s.logger.Debug("process exited", "name", name, "pid", h.Pid(), "err", h.err)
	}()

	s.logger.Info("process launched", "name", name, "command", c.Command, "pid", h.Pid())
	return h, nil
}

// Running returns the number of live processes.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// StopAll kills every process still running. Used as a last resort on exit,
// after nodes had a chance to stop their own processes gracefully.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.running))
	for h := range s.running {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var result *multierror.Error
	for _, h := range handles {
		if err := h.Stop(ctx, os.Kill); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Handle is a running process.
type Handle struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

var _ ports.Process = (*Handle)(nil)

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the exit error once the process has exited.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop sends sig and waits for the process to exit. When ctx is done first
// the process is killed. Stopping an exited process is a no-op.
func (h *Handle) Stop(ctx context.Context, sig os.Signal) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal %s: %w", h.name, err)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill %s: %w", h.name, err)
		}
		<-h.done
		return nil
	}
}
