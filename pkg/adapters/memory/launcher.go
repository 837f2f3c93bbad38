package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/aretw0/patchbay/pkg/ports"
)

// PortsFunc returns the backend ports a command would create for args.
type PortsFunc func(args []string) []string

// Launcher simulates processes for dry runs and tests: launching a command
// registers the ports its PortsFunc reports, stopping it removes them.
type Launcher struct {
	backend  *Backend
	commands map[string]PortsFunc
	nextPid  atomic.Int64

	mu       sync.Mutex
	launched []string
}

var _ ports.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher registering ports on backend.
func NewLauncher(backend *Backend, commands map[string]PortsFunc) *Launcher {
	l := &Launcher{backend: backend, commands: commands}
	l.nextPid.Store(1000)
	return l
}

func (l *Launcher) Launch(ctx context.Context, name string, args ...string) (ports.Process, error) {
	portsFor, ok := l.commands[name]
	if !ok {
		return nil, fmt.Errorf("failed to launch %s: unknown command", name)
	}

	names := portsFor(args)
	l.backend.Register(names...)

	l.mu.Lock()
	l.launched = append(l.launched, name)
	l.mu.Unlock()

	return &process{
		pid:     int(l.nextPid.Add(1)),
		ports:   names,
		backend: l.backend,
		done:    make(chan struct{}),
	}, nil
}

// Launched returns the names of every command launched so far, in order.
func (l *Launcher) Launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

type process struct {
	pid     int
	ports   []string
	backend *Backend
	once    sync.Once
	done    chan struct{}
}

func (p *process) Pid() int              { return p.pid }
func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Stop(ctx context.Context, sig os.Signal) error {
	p.once.Do(func() {
		p.backend.Unregister(p.ports...)
		close(p.done)
	})
	return nil
}
