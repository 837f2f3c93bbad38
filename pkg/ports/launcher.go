package ports

import (
	"context"
	"os"
)

// Process is a running child process owned by a node.
type Process interface {
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Stop sends sig, waits for exit until ctx is done, then kills the process.
	Stop(ctx context.Context, sig os.Signal) error
}

// Launcher spawns processes by command name. The launcher resolves the name to
// an executable and default arguments; args are appended.
type Launcher interface {
	Launch(ctx context.Context, name string, args ...string) (Process, error)
}
