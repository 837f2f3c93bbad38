// Package jack implements the audio-server backend on top of the JACK command
// line tools (jack_lsp, jack_connect, jack_disconnect).
package jack

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/aretw0/patchbay/internal/logging"
	"github.com/aretw0/patchbay/pkg/ports"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec. Standard error is folded into the
// returned error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Backend talks to a running JACK server.
type Backend struct {
	run    Runner
	logger *slog.Logger
}

var _ ports.Backend = (*Backend)(nil)

// Option configures the backend.
type Option func(*Backend)

// WithRunner replaces the command runner (used by tests).
func WithRunner(run Runner) Option {
	return func(b *Backend) {
		b.run = run
	}
}

// WithLogger sets the backend's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New creates a JACK backend.
func New(opts ...Option) *Backend {
	b := &Backend{run: ExecRunner, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) ListPorts(ctx context.Context, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid port pattern: %w", err)
	}
	out, err := b.run(ctx, "jack_lsp")
	if err != nil {
		return nil, err
	}

	var found []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" && re.MatchString(name) {
			found = append(found, name)
		}
	}
	return found, scanner.Err()
}

// Connections parses `jack_lsp -c`, which prints every port followed by its
// connections indented on the next lines.
func (b *Backend) Connections(ctx context.Context, port string) ([]string, error) {
	out, err := b.run(ctx, "jack_lsp", "-c", port)
	if err != nil {
		return nil, err
	}

	var (
		found   bool
		current string
		peers   []string
	)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			current = line
			if current == port {
				found = true
			}
			continue
		}
		if current == port {
			peers = append(peers, strings.TrimSpace(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no such port: %s", port)
	}
	return peers, nil
}

func (b *Backend) Connect(ctx context.Context, source, target string) error {
	b.logger.Debug("jack_connect", "source", source, "target", target)
	_, err := b.run(ctx, "jack_connect", source, target)
	return err
}

func (b *Backend) Disconnect(ctx context.Context, source, target string) error {
	b.logger.Debug("jack_disconnect", "source", source, "target", target)
	_, err := b.run(ctx, "jack_disconnect", source, target)
	return err
}
