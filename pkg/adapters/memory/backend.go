package memory

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/aretw0/patchbay/pkg/ports"
)

// Stats counts the backend operations that changed the port graph.
type Stats struct {
	Connects    int
	Disconnects int
}

// Backend is an in-process audio port graph. Ports appear through Register,
// which stands in for a client process creating them.
type Backend struct {
	mu          sync.Mutex
	ports       []string
	connections map[string][]string
	stats       Stats
}

var _ ports.Backend = (*Backend)(nil)

// NewBackend creates an empty port graph.
func NewBackend() *Backend {
	return &Backend{connections: make(map[string][]string)}
}

// Register creates ports. Existing names are ignored.
func (b *Backend) Register(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		if !slices.Contains(b.ports, name) {
			b.ports = append(b.ports, name)
		}
	}
}

// Unregister removes ports along with their connections.
func (b *Backend) Unregister(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.ports = slices.DeleteFunc(b.ports, func(p string) bool { return p == name })
		for _, peer := range b.connections[name] {
			b.connections[peer] = slices.DeleteFunc(b.connections[peer], func(p string) bool { return p == name })
		}
		delete(b.connections, name)
	}
}

func (b *Backend) ListPorts(ctx context.Context, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid port pattern: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.ports {
		if re.MatchString(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *Backend) Connections(ctx context.Context, port string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.ports, port) {
		return nil, fmt.Errorf("no such port: %s", port)
	}
	return slices.Clone(b.connections[port]), nil
}

func (b *Backend) Connect(ctx context.Context, source, target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.exists(source, target); err != nil {
		return err
	}
	if slices.Contains(b.connections[source], target) {
		return fmt.Errorf("%s and %s are already connected", source, target)
	}
	b.connections[source] = append(b.connections[source], target)
	b.connections[target] = append(b.connections[target], source)
	b.stats.Connects++
	return nil
}

func (b *Backend) Disconnect(ctx context.Context, source, target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.exists(source, target); err != nil {
		return err
	}
	if !slices.Contains(b.connections[source], target) {
		return fmt.Errorf("%s and %s are not connected", source, target)
	}
	b.connections[source] = slices.DeleteFunc(b.connections[source], func(p string) bool { return p == target })
	b.connections[target] = slices.DeleteFunc(b.connections[target], func(p string) bool { return p == source })
	b.stats.Disconnects++
	return nil
}

func (b *Backend) exists(names ...string) error {
	for _, name := range names {
		if !slices.Contains(b.ports, name) {
			return fmt.Errorf("no such port: %s", name)
		}
	}
	return nil
}

// Stats returns the operation counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// ResetStats zeroes the operation counters.
func (b *Backend) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = Stats{}
}
