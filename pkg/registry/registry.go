package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// Constructor builds a node of one type from its id and configuration.
// It validates the configuration and must not spawn anything.
type Constructor func(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error)

// Registry maps node type names to constructors. It implements ports.NodeFactory.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Constructor
}

var _ ports.NodeFactory = (*Registry)(nil)

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]Constructor),
	}
}

// Register adds a node type to the registry.
// If a type with the same name exists, it is overwritten.
func (r *Registry) Register(typ string, fn Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typ] = fn
}

// Build looks up the constructor for id.Type and runs it.
// Returns domain.ErrUnknownNodeType if the type is not registered.
func (r *Registry) Build(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
	r.mu.RLock()
	fn, ok := r.types[id.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNodeType, id.Type)
	}

	return fn(id, cfg, env)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
