package registry_test

import (
	"testing"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/aretw0/patchbay/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	ports.Node
	id domain.NodeID
}

func (s stubNode) ID() domain.NodeID { return s.id }

func TestRegistry(t *testing.T) {
	r := registry.NewRegistry()
	r.Register("tone", func(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
		return stubNode{id: id}, nil
	})
	r.Register("alpha", func(id domain.NodeID, cfg domain.Config, env ports.NodeEnv) (ports.Node, error) {
		return nil, domain.ErrInvalidConfig
	})

	assert.Equal(t, []string{"alpha", "tone"}, r.Types())

	node, err := r.Build(domain.NodeID{Type: "tone", Instance: "a"}, nil, ports.NodeEnv{})
	require.NoError(t, err)
	assert.Equal(t, "tone.a", node.ID().String())

	_, err = r.Build(domain.NodeID{Type: "alpha", Instance: "a"}, nil, ports.NodeEnv{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = r.Build(domain.NodeID{Type: "missing", Instance: "a"}, nil, ports.NodeEnv{})
	assert.ErrorIs(t, err, domain.ErrUnknownNodeType)
}
