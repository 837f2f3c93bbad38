package ports

import (
	"context"
	"testing"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDeclarationStoreContract verifies that a DeclarationStore implementation
// adheres to the interface contract. The store must be empty when passed in.
func RunDeclarationStoreContract(t *testing.T, store DeclarationStore) {
	ctx := context.Background()

	t.Run("Load Empty", func(t *testing.T) {
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, domain.ErrDeclarationNotFound)
	})

	t.Run("Save and Load", func(t *testing.T) {
		decl := domain.NewDeclaration()
		decl.AddNode(domain.NodeID{Type: "mpv", Instance: "main"}, domain.Config{"source": "http://example.com/a.mp3"})
		decl.AddNode(domain.NodeID{Type: "mux", Instance: "studio"}, domain.Config{"inputs": "2", "active": "0"})
		decl.AddNode(domain.NodeID{Type: "icecast", Instance: "out"}, domain.Config{"stream_url": "icecast://source:pw@host/live"})
		decl.Links = []domain.LinkDecl{
			{From: "mpv.main[0]", To: "mux.studio[0]"},
			{From: "mux.studio[0]", To: "icecast.out[0]"},
		}

		require.NoError(t, store.Save(ctx, decl), "Save should not return error")

		loaded, err := store.Load(ctx)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, decl.NodeIDs(), loaded.NodeIDs())
		assert.Equal(t, "2", loaded.Nodes["mux"]["studio"]["inputs"])
		assert.Equal(t, "icecast://source:pw@host/live", loaded.Nodes["icecast"]["out"]["stream_url"])
		assert.Equal(t, decl.Links, loaded.Links, "link order must be preserved")
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		decl := domain.NewDeclaration()
		decl.AddNode(domain.NodeID{Type: "mpv", Instance: "other"}, domain.Config{"source": "b.mp3"})

		require.NoError(t, store.Save(ctx, decl))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.NodeID{{Type: "mpv", Instance: "other"}}, loaded.NodeIDs())
		assert.Empty(t, loaded.Links)
	})
}

// RunBackendContract verifies that a Backend implementation adheres to the
// interface contract. register must make the given port names exist on the
// backend (e.g. by spawning a client or, for fakes, by inserting them).
func RunBackendContract(t *testing.T, backend Backend, register func(t *testing.T, names ...string)) {
	ctx := context.Background()
	register(t, "player:out_0", "player:out_1", "encoder:input_1", "encoder:input_2")

	t.Run("ListPorts", func(t *testing.T) {
		names, err := backend.ListPorts(ctx, `^player:out_(0|1)$`)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"player:out_0", "player:out_1"}, names)

		names, err = backend.ListPorts(ctx, `^nobody:`)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("Connect and Disconnect", func(t *testing.T) {
		require.NoError(t, backend.Connect(ctx, "player:out_0", "encoder:input_1"))

		conns, err := backend.Connections(ctx, "player:out_0")
		require.NoError(t, err)
		assert.Equal(t, []string{"encoder:input_1"}, conns)

		conns, err = backend.Connections(ctx, "encoder:input_1")
		require.NoError(t, err)
		assert.Equal(t, []string{"player:out_0"}, conns, "connections are visible from both ends")

		require.NoError(t, backend.Disconnect(ctx, "player:out_0", "encoder:input_1"))

		conns, err = backend.Connections(ctx, "player:out_0")
		require.NoError(t, err)
		assert.Empty(t, conns)
	})

	t.Run("Unknown Port", func(t *testing.T) {
		assert.Error(t, backend.Connect(ctx, "player:out_0", "ghost:input_1"))
	})
}
