package memory_test

import (
	"context"
	"os"
	"testing"

	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunDeclarationStoreContract(t, store)
}

func TestMemoryBackend_Contract(t *testing.T) {
	backend := memory.NewBackend()
	ports.RunBackendContract(t, backend, func(t *testing.T, names ...string) {
		backend.Register(names...)
	})
}

func TestMemoryBackend_Stats(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBackend()
	b.Register("a:out", "b:in")

	require.NoError(t, b.Connect(ctx, "a:out", "b:in"))
	assert.Error(t, b.Connect(ctx, "a:out", "b:in"), "double connect")
	require.NoError(t, b.Disconnect(ctx, "a:out", "b:in"))
	assert.Error(t, b.Disconnect(ctx, "a:out", "b:in"), "double disconnect")

	assert.Equal(t, memory.Stats{Connects: 1, Disconnects: 1}, b.Stats())
	b.ResetStats()
	assert.Zero(t, b.Stats())
}

func TestMemoryBackend_UnregisterDropsConnections(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBackend()
	b.Register("a:out", "b:in")
	require.NoError(t, b.Connect(ctx, "a:out", "b:in"))

	b.Unregister("b:in")

	conns, err := b.Connections(ctx, "a:out")
	require.NoError(t, err)
	assert.Empty(t, conns)
	_, err = b.Connections(ctx, "b:in")
	assert.Error(t, err)
}

func TestMemoryLauncher(t *testing.T) {
	ctx := context.Background()
	b := memory.NewBackend()
	l := memory.NewLauncher(b, map[string]memory.PortsFunc{
		"player": func(args []string) []string {
			return []string{args[0] + ":out_0", args[0] + ":out_1"}
		},
	})

	proc, err := l.Launch(ctx, "player", "p1")
	require.NoError(t, err)
	found, err := b.ListPorts(ctx, `^p1:`)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1:out_0", "p1:out_1"}, found)

	require.NoError(t, proc.Stop(ctx, os.Interrupt))
	<-proc.Done()
	found, err = b.ListPorts(ctx, `^p1:`)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, proc.Stop(ctx, os.Interrupt))

	_, err = l.Launch(ctx, "nope")
	assert.Error(t, err)
	assert.Equal(t, []string{"player"}, l.Launched())
}
