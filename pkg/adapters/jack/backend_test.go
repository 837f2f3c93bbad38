package jack_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aretw0/patchbay/pkg/adapters/jack"
	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJack answers the JACK tools from an in-memory port graph.
func fakeJack(graph *memory.Backend) jack.Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		switch {
		case name == "jack_lsp" && len(args) == 0:
			all, err := graph.ListPorts(ctx, ".*")
			if err != nil {
				return nil, err
			}
			return []byte(strings.Join(all, "\n") + "\n"), nil

		case name == "jack_lsp" && len(args) == 2 && args[0] == "-c":
			all, err := graph.ListPorts(ctx, ".*")
			if err != nil {
				return nil, err
			}
			var sb strings.Builder
			for _, p := range all {
				if !strings.Contains(p, args[1]) {
					continue
				}
				sb.WriteString(p + "\n")
				conns, _ := graph.Connections(ctx, p)
				for _, c := range conns {
					sb.WriteString("   " + c + "\n")
				}
			}
			return []byte(sb.String()), nil

		case name == "jack_connect" && len(args) == 2:
			return nil, graph.Connect(ctx, args[0], args[1])

		case name == "jack_disconnect" && len(args) == 2:
			return nil, graph.Disconnect(ctx, args[0], args[1])
		}
		return nil, fmt.Errorf("unexpected command %s %v", name, args)
	}
}

func TestJackBackend_Contract(t *testing.T) {
	graph := memory.NewBackend()
	backend := jack.New(jack.WithRunner(fakeJack(graph)))

	ports.RunBackendContract(t, backend, func(t *testing.T, names ...string) {
		graph.Register(names...)
	})
}

func TestJackBackend_ConnectionsParsing(t *testing.T) {
	output := strings.Join([]string{
		"system:capture_1",
		"   mpv.a:out_0",
		"system:capture_10",
		"mpv.a:out_0",
		"   icecast.b:input_1",
		"   system:playback_1",
		"",
	}, "\n")
	backend := jack.New(jack.WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(output), nil
	}))
	ctx := context.Background()

	conns, err := backend.Connections(ctx, "mpv.a:out_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"icecast.b:input_1", "system:playback_1"}, conns)

	conns, err = backend.Connections(ctx, "system:capture_10")
	require.NoError(t, err)
	assert.Empty(t, conns, "prefix matches are not the same port")

	_, err = backend.Connections(ctx, "ghost:out")
	assert.ErrorContains(t, err, "no such port")
}

func TestJackBackend_RunnerErrors(t *testing.T) {
	boom := errors.New("cannot connect to server")
	backend := jack.New(jack.WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, boom
	}))
	ctx := context.Background()

	_, err := backend.ListPorts(ctx, ".*")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, backend.Connect(ctx, "a", "b"), boom)

	_, err = backend.ListPorts(ctx, "(")
	assert.ErrorContains(t, err, "invalid port pattern")
}
