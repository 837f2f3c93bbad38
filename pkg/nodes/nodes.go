package nodes

import (
	"strings"

	"github.com/aretw0/patchbay/pkg/adapters/memory"
	"github.com/aretw0/patchbay/pkg/registry"
)

// Register adds every node type of this package to r.
func Register(r *registry.Registry) {
	r.Register(TypePlayer, NewPlayer)
	r.Register(TypeEncoder, NewEncoder)
	r.Register(TypeSelector, NewSelector)
}

// NewRegistry returns a registry holding every node type of this package.
func NewRegistry() *registry.Registry {
	r := registry.NewRegistry()
	Register(r)
	return r
}

// SimulatedCommands describes the ports mpv and ffmpeg create, so a memory
// launcher can stand in for them in dry runs and tests.
func SimulatedCommands() map[string]memory.PortsFunc {
	return map[string]memory.PortsFunc{
		"mpv": func(args []string) []string {
			for _, arg := range args {
				if client, ok := strings.CutPrefix(arg, "--jack-name="); ok {
					return []string{client + ":out_0", client + ":out_1"}
				}
			}
			return nil
		},
		"ffmpeg": func(args []string) []string {
			for i := 0; i+1 < len(args); i++ {
				if args[i] == "-i" {
					client := args[i+1]
					return []string{client + ":input_1", client + ":input_2"}
				}
			}
			return nil
		},
	}
}
