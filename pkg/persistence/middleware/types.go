package middleware

import "github.com/aretw0/patchbay/pkg/ports"

// Middleware wraps a DeclarationStore to add behavior.
type Middleware func(ports.DeclarationStore) ports.DeclarationStore

// Chain applies mws to store; the first middleware is the outermost.
func Chain(store ports.DeclarationStore, mws ...Middleware) ports.DeclarationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
