package memory

import (
	"context"
	"sync"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// Store implements ports.DeclarationStore in memory.
// Safe for concurrent use.
type Store struct {
	decl *domain.Declaration
	mu   sync.RWMutex
}

var _ ports.DeclarationStore = (*Store)(nil)

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{}
}

// Save keeps a deep copy of the declaration.
func (s *Store) Save(ctx context.Context, decl *domain.Declaration) error {
	copied := decl.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.decl = copied
	return nil
}

// Load returns a copy so callers cannot mutate the stored declaration.
func (s *Store) Load(ctx context.Context) (*domain.Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.decl == nil {
		return nil, domain.ErrDeclarationNotFound
	}
	return s.decl.Clone(), nil
}
