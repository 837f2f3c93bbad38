package ports

import (
	"context"

	"github.com/aretw0/patchbay/pkg/domain"
)

// DeclarationStore persists the serialized topology.
type DeclarationStore interface {
	// Load returns domain.ErrDeclarationNotFound when nothing was saved yet.
	Load(ctx context.Context) (*domain.Declaration, error)
	Save(ctx context.Context, decl *domain.Declaration) error
}
