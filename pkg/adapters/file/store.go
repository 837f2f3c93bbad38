package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// DefaultStatePath is where the live topology is written when no path is given.
const DefaultStatePath = "state.toml"

// Store implements ports.DeclarationStore on a single file. The encoding
// follows the file extension.
type Store struct {
	Path   string
	Format Format
}

var _ ports.DeclarationStore = (*Store)(nil)

// New creates a Store for path, defaulting to DefaultStatePath.
func New(path string) *Store {
	if path == "" {
		path = DefaultStatePath
	}
	return &Store{Path: path, Format: FormatFromPath(path)}
}

// Load reads and parses the file. A missing file is domain.ErrDeclarationNotFound.
func (s *Store) Load(ctx context.Context) (*domain.Declaration, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrDeclarationNotFound
		}
		return nil, fmt.Errorf("failed to read declaration: %w", err)
	}
	decl, err := Decode(data, s.Format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return decl, nil
}

// Save writes the declaration atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Save(ctx context.Context, decl *domain.Declaration) error {
	data, err := Encode(decl, s.Format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure state directory: %w", err)
	}

	// Same directory, so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-"+filepath.Base(s.Path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(s.Path); err == nil {
		if err := os.Remove(s.Path); err != nil {
			return fmt.Errorf("failed to remove existing state file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("failed to rename temp file to state file: %w", err)
	}
	return nil
}
