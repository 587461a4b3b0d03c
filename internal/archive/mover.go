// Package archive moves downloaded files out of the watched directory so the
// next cycle does not fetch them again, creating the archive directory on
// first use.
package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/fichier-sync/internal/dirtree"
	"github.com/tonimelisma/fichier-sync/internal/fichier"
)

// Remote is the subset of a session the mover needs. Satisfied by
// *fichier.Session.
type Remote interface {
	ListDirs(ctx context.Context, dirID string) ([]fichier.DirEntry, error)
	Mkdir(ctx context.Context, parentID, name string) error
	Move(ctx context.Context, fileID, dirID string) error
	Remove(ctx context.Context, fileID string) error
}

// Mover archives files within one session. It keeps its own view of the
// directory tree and updates it after creating directories.
type Mover struct {
	remote Remote
	tree   *dirtree.Tree
	logger *slog.Logger
}

// NewMover creates a Mover over tree. tree may be nil when only Delete is
// used.
func NewMover(remote Remote, tree *dirtree.Tree, logger *slog.Logger) *Mover {
	if logger == nil {
		logger = slog.Default()
	}

	return &Mover{remote: remote, tree: tree, logger: logger}
}

// Tree returns the mover's current view of the hierarchy.
func (m *Mover) Tree() *dirtree.Tree {
	return m.tree
}

// EnsureDirectory returns the id of the child of parentID named name,
// creating it when absent. Repeated calls with the same arguments create at
// most one directory.
func (m *Mover) EnsureDirectory(ctx context.Context, parentID, name string) (string, error) {
	if m.tree == nil {
		return "", fmt.Errorf("archive: ensuring %q: no directory tree", name)
	}

	if id, ok := m.tree.ResolveChildByName(parentID, name); ok {
		return id, nil
	}

	m.logger.Info("creating archive directory",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	if err := m.remote.Mkdir(ctx, parentID, name); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	sub, err := dirtree.Refresh(ctx, m.remote, parentID, m.logger)
	if err != nil {
		return "", fmt.Errorf("archive: refreshing %s after mkdir: %w", parentID, err)
	}

	m.tree = m.tree.Merge(sub)

	id, ok := m.tree.ResolveChildByName(parentID, name)
	if !ok {
		return "", fmt.Errorf("archive: created %q under %s but it is not listed: %w",
			name, parentID, dirtree.ErrNotFound)
	}

	m.logger.Debug("archive directory ready", slog.String("dir_id", id), slog.String("name", name))

	return id, nil
}

// Move relocates fileID into targetDirID.
func (m *Mover) Move(ctx context.Context, fileID, targetDirID string) error {
	if err := m.remote.Move(ctx, fileID, targetDirID); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	m.logger.Info("archived file", slog.String("file_id", fileID), slog.String("dir_id", targetDirID))

	return nil
}

// Delete removes fileID from the account.
func (m *Mover) Delete(ctx context.Context, fileID string) error {
	if err := m.remote.Remove(ctx, fileID); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	m.logger.Info("deleted file", slog.String("file_id", fileID))

	return nil
}
