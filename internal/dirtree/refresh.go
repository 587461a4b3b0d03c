package dirtree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/fichier-sync/internal/fichier"
)

// Lister lists the child directories of one remote directory.
// Satisfied by *fichier.Session.
type Lister interface {
	ListDirs(ctx context.Context, dirID string) ([]fichier.DirEntry, error)
}

// Refresh walks the remote hierarchy below rootID depth-first with an
// explicit stack and returns the resulting tree. A node is only listed when
// its parent's listing marked it as having children. A failed listing below
// the root is logged and that branch is left out; a failed root listing is
// returned as an error.
func Refresh(ctx context.Context, lister Lister, rootID string, logger *slog.Logger) (*Tree, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tree := newTree(rootID)

	children, err := lister.ListDirs(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("dirtree: listing root %s: %w", rootID, err)
	}

	stack := pushChildren(nil, rootID, children)
	visited := map[string]bool{rootID: true}
	failed := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dirtree: refresh canceled: %w", err)
		}

		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[n.dir.ID] {
			logger.Debug("directory listed twice, ignoring",
				slog.String("dir_id", n.dir.ID),
				slog.String("name", n.dir.Name),
			)

			continue
		}

		visited[n.dir.ID] = true
		tree.add(n.dir)

		if !n.hasChildren {
			continue
		}

		sub, err := lister.ListDirs(ctx, n.dir.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dirtree: refresh canceled: %w", ctx.Err())
			}

			failed++

			logger.Warn("skipping directory that could not be listed",
				slog.String("dir_id", n.dir.ID),
				slog.String("name", n.dir.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		stack = pushChildren(stack, n.dir.ID, sub)
	}

	logger.Debug("directory tree refreshed",
		slog.String("root_id", rootID),
		slog.Int("directories", tree.Len()),
		slog.Int("failed_listings", failed),
	)

	return tree, nil
}

type pending struct {
	dir         Directory
	hasChildren bool
}

// pushChildren pushes entries in reverse so that they pop in listing order.
func pushChildren(stack []pending, parentID string, entries []fichier.DirEntry) []pending {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		stack = append(stack, pending{
			dir:         Directory{ID: e.ID, Name: e.Name, ParentID: parentID},
			hasChildren: e.HasChildren,
		})
	}

	return stack
}
