package fichier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

const (
	// draggedTypeFile is the op.pl code for moving files (as opposed to folders).
	draggedTypeFile = "2"

	mkdirPath = "/console/mkdir.pl"
)

// Mkdir creates a directory named name under parentID. The console does not
// return the new id; callers re-list the parent to learn it.
func (s *Session) Mkdir(ctx context.Context, parentID, name string) error {
	s.client.logger.Debug("creating directory",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	form := url.Values{
		"dir_id": {parentID},
		"mkdir":  {name},
	}

	if _, err := s.client.readAll(ctx, s.meta, http.MethodPost, mkdirPath, form); err != nil {
		return fmt.Errorf("fichier: creating directory %q in %s: %w", name, parentID, err)
	}

	return nil
}

// Move relocates a file into dirID.
func (s *Session) Move(ctx context.Context, fileID, dirID string) error {
	s.client.logger.Debug("moving file",
		slog.String("file_id", fileID),
		slog.String("dir_id", dirID),
	)

	form := url.Values{
		"dragged[]":    {fileID},
		"dragged_type": {draggedTypeFile},
		"dropped_dir":  {dirID},
	}

	if _, err := s.client.readAll(ctx, s.meta, http.MethodPost, "/console/op.pl", form); err != nil {
		return fmt.Errorf("fichier: moving file %s to %s: %w", fileID, dirID, err)
	}

	return nil
}

// Remove deletes a file.
func (s *Session) Remove(ctx context.Context, fileID string) error {
	s.client.logger.Debug("deleting file", slog.String("file_id", fileID))

	form := url.Values{
		"selected[]": {fileID},
		"remove":     {"1"},
	}

	if _, err := s.client.readAll(ctx, s.meta, http.MethodPost, "/console/remove.pl", form); err != nil {
		return fmt.Errorf("fichier: deleting file %s: %w", fileID, err)
	}

	return nil
}
