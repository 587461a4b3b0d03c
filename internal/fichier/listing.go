package fichier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// ListDirs returns the child directories of dirID.
func (s *Session) ListDirs(ctx context.Context, dirID string) ([]DirEntry, error) {
	path := "/console/dirs.pl?dir_id=" + url.QueryEscape(dirID)

	body, err := s.client.readAll(ctx, s.meta, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fichier: listing directories of %s: %w", dirID, err)
	}

	return parseDirs(body)
}

// ListFiles returns the files in dirID, newest first, each with a resolved
// one-time download link. The listing does not embed links, so one extra
// request is made per file. A file whose link cannot be resolved is left out
// of the result; it will be picked up by a later listing.
func (s *Session) ListFiles(ctx context.Context, dirID string) ([]FileDescriptor, error) {
	path := "/console/files.pl?dir_id=" + url.QueryEscape(dirID) + "&oby=da"

	body, err := s.client.readAll(ctx, s.meta, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fichier: listing files of %s: %w", dirID, err)
	}

	entries, err := parseFiles(body)
	if err != nil {
		return nil, err
	}

	files := make([]FileDescriptor, 0, len(entries))

	for _, e := range entries {
		link, err := s.resolveLink(ctx, e.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fichier: listing files of %s: %w", dirID, ctx.Err())
			}

			s.client.logger.Warn("skipping file without download link",
				slog.String("file_id", e.ID),
				slog.String("name", e.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		files = append(files, FileDescriptor{ID: e.ID, Name: e.Name, DownloadURL: link})
	}

	s.client.logger.Debug("listed files",
		slog.String("dir_id", dirID),
		slog.Int("listed", len(entries)),
		slog.Int("resolved", len(files)),
	)

	return files, nil
}

// resolveLink fetches the one-time download link for a file.
func (s *Session) resolveLink(ctx context.Context, fileID string) (string, error) {
	path := "/console/link.pl?" + url.Values{"selected[]": {fileID}}.Encode()

	body, err := s.client.readAll(ctx, s.meta, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("fichier: resolving link for %s: %w", fileID, err)
	}

	return parseLink(body, s.client.baseURL+"/")
}
