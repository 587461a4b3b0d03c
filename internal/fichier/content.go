package fichier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// SetMenu toggles the console's download-menu setting. With the menu on,
// an authenticated download link answers with an interstitial page instead
// of the direct URL.
func (s *Session) SetMenu(ctx context.Context, enabled bool) error {
	path := "/console/params.pl?menu=" + strconv.FormatBool(enabled)

	if _, err := s.client.readAll(ctx, s.meta, http.MethodGet, path, nil); err != nil {
		return fmt.Errorf("fichier: setting download menu to %t: %w", enabled, err)
	}

	return nil
}

// ResolveDirectURL exchanges a one-time download link for the direct URL
// that serves the bytes. The download menu is switched off for the exchange
// and back on afterwards, including when the exchange fails.
func (s *Session) ResolveDirectURL(ctx context.Context, downloadURL string) (string, error) {
	if err := s.SetMenu(ctx, false); err != nil {
		return "", err
	}

	defer func() {
		if err := s.SetMenu(context.WithoutCancel(ctx), true); err != nil {
			s.client.logger.Warn("failed to re-enable download menu", slog.String("error", err.Error()))
		}
	}()

	body, err := s.client.readAll(ctx, s.meta, http.MethodGet, downloadURL+"&e=1&auth=1", nil)
	if err != nil {
		return "", fmt.Errorf("fichier: resolving direct url: %w", err)
	}

	return parseDirectURL(body)
}

// OpenContent issues a single GET for a direct URL, asking for the bytes
// from offset onwards when offset is positive. The response is returned
// whatever its status; interpreting 206/416 is the caller's job, as is
// closing the body. No retry happens here: a failed transfer is retried by a
// later cycle from the bytes already on disk.
func (s *Session) OpenContent(ctx context.Context, directURL string, offset int64) (*http.Response, error) {
	if err := s.client.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fichier: waiting for request slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("fichier: creating content request: %w", err)
	}

	req.Header.Set("User-Agent", s.client.userAgent)

	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := s.transfer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fichier: requesting content from %s: %w", logPath(directURL), stripURL(err))
	}

	return resp, nil
}
