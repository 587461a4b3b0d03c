package fichier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public 1fichier endpoint.
const DefaultBaseURL = "https://1fichier.com"

// RootDirID is the well-known identifier of the account's root directory.
const RootDirID = "0"

// Retry and backoff constants.
const (
	defaultMaxRetries = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	floodPause        = 30 * time.Second
	defaultUserAgent  = "fichier-sync/0.1"
)

// floodMarker appears in the body of responses sent when the service has
// locked the caller's IP for issuing too many requests.
const floodMarker = "Flood detected"

// Client is an HTTP client for the 1fichier console. It holds no session
// state: every Login returns a fresh Session with its own cookie jar.
type Client struct {
	baseURL      string
	metaHTTP     *http.Client
	transferHTTP *http.Client
	limiter      *rate.Limiter
	userAgent    string
	logger       *slog.Logger
	maxRetries   int

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a console client. metaHTTP serves listing and mutation
// calls and should carry a request timeout; transferHTTP streams file
// content and should not. tps caps requests per second; 0 disables pacing.
func NewClient(
	baseURL string, metaHTTP, transferHTTP *http.Client, tps float64,
	logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if metaHTTP == nil {
		metaHTTP = http.DefaultClient
	}

	if transferHTTP == nil {
		transferHTTP = metaHTTP
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	limit := rate.Inf
	if tps > 0 {
		limit = rate.Limit(tps)
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		metaHTTP:     metaHTTP,
		transferHTTP: transferHTTP,
		limiter:      rate.NewLimiter(limit, 1),
		userAgent:    userAgent,
		logger:       logger,
		maxRetries:   defaultMaxRetries,
		sleepFunc:    timeSleep,
	}
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// resolveURL turns a console path into an absolute URL. Absolute URLs (the
// one-time download links) pass through untouched.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	return c.baseURL + path
}

// do executes a request with pacing and retry. form, when non-nil, is sent
// as an urlencoded POST body and rebuilt for every attempt. The caller owns
// the returned body on success.
func (c *Client) do(
	ctx context.Context, hc *http.Client, method, path string, form url.Values,
) (*http.Response, error) {
	target := c.resolveURL(path)
	logged := logPath(path)

	var attempt int
	for {
		resp, err := c.doOnce(ctx, hc, method, target, form)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fichier: request canceled: %w", ctx.Err())
			}

			if attempt < c.maxRetries && replayable(path) {
				backoff := calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", logged),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("fichier: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("fichier: %s %s failed after %d retries: %w", method, logged, c.maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", logged),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries &&
			(replayable(path) || refused(resp.StatusCode, errBody)) {
			backoff := retryBackoff(resp, errBody, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", logged),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("fichier: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", logged),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			Path:       logged,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// replayable reports whether path may be sent again after a failure the
// server could already have acted on. Each mkdir.pl that lands creates a
// directory, so a replay can leave two folders with the same name.
func replayable(path string) bool {
	return path != mkdirPath
}

// refused reports responses that reject the request before it is processed.
func refused(code int, body []byte) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, statusBandwidthExceeded:
		return true
	default:
		return bytes.Contains(body, []byte(floodMarker))
	}
}

// doOnce executes a single paced request (no retry).
func (c *Client) doOnce(
	ctx context.Context, hc *http.Client, method, target string, form url.Values,
) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for request slot: %w", err)
	}

	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, stripURL(err)
	}

	return resp, nil
}

// readAll executes a request and returns the full response body.
func (c *Client) readAll(
	ctx context.Context, hc *http.Client, method, path string, form url.Values,
) ([]byte, error) {
	resp, err := c.do(ctx, hc, method, path, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fichier: reading %s response: %w", logPath(path), err)
	}

	return data, nil
}

// retryBackoff returns the wait before the next attempt. A flood lock gets a
// fixed pause; 429 honors Retry-After; everything else backs off.
func retryBackoff(resp *http.Response, body []byte, attempt int) time.Duration {
	if bytes.Contains(body, []byte(floodMarker)) {
		return floodPause
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// logPath reduces a request target to something safe to log. One-time and
// direct download URLs embed access tokens, so only their host is kept.
func logPath(path string) string {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return path
	}

	u, err := url.Parse(path)
	if err != nil {
		return "(unparseable url)"
	}

	return u.Host
}

// stripURL drops the request URL that net/http embeds in transport errors,
// keeping the operation and cause.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}

	return err
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
