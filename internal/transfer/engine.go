// Package transfer downloads one remote file to local disk with byte-range
// resume. The bytes already on disk are the only resume record: a file of
// the same name in the download directory is continued from its size.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/fichier-sync/internal/fichier"
)

// chunkSize is the read/write unit while streaming.
const chunkSize = 64 * 1024

// DefaultReadTimeout bounds how long a single chunk read may stall.
const DefaultReadTimeout = 60 * time.Second

// Source resolves and opens remote content. Satisfied by *fichier.Session.
type Source interface {
	ResolveDirectURL(ctx context.Context, downloadURL string) (string, error)
	OpenContent(ctx context.Context, directURL string, offset int64) (*http.Response, error)
}

// State is the terminal state of a successful Download.
type State int

const (
	// Complete means bytes were streamed and the file is whole.
	Complete State = iota
	// AlreadyComplete means the server reported nothing left to send (416)
	// and the local file was left untouched.
	AlreadyComplete
)

func (s State) String() string {
	switch s {
	case Complete:
		return "complete"
	case AlreadyComplete:
		return "already_complete"
	default:
		return "unknown"
	}
}

// Result reports a successful download.
type Result struct {
	State        State
	LocalPath    string
	Offset       int64 // where this attempt started writing
	BytesWritten int64 // bytes written by this attempt
	Size         int64 // local file size afterwards
	Elapsed      time.Duration
}

// Engine runs downloads. It is safe to reuse across files but runs one
// transfer at a time per call.
type Engine struct {
	logger      *slog.Logger
	readTimeout time.Duration
	nowFunc     func() time.Time
}

// NewEngine creates an Engine. readTimeout <= 0 selects DefaultReadTimeout.
func NewEngine(readTimeout time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return &Engine{logger: logger, readTimeout: readTimeout, nowFunc: time.Now}
}

// Download fetches desc into localDir. The local file is named after the
// remote file. An existing non-empty file is resumed with a Range request.
// On any failure the partial file is kept for the next attempt.
func (e *Engine) Download(
	ctx context.Context, src Source, desc fichier.FileDescriptor, localDir string,
) (*Result, error) {
	name, err := LocalName(desc.Name)
	if err != nil {
		return nil, &TransferError{Name: desc.Name, Err: err}
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil { //nolint:mnd // user-visible download dir
		return nil, &TransferError{Name: name, Err: fmt.Errorf("creating download directory: %w", err)}
	}

	localPath := filepath.Join(localDir, name)
	start := e.nowFunc()

	directURL, err := src.ResolveDirectURL(ctx, desc.DownloadURL)
	if err != nil {
		return nil, &TransferError{Name: name, Err: err}
	}

	offset, err := localSize(localPath)
	if err != nil {
		return nil, &TransferError{Name: name, Err: err}
	}

	e.logger.Info("starting download",
		slog.String("file_id", desc.ID),
		slog.String("name", name),
		slog.Int64("offset", offset),
		slog.Bool("resuming", offset > 0),
	)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := newWatchdog(e.readTimeout, cancel)
	defer wd.stop()

	resp, err := src.OpenContent(reqCtx, directURL, offset)
	if err != nil {
		return nil, &TransferError{Name: name, Err: wd.explain(err)}
	}
	defer resp.Body.Close()

	var writeFrom int64

	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok && total < offset {
			e.logger.Warn("local file is larger than the remote file",
				slog.String("file_id", desc.ID),
				slog.String("name", name),
				slog.Int64("local", offset),
				slog.Int64("remote", total),
			)

			return nil, &TransferError{Name: name, StatusCode: resp.StatusCode, Err: ErrLocalLarger}
		}

		e.logger.Info("download already complete",
			slog.String("file_id", desc.ID),
			slog.String("name", name),
			slog.Int64("size", offset),
		)

		return &Result{
			State:     AlreadyComplete,
			LocalPath: localPath,
			Offset:    offset,
			Size:      offset,
			Elapsed:   e.nowFunc().Sub(start),
		}, nil

	case http.StatusPartialContent:
		rangeStart, err := contentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, &TransferError{Name: name, StatusCode: resp.StatusCode, Err: err}
		}

		if rangeStart > offset {
			return nil, &TransferError{Name: name, StatusCode: resp.StatusCode, Err: ErrRangeMismatch}
		}

		writeFrom = rangeStart

	case http.StatusOK:
		if offset > 0 {
			e.logger.Warn("server ignored range request, restarting from zero",
				slog.String("file_id", desc.ID),
				slog.String("name", name),
				slog.Int64("discarded", offset),
			)
		}

	default:
		return nil, &TransferError{Name: name, StatusCode: resp.StatusCode}
	}

	written, err := e.stream(localPath, writeFrom, resp.Body, wd)
	if err != nil {
		e.logger.Warn("download interrupted",
			slog.String("file_id", desc.ID),
			slog.String("name", name),
			slog.Int64("bytes", written),
			slog.String("error", err.Error()),
		)

		return nil, &TransferError{Name: name, StatusCode: resp.StatusCode, Err: err}
	}

	elapsed := e.nowFunc().Sub(start)
	size := writeFrom + written

	e.logger.Info("download complete",
		slog.String("file_id", desc.ID),
		slog.String("name", name),
		slog.Int64("bytes", written),
		slog.String("transferred", humanize.Bytes(uint64(written))), //nolint:gosec // written is never negative
		slog.String("size", humanize.Bytes(uint64(size))),           //nolint:gosec // size is never negative
		slog.Duration("elapsed", elapsed),
	)

	return &Result{
		State:        Complete,
		LocalPath:    localPath,
		Offset:       writeFrom,
		BytesWritten: written,
		Size:         size,
		Elapsed:      elapsed,
	}, nil
}

// stream writes body into localPath starting at writeFrom. Anything past
// writeFrom is discarded first. Returns the number of bytes written, which
// is accurate even when an error is returned.
func (e *Engine) stream(localPath string, writeFrom int64, body io.Reader, wd *watchdog) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if writeFrom == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(localPath, flags, 0o644) //nolint:mnd // user-visible download
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", localPath, err)
	}

	if writeFrom > 0 {
		if err := f.Truncate(writeFrom); err != nil {
			f.Close()
			return 0, fmt.Errorf("truncating %s: %w", localPath, err)
		}

		if _, err := f.Seek(writeFrom, io.SeekStart); err != nil {
			f.Close()
			return 0, fmt.Errorf("seeking %s: %w", localPath, err)
		}
	}

	var written int64

	buf := make([]byte, chunkSize)

	for {
		n, readErr := body.Read(buf)
		wd.reset()

		if n > 0 {
			wn, writeErr := f.Write(buf[:n])
			written += int64(wn)

			if writeErr != nil {
				f.Close()
				return written, fmt.Errorf("writing %s: %w", localPath, writeErr)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			f.Close()
			return written, wd.explain(readErr)
		}
	}

	if err := f.Close(); err != nil {
		return written, fmt.Errorf("closing %s: %w", localPath, err)
	}

	return written, nil
}

// LocalName reduces a remote file name to a single NFC-normalized path
// element. Names that would escape the download directory are rejected.
func LocalName(remote string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(remote))

	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, remote)
	}

	return name, nil
}

// localSize returns the size of path, or 0 when it does not exist.
func localSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("inspecting %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}

	return info.Size(), nil
}

// contentRangeStart parses the first byte position of "bytes a-b/total".
func contentRangeStart(h string) (int64, error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes ")
	if !ok {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}

	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}

	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}

	return n, nil
}

// contentRangeTotal parses the complete length from "bytes */total" or
// "bytes a-b/total". ok is false when the header is absent or the length is
// unknown ("*").
func contentRangeTotal(h string) (int64, bool) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes ")
	if !ok {
		return 0, false
	}

	_, total, ok := strings.Cut(rng, "/")
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}
