package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Failure escalation constants.
const (
	failureThreshold = 3              // log at Error from this many consecutive failures
	failureCooldown  = 24 * time.Hour // forget failures older than this
)

// failureRecord tracks consecutive failures for a single remote file.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker counts consecutive failed cycles per file id. Nothing is
// ever suppressed: a failing file is retried every cycle, but once it has
// failed failureThreshold times in a row its failures are logged at Error
// instead of Warn. Success clears the record, and records idle for longer
// than failureCooldown are dropped. Thread-safe.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// recordFailure increments the counter for fileID, logs the failure at the
// escalated level, and returns the new count.
func (ft *failureTracker) recordFailure(logger *slog.Logger, fileID, name, errMsg string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	now := ft.nowFunc()
	ft.pruneLocked(now)

	rec, ok := ft.records[fileID]
	if !ok {
		rec = &failureRecord{}
		ft.records[fileID] = rec
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = now

	level := slog.LevelWarn
	if rec.count >= failureThreshold {
		level = slog.LevelError
	}

	if logger == nil {
		logger = ft.logger
	}

	logger.Log(context.Background(), level, "file failed, will retry next cycle",
		slog.String("file_id", fileID),
		slog.String("name", name),
		slog.Int("consecutive_failures", rec.count),
		slog.String("error", errMsg),
	)

	return rec.count
}

// pruneLocked drops records whose last failure is older than the cooldown,
// including those of files that have since left the watched directory. The
// caller holds ft.mu.
func (ft *failureTracker) pruneLocked(now time.Time) {
	for id, rec := range ft.records {
		if now.Sub(rec.lastAt) > failureCooldown {
			delete(ft.records, id)
		}
	}
}

// recordSuccess clears the failure record for fileID.
func (ft *failureTracker) recordSuccess(fileID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, fileID)
}

// failures returns the current consecutive failure count for fileID.
func (ft *failureTracker) failures(fileID string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if rec, ok := ft.records[fileID]; ok {
		return rec.count
	}

	return 0
}
