// Package ledger keeps a local history of download outcomes in SQLite. It
// is an audit trail for the history command; resume positions always come
// from the files on disk, never from here.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome values stored in the downloads.outcome column.
const (
	OutcomeComplete        = "complete"
	OutcomeAlreadyComplete = "already_complete"
	OutcomeFailed          = "failed"
)

// Record is one file outcome within one cycle.
type Record struct {
	ID         int64
	CycleID    string
	FileID     string
	Name       string
	LocalPath  string
	Outcome    string
	HTTPStatus int
	Bytes      int64 // written by this attempt
	Size       int64 // local size afterwards
	Archived   bool
	Error      string
	Elapsed    time.Duration
	FinishedAt time.Time
}

// Ledger is the history database. Safe for concurrent use; writes are
// serialized through a single connection.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history database ready", slog.String("path", path))

	return &Ledger{db: db, logger: logger}, nil
}

// Record appends r. A zero FinishedAt is stamped with the current time.
func (l *Ledger) Record(ctx context.Context, r Record) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO downloads
			(cycle_id, file_id, name, local_path, outcome, http_status,
			 bytes, size, archived, error_msg, elapsed_ms, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.FileID, r.Name, r.LocalPath, r.Outcome, r.HTTPStatus,
		r.Bytes, r.Size, r.Archived, r.Error, r.Elapsed.Milliseconds(), r.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording %s: %w", r.FileID, err)
	}

	return nil
}

// Recent returns up to limit records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, cycle_id, file_id, name, local_path, outcome, http_status,
			bytes, size, archived, error_msg, elapsed_ms, finished_at
			FROM downloads ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying history: %w", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		var (
			r          Record
			elapsedMS  int64
			finishedNS int64
		)

		if err := rows.Scan(&r.ID, &r.CycleID, &r.FileID, &r.Name, &r.LocalPath, &r.Outcome,
			&r.HTTPStatus, &r.Bytes, &r.Size, &r.Archived, &r.Error, &elapsedMS, &finishedNS); err != nil {
			return nil, fmt.Errorf("ledger: scanning history row: %w", err)
		}

		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		r.FinishedAt = time.Unix(0, finishedNS)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating history: %w", err)
	}

	return out, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
