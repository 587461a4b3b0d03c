// Package poll runs the sync cycle on a fixed interval: log in, resolve the
// watched and archive directories, download every listed file, archive the
// ones that completed, log out, sleep. A failure of one file never stops the
// others, and a failed cycle never stops the loop.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/fichier-sync/internal/archive"
	"github.com/tonimelisma/fichier-sync/internal/config"
	"github.com/tonimelisma/fichier-sync/internal/dirtree"
	"github.com/tonimelisma/fichier-sync/internal/fichier"
	"github.com/tonimelisma/fichier-sync/internal/ledger"
	"github.com/tonimelisma/fichier-sync/internal/transfer"
)

// ErrWatchedDirMissing is returned when the configured watched directory is
// not in the remote tree.
var ErrWatchedDirMissing = errors.New("poll: watched directory not found")

// logoutTimeout bounds the best-effort logout at the end of a cycle.
const logoutTimeout = 10 * time.Second

// Remote is one logged-in session. Satisfied by *fichier.Session.
type Remote interface {
	archive.Remote
	transfer.Source
	ListFiles(ctx context.Context, dirID string) ([]fichier.FileDescriptor, error)
	Logout(ctx context.Context)
}

// LoginFunc opens a fresh session for a cycle using the cycle's config.
type LoginFunc func(ctx context.Context, cfg *config.Config) (Remote, error)

// Recorder persists per-file outcomes. Satisfied by *ledger.Ledger.
type Recorder interface {
	Record(ctx context.Context, r ledger.Record) error
}

// ClientLogin returns a LoginFunc that logs in through client with the
// config's credentials.
func ClientLogin(client *fichier.Client) LoginFunc {
	return func(ctx context.Context, cfg *config.Config) (Remote, error) {
		sess, err := client.Login(ctx,
			fichier.Credentials{Email: cfg.Email, Password: cfg.Password}, fichier.DefaultLoginOptions())
		if err != nil {
			return nil, err
		}

		return sess, nil
	}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID         string
	Listed          int
	Downloaded      int
	AlreadyComplete int
	Failed          int
	Archived        int
	Bytes           int64
	Duration        time.Duration
}

// Loop drives the sync cycles. Cycles never overlap.
type Loop struct {
	holder   *config.Holder
	login    LoginFunc
	recorder Recorder
	logger   *slog.Logger
	failures *failureTracker

	// sleepFunc waits between cycles. Defaults to timeSleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// NewLoop creates a Loop. recorder may be nil.
func NewLoop(holder *config.Holder, login LoginFunc, recorder Recorder, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		holder:    holder,
		login:     login,
		recorder:  recorder,
		logger:    logger,
		failures:  newFailureTracker(logger),
		sleepFunc: timeSleep,
		nowFunc:   time.Now,
	}
}

// Run repeats cycles separated by the configured delay until ctx is
// canceled. Cycle errors are logged, never returned.
func (l *Loop) Run(ctx context.Context) error {
	for {
		report, err := l.Once(ctx)
		if ctx.Err() != nil {
			l.logger.Info("sync loop stopped")
			return nil
		}

		if err != nil {
			l.logger.Error("sync cycle failed", slog.String("error", err.Error()))
		} else {
			l.logger.Info("sync cycle complete",
				slog.String("cycle_id", report.CycleID),
				slog.Int("listed", report.Listed),
				slog.Int("downloaded", report.Downloaded),
				slog.Int("already_complete", report.AlreadyComplete),
				slog.Int("failed", report.Failed),
				slog.Int("archived", report.Archived),
				slog.Duration("duration", report.Duration),
			)
		}

		delay := l.holder.Config().DelayDuration()
		l.logger.Debug("sleeping until next cycle", slog.Duration("delay", delay))

		if err := l.sleepFunc(ctx, delay); err != nil {
			l.logger.Info("sync loop stopped")
			return nil
		}
	}
}

// Once runs a single cycle with panic recovery.
func (l *Loop) Once(ctx context.Context) (*CycleReport, error) {
	return runSafe(ctx, l.RunCycle)
}

// RunCycle performs one full cycle against a fresh session. Errors before
// the file loop end the cycle; per-file errors are counted in the report.
func (l *Loop) RunCycle(ctx context.Context) (*CycleReport, error) {
	cfg := l.holder.Config()
	start := l.nowFunc()
	report := &CycleReport{CycleID: uuid.NewString()}
	logger := l.logger.With(slog.String("cycle_id", report.CycleID))

	logger.Info("starting sync cycle",
		slog.String("directory", cfg.Directory),
		slog.String("done", cfg.Done),
	)

	sess, err := l.login(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("poll: login: %w", err)
	}

	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()

		sess.Logout(logoutCtx)
	}()

	tree, err := dirtree.Refresh(ctx, sess, fichier.RootDirID, logger)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	watchedID, err := tree.Resolve(cfg.LookupMode(), fichier.RootDirID, cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: %q (lookup %s): %w", ErrWatchedDirMissing, cfg.Directory, cfg.LookupMode(), err)
	}

	mover := archive.NewMover(sess, tree, logger)

	doneID, err := mover.EnsureDirectory(ctx, watchedID, cfg.Done)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	files, err := sess.ListFiles(ctx, watchedID)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	report.Listed = len(files)

	if len(files) == 0 {
		logger.Info("no files to download", slog.String("dir_id", watchedID))
	}

	_, _, readTimeout := cfg.Timeouts()
	engine := transfer.NewEngine(readTimeout, logger)
	localDir := cfg.ResolvedDownloadPath()

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}

		l.processFile(ctx, logger, report, engine, sess, mover, f, localDir, doneID)
	}

	report.Duration = l.nowFunc().Sub(start)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("poll: cycle interrupted: %w", err)
	}

	return report, nil
}

// processFile downloads one file and archives it on success. Nothing here
// aborts the cycle.
func (l *Loop) processFile(
	ctx context.Context, logger *slog.Logger, report *CycleReport,
	engine *transfer.Engine, sess Remote, mover *archive.Mover,
	f fichier.FileDescriptor, localDir, doneID string,
) {
	rec := ledger.Record{CycleID: report.CycleID, FileID: f.ID, Name: f.Name}

	res, err := engine.Download(ctx, sess, f, localDir)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("download interrupted by shutdown", slog.String("file_id", f.ID))
			return
		}

		report.Failed++
		l.failures.recordFailure(logger, f.ID, f.Name, err.Error())

		var terr *transfer.TransferError
		if errors.As(err, &terr) {
			rec.HTTPStatus = terr.StatusCode
		}

		rec.Outcome = ledger.OutcomeFailed
		rec.Error = err.Error()
		l.record(ctx, logger, rec)

		return
	}

	l.failures.recordSuccess(f.ID)

	rec.LocalPath = res.LocalPath
	rec.Bytes = res.BytesWritten
	rec.Size = res.Size
	rec.Elapsed = res.Elapsed
	report.Bytes += res.BytesWritten

	if res.State == transfer.AlreadyComplete {
		report.AlreadyComplete++
		rec.Outcome = ledger.OutcomeAlreadyComplete
	} else {
		report.Downloaded++
		rec.Outcome = ledger.OutcomeComplete
	}

	if err := mover.Move(ctx, f.ID, doneID); err != nil {
		logger.Error("failed to archive downloaded file, it will be checked again next cycle",
			slog.String("file_id", f.ID),
			slog.String("name", f.Name),
			slog.String("error", err.Error()),
		)

		rec.Error = err.Error()
	} else {
		report.Archived++
		rec.Archived = true
	}

	l.record(ctx, logger, rec)
}

func (l *Loop) record(ctx context.Context, logger *slog.Logger, rec ledger.Record) {
	if l.recorder == nil {
		return
	}

	rec.FinishedAt = l.nowFunc()

	if err := l.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record download history",
			slog.String("file_id", rec.FileID),
			slog.String("error", err.Error()),
		)
	}
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
