package poll

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fichier-sync/internal/config"
	"github.com/tonimelisma/fichier-sync/internal/fichier"
	"github.com/tonimelisma/fichier-sync/internal/fichiertest"
	"github.com/tonimelisma/fichier-sync/internal/ledger"
)

const (
	testEmail    = "user@example.com"
	testPassword = "hunter2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memRecorder collects ledger records in memory.
type memRecorder struct {
	mu      sync.Mutex
	records []ledger.Record
}

func (m *memRecorder) Record(_ context.Context, r ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, r)

	return nil
}

func (m *memRecorder) outcomes() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.records))
	for _, r := range m.records {
		out[r.Name] = r.Outcome
	}

	return out
}

type fixture struct {
	srv      *fichiertest.Server
	holder   *config.Holder
	recorder *memRecorder
	loop     *Loop
	localDir string
	watched  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv := fichiertest.New(t, testEmail, testPassword)
	watched := srv.AddDir(fichier.RootDirID, "Inbox")

	cfg := config.DefaultConfig()
	cfg.Email = testEmail
	cfg.Password = testPassword
	cfg.Directory = "Inbox"
	cfg.Done = "Done"
	cfg.Delay = 1
	cfg.DownloadPath = t.TempDir()

	holder := config.NewHolder(cfg, filepath.Join(t.TempDir(), "config.toml"))
	client := fichier.NewClient(srv.URL, http.DefaultClient, nil, 0, testLogger(), "")
	rec := &memRecorder{}

	return &fixture{
		srv:      srv,
		holder:   holder,
		recorder: rec,
		loop:     NewLoop(holder, ClientLogin(client), rec, testLogger()),
		localDir: cfg.DownloadPath,
		watched:  watched,
	}
}

func (f *fixture) doneID(t *testing.T) string {
	t.Helper()

	for _, d := range f.srv.DirsIn(f.watched) {
		if d.Name == "Done" {
			return d.ID
		}
	}

	t.Fatal("archive directory was not created")

	return ""
}

func TestRunCycle_DownloadsAndArchives(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.srv.AddFile(f.watched, "a.bin", []byte("alpha"))
	b := f.srv.AddFile(f.watched, "b.bin", []byte("bravo bravo"))
	c := f.srv.AddFile(f.watched, "c.bin", []byte("charlie"))
	f.srv.FailContent(b, http.StatusInternalServerError)

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Listed)
	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Archived)
	assert.Equal(t, int64(len("alpha")+len("charlie")), report.Bytes)
	assert.NotEmpty(t, report.CycleID)

	got, err := os.ReadFile(filepath.Join(f.localDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	got, err = os.ReadFile(filepath.Join(f.localDir, "c.bin"))
	require.NoError(t, err)
	assert.Equal(t, "charlie", string(got))

	remaining := f.srv.FilesIn(f.watched)
	require.Len(t, remaining, 1)
	assert.Equal(t, b, remaining[0].ID)

	archived := f.srv.FilesIn(f.doneID(t))
	assert.Len(t, archived, 2)

	assert.Equal(t, map[string]string{
		"a.bin": ledger.OutcomeComplete,
		"b.bin": ledger.OutcomeFailed,
		"c.bin": ledger.OutcomeComplete,
	}, f.recorder.outcomes())

	for _, r := range f.recorder.records {
		if r.FileID == b {
			assert.Equal(t, http.StatusInternalServerError, r.HTTPStatus)
			assert.False(t, r.Archived)
		} else {
			assert.True(t, r.Archived, r.Name)
		}
	}

	assert.Equal(t, 1, f.loop.failures.failures(b))
	assert.Equal(t, 0, f.loop.failures.failures(a))
	assert.Equal(t, 0, f.loop.failures.failures(c))
	assert.Equal(t, 1, f.srv.Calls("/logout.pl"))
}

func TestRunCycle_AlreadyCompleteIsArchived(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.AddFile(f.watched, "done.bin", []byte("finished"))
	require.NoError(t, os.WriteFile(filepath.Join(f.localDir, "done.bin"), []byte("finished"), 0o600))

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.AlreadyComplete)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 1, report.Archived)
	assert.Empty(t, f.srv.FilesIn(f.watched))
	assert.Equal(t, ledger.OutcomeAlreadyComplete, f.recorder.outcomes()["done.bin"])
}

func TestRunCycle_LargerLocalFileIsNotArchived(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.srv.AddFile(f.watched, "clip.bin", []byte("short"))
	require.NoError(t, os.WriteFile(filepath.Join(f.localDir, "clip.bin"), []byte("an unrelated longer file"), 0o600))

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.AlreadyComplete)
	assert.Equal(t, 0, report.Archived)
	assert.True(t, f.srv.HasFile(id))
	require.Len(t, f.srv.FilesIn(f.watched), 1)
	assert.Equal(t, ledger.OutcomeFailed, f.recorder.outcomes()["clip.bin"])

	got, err := os.ReadFile(filepath.Join(f.localDir, "clip.bin"))
	require.NoError(t, err)
	assert.Equal(t, "an unrelated longer file", string(got))
}

func TestRunCycle_EmptyWatchedDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Listed)
	assert.Empty(t, f.recorder.records)
	// The archive directory is still ensured.
	assert.NotEmpty(t, f.doneID(t))
}

func TestRunCycle_ReusesArchiveDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	_, err = f.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.srv.Calls("/console/mkdir.pl"))
	assert.Len(t, f.srv.DirsIn(f.watched), 1)
}

func TestRunCycle_WatchedDirectoryMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	cfg := *f.holder.Config()
	cfg.Directory = "Nowhere"
	f.holder.Update(&cfg)

	_, err := f.loop.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrWatchedDirMissing)
	assert.Equal(t, 1, f.srv.Calls("/logout.pl"), "session must be closed on early failure")
}

func TestRunCycle_ParentLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	nested := f.srv.AddDir(f.srv.AddDir(fichier.RootDirID, "Other"), "Nested")
	f.srv.AddFile(nested, "n.bin", []byte("n"))

	cfg := *f.holder.Config()
	cfg.Directory = "Nested"

	cfg.DirectoryLookup = "parent"
	f.holder.Update(&cfg)

	_, err := f.loop.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrWatchedDirMissing)

	cfg.DirectoryLookup = "global"
	f.holder.Update(&cfg)

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
}

func TestRunCycle_AuthFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	cfg := *f.holder.Config()
	cfg.Password = "wrong"
	f.holder.Update(&cfg)

	_, err := f.loop.RunCycle(context.Background())
	require.ErrorIs(t, err, fichier.ErrAuthFailed)
	assert.Equal(t, 0, f.srv.Calls("/console/dirs.pl"))
}

func TestRunCycle_Canceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.AddFile(f.watched, "a.bin", []byte("alpha"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.loop.RunCycle(ctx)
	require.Error(t, err)
	assert.Len(t, f.srv.FilesIn(f.watched), 1)
}

func TestRun_RecoversFromFailedCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.AddFile(f.watched, "a.bin", []byte("alpha"))

	bad := *f.holder.Config()
	good := bad
	bad.Password = "wrong"
	f.holder.Update(&bad)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration

	f.loop.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)

		switch len(sleeps) {
		case 1:
			// Fix the credentials as a config reload would.
			f.holder.Update(&good)
			return nil
		default:
			cancel()
			return context.Canceled
		}
	}

	require.NoError(t, f.loop.Run(ctx))

	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
	assert.Empty(t, f.srv.FilesIn(f.watched))
	assert.Equal(t, ledger.OutcomeComplete, f.recorder.outcomes()["a.bin"])
}

func TestRun_SleepsAfterEmptyCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slept := 0

	f.loop.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept++
		assert.Equal(t, time.Second, d)
		cancel()

		return context.Canceled
	}

	require.NoError(t, f.loop.Run(ctx))
	assert.Equal(t, 1, slept)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- f.loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

// failingRecorder always fails; the cycle must not care.
type failingRecorder struct{}

func (failingRecorder) Record(context.Context, ledger.Record) error {
	return errors.New("disk full")
}

func TestRunCycle_RecorderFailureIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.AddFile(f.watched, "a.bin", []byte("alpha"))
	f.loop.recorder = failingRecorder{}

	report, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)
}

func TestTimeSleep(t *testing.T) {
	t.Parallel()

	require.NoError(t, timeSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, timeSleep(ctx, time.Hour), context.Canceled)
}
