package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fichier-sync/internal/config"
	"github.com/tonimelisma/fichier-sync/internal/fichier"
	"github.com/tonimelisma/fichier-sync/internal/fichiertest"
	"github.com/tonimelisma/fichier-sync/internal/ledger"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests either
// set globals AFTER newRootCmd() returns, or let Cobra parse them through
// SetArgs. None of these tests run in parallel.

const (
	testEmail    = "user@example.com"
	testPassword = "hunter2"
)

// writeConfigFor writes a config pointing at srv and returns its path along
// with the download and state directories it uses.
func writeConfigFor(t *testing.T, srv *fichiertest.Server) (path, downloads, state string) {
	t.Helper()

	dir := t.TempDir()
	downloads = filepath.Join(dir, "downloads")
	state = filepath.Join(dir, "state")
	path = filepath.Join(dir, "config.toml")

	content := fmt.Sprintf(`
email = %q
password = %q
directory = "Inbox"
done = "Done"
download_path = %q
state_dir = %q
base_url = %q
tps_limit = 0
log_level = "error"
`, testEmail, testPassword, downloads, state, srv.URL)

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path, downloads, state
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	t.Cleanup(func() {
		resolvedCfg = nil
		resolvedPath = ""
	})

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestOnce_DownloadsArchivesAndRecords(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	inbox := srv.AddDir(fichier.RootDirID, "Inbox")
	srv.AddFile(inbox, "movie.mkv", []byte("frames"))

	path, downloads, state := writeConfigFor(t, srv)

	_, err := execute(t, "", "--config", path, "--once", "-q")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(downloads, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "frames", string(got))
	assert.Empty(t, srv.FilesIn(inbox))

	// The PID file is released on exit.
	_, err = os.Stat(pidFilePath(state))
	assert.True(t, os.IsNotExist(err))

	out, err := execute(t, "", "--config", path, "history", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "movie.mkv")
	assert.Contains(t, out, ledger.OutcomeComplete)
}

func TestOnce_FailedCycleExitsWithError(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	srv.AddDir(fichier.RootDirID, "Elsewhere")

	path, _, _ := writeConfigFor(t, srv)

	_, err := execute(t, "", "--config", path, "--once", "-q")
	require.ErrorIs(t, err, errCycleFailed)
}

func TestMissingConfigHintsInit(t *testing.T) {
	_, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "none.toml"), "--once")
	require.ErrorIs(t, err, config.ErrNoConfig)
	assert.Contains(t, err.Error(), "--init")
}

func TestLs_PrintsTree(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	inbox := srv.AddDir(fichier.RootDirID, "Inbox")
	done := srv.AddDir(inbox, "Done")

	path, _, _ := writeConfigFor(t, srv)

	out, err := execute(t, "", "--config", path, "ls")
	require.NoError(t, err)

	assert.Contains(t, out, inbox+"  /Inbox\n")
	assert.Contains(t, out, done+"  /Inbox/Done\n")
	assert.Equal(t, 1, srv.Calls("/logout.pl"))
}

func TestRm_DeletesFiles(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	inbox := srv.AddDir(fichier.RootDirID, "Inbox")
	a := srv.AddFile(inbox, "a", []byte("a"))
	b := srv.AddFile(inbox, "b", []byte("b"))
	c := srv.AddFile(inbox, "c", []byte("c"))

	path, _, _ := writeConfigFor(t, srv)

	_, err := execute(t, "", "--config", path, "-q", "rm", a, c)
	require.NoError(t, err)

	assert.False(t, srv.HasFile(a))
	assert.True(t, srv.HasFile(b))
	assert.False(t, srv.HasFile(c))
}

func TestRm_RequiresArgs(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	path, _, _ := writeConfigFor(t, srv)

	_, err := execute(t, "", "--config", path, "rm")
	require.Error(t, err)
}

func TestHistory_Empty(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	path, _, _ := writeConfigFor(t, srv)

	out, err := execute(t, "", "--config", path, "-q", "history")
	require.NoError(t, err)
	assert.NotContains(t, out, "OUTCOME")
}

func TestReload_NoDaemon(t *testing.T) {
	srv := fichiertest.New(t, testEmail, testPassword)
	path, _, _ := writeConfigFor(t, srv)

	_, err := execute(t, "", "--config", path, "reload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running daemon")
}

func TestInit_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	answers := strings.Join([]string{
		"me@example.com",
		"pass with spaces",
		"~/dl",
		"Inbox",
		"Done",
		"60",
		"parent",
	}, "\n") + "\n"

	out, err := execute(t, answers, "--config", path, "--init")
	require.NoError(t, err)
	assert.Contains(t, out, "Config written to")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", cfg.Email)
	assert.Equal(t, "pass with spaces", cfg.Password)
	assert.Equal(t, "~/dl", cfg.DownloadPath)
	assert.Equal(t, "Inbox", cfg.Directory)
	assert.Equal(t, "Done", cfg.Done)
	assert.Equal(t, 60, cfg.Delay)
	assert.Equal(t, "parent", cfg.DirectoryLookup)
}

func TestInit_DefaultsApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	answers := "me@example.com\npw\n\nInbox\nDone\n\n\n"

	_, err := execute(t, answers, "--config", path, "--init")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Delay, cfg.Delay)
	assert.Equal(t, config.DefaultConfig().DownloadPath, cfg.DownloadPath)
	assert.Equal(t, "global", cfg.DirectoryLookup)
}

func TestInit_DeclineOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("# keep\n"), 0o600))

	_, err := execute(t, "n\n", "--config", path, "--init")
	require.ErrorIs(t, err, errInitAborted)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# keep\n", string(data))
}

func TestInit_InvalidAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, err := execute(t, "me@example.com\npw\n\nInbox\nDone\nsoon\n\n", "--config", path, "--init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a number")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestInitAndOnceExclusive(t *testing.T) {
	_, err := execute(t, "", "--init", "--once")
	require.Error(t, err)
}

func TestBuildLogger_Levels(t *testing.T) {
	newRootCmd()

	t.Cleanup(func() {
		flagVerbose = false
		flagQuiet = false
	})

	cfg := config.DefaultConfig()
	cfg.LogFormat = "text"
	ctx := context.Background()

	logger, closer, err := buildLogger(cfg)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))

	cfg.LogLevel = "warn"
	logger, _, err = buildLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))

	flagVerbose = true
	logger, _, err = buildLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))

	flagQuiet = true
	logger, _, err = buildLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.True(t, logger.Enabled(ctx, slog.LevelError))
}

func TestBuildLogger_LogFileGetsJSON(t *testing.T) {
	newRootCmd()

	cfg := config.DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "sync.log")

	logger, closer, err := buildLogger(cfg)
	require.NoError(t, err)

	logger.Info("hello", slog.String("k", "v"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestUseJSON(t *testing.T) {
	var buf bytes.Buffer

	assert.True(t, useJSON(logFormatJSON, &buf))
	assert.False(t, useJSON(logFormatText, &buf))
	assert.True(t, useJSON(logFormatAuto, &buf))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
