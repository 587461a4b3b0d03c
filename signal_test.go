package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fichier-sync/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := shutdownContext(parent, testLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of SIGINT")
	}
}

func TestShutdownContext_ParentCancelStopsGoroutine(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	ctx := shutdownContext(parent, testLogger())

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled within 2 seconds of parent cancel")
	}
}

const reloadConfig = `
email = "me@example.com"
password = "secret"
directory = "Inbox"
done = "Done"
`

func TestReloadLoop_AppliesValidAndKeepsOnInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(reloadConfig+"delay = 9\n"), 0o600))

	holder := config.NewHolder(config.DefaultConfig(), path)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal)
	done := make(chan struct{})

	go func() {
		reloadLoop(ctx, sigCh, holder, testLogger())
		close(done)
	}()

	// An unbuffered send returns once the loop has taken the signal, so the
	// second send of each pair waits for the first reload to finish.
	sigCh <- syscall.SIGHUP
	sigCh <- syscall.SIGHUP
	sigCh <- syscall.SIGHUP

	assert.Equal(t, 9, holder.Config().Delay)

	require.NoError(t, os.WriteFile(path, []byte(reloadConfig+"delay = 0\n"), 0o600))
	sigCh <- syscall.SIGHUP
	sigCh <- syscall.SIGHUP

	cancel()
	<-done

	assert.Equal(t, 9, holder.Config().Delay)
	assert.Equal(t, "Inbox", holder.Config().Directory)
}
