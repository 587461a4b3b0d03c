package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFilePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/var/lib/fs", "fichier-sync.pid"), pidFilePath("/var/lib/fs"))
}

func TestLockStateDir_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	stateDir := filepath.Join(t.TempDir(), "state", "nested")

	lock, err := lockStateDir(stateDir)
	require.NoError(t, err)

	defer lock.Release()

	pid, err := readPID(pidFilePath(stateDir))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	info, err := os.Stat(stateDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(stateDirPermissions), info.Mode().Perm())
}

func TestLockStateDir_SecondDaemonRefused(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()

	lock, err := lockStateDir(stateDir)
	require.NoError(t, err)

	defer lock.Release()

	second, err := lockStateDir(stateDir)
	require.ErrorIs(t, err, errDaemonRunning)
	assert.Nil(t, second)
	assert.Contains(t, err.Error(), "PID "+strconv.Itoa(os.Getpid()))
}

func TestLockStateDir_SeparateStateDirsIndependent(t *testing.T) {
	t.Parallel()

	a, err := lockStateDir(t.TempDir())
	require.NoError(t, err)

	defer a.Release()

	b, err := lockStateDir(t.TempDir())
	require.NoError(t, err)
	b.Release()
}

func TestLockStateDir_ReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()

	lock, err := lockStateDir(stateDir)
	require.NoError(t, err)
	lock.Release()

	_, err = os.Stat(pidFilePath(stateDir))
	assert.True(t, os.IsNotExist(err))

	lock, err = lockStateDir(stateDir)
	require.NoError(t, err)
	lock.Release()
}

func TestLockStateDir_OverwritesLeftoverPID(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(pidFilePath(stateDir), []byte("999999999999\n"), 0o644))

	lock, err := lockStateDir(stateDir)
	require.NoError(t, err)

	defer lock.Release()

	pid, err := readPID(pidFilePath(stateDir))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLockStateDir_EmptyDir(t *testing.T) {
	t.Parallel()

	lock, err := lockStateDir("")
	require.Error(t, err)
	assert.Nil(t, lock)
}

func TestReadPID_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for name, content := range map[string]string{
		"garbage": "not-a-pid\n",
		"zero":    "0\n",
		"empty":   "",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		_, err := readPID(path)
		assert.ErrorContains(t, err, "invalid PID", name)
	}
}

func TestSignalDaemon_NoPIDFile(t *testing.T) {
	t.Parallel()

	err := signalDaemon(t.TempDir(), syscall.SIGHUP)
	require.ErrorIs(t, err, errNoDaemon)
}

func TestSignalDaemon_StalePIDFileRemoved(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	// PID 999999999 is almost certainly not a running process.
	require.NoError(t, os.WriteFile(pidFilePath(stateDir), []byte("999999999\n"), 0o644))

	err := signalDaemon(stateDir, syscall.SIGHUP)
	require.ErrorIs(t, err, errNoDaemon)
	assert.Contains(t, err.Error(), "stale")

	_, statErr := os.Stat(pidFilePath(stateDir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignalDaemon_ReachesLockHolder(t *testing.T) {
	t.Parallel()

	// Trap SIGHUP so it doesn't kill the test process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	stateDir := t.TempDir()

	lock, err := lockStateDir(stateDir)
	require.NoError(t, err)

	defer lock.Release()

	require.NoError(t, signalDaemon(stateDir, syscall.SIGHUP))
	assert.Equal(t, syscall.SIGHUP, <-sigCh)
}
