package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	// pidFileName is the daemon PID file inside state_dir.
	pidFileName = "fichier-sync.pid"

	// pidFilePermissions lets other local users see which process holds the lock.
	pidFilePermissions = 0o644

	// stateDirPermissions matches the state directory created by the ledger.
	stateDirPermissions = 0o700
)

var (
	errDaemonRunning = errors.New("another fichier-sync is already running")
	errNoDaemon      = errors.New("no running daemon found")
)

// pidFilePath returns the PID file location for a state directory.
func pidFilePath(stateDir string) string {
	return filepath.Join(stateDir, pidFileName)
}

// daemonLock is an exclusive flock on the state directory's PID file. Two
// daemons sharing a state_dir would race on the same download directory and
// ledger, so only one may hold it.
type daemonLock struct {
	f    *os.File
	path string
}

// lockStateDir creates stateDir if needed, takes the lock and writes the
// current PID. It fails with errDaemonRunning when another process holds the
// lock.
func lockStateDir(stateDir string) (*daemonLock, error) {
	if stateDir == "" {
		return nil, errors.New("state directory is empty, cannot place PID file")
	}

	if err := os.MkdirAll(stateDir, stateDirPermissions); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := pidFilePath(stateDir)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, readErr := readPID(path); readErr == nil {
			return nil, fmt.Errorf("%w (PID %d holds %s)", errDaemonRunning, pid, path)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errDaemonRunning, path)
	}

	lock := &daemonLock{f: f, path: path}

	if err := lock.writePID(os.Getpid()); err != nil {
		lock.Release()
		return nil, err
	}

	return lock, nil
}

func (l *daemonLock) writePID(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock.
func (l *daemonLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readPID parses the PID stored at path.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalDaemon delivers sig to the daemon that owns stateDir. A PID file left
// behind by a dead process is removed.
func signalDaemon(stateDir string, sig syscall.Signal) error {
	path := pidFilePath(stateDir)

	pid, err := readPID(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w (no PID file at %s)", errNoDaemon, path)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 checks liveness without delivering anything.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return fmt.Errorf("%w: PID %d is gone, stale PID file removed", errNoDaemon, pid)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("sending %s to daemon (PID %d): %w", sig, pid, err)
	}

	return nil
}
