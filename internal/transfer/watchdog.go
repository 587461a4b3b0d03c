package transfer

import (
	"sync/atomic"
	"time"
)

// watchdog cancels a transfer when no read completes within its timeout.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newWatchdog(timeout time.Duration, cancel func()) *watchdog {
	w := &watchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})

	return w
}

func (w *watchdog) reset() {
	if !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	w.timer.Stop()
}

// explain replaces the cancellation error caused by the watchdog with
// ErrIdleTimeout. Other errors pass through.
func (w *watchdog) explain(err error) error {
	if w.fired.Load() {
		return ErrIdleTimeout
	}

	return err
}
