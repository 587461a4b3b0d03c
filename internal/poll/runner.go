package poll

import (
	"context"
	"fmt"
	"runtime/debug"
)

// runSafe executes one cycle function with panic recovery, so that a bug
// triggered by odd remote data ends the cycle rather than the process. The
// fn parameter is normally Loop.RunCycle; tests inject panicking functions.
func runSafe(ctx context.Context, fn func(context.Context) (*CycleReport, error)) (report *CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("poll: panic in sync cycle: %v\n%s", r, debug.Stack())
		}
	}()

	return fn(ctx)
}
