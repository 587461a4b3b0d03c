package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/fichier-sync/internal/config"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets the running download
// stop cleanly with a resumable partial file; the second is for when
// something hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after the current step",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// reloadOnHangup re-reads the config file into holder on every SIGHUP until
// ctx is canceled.
func reloadOnHangup(ctx context.Context, holder *config.Holder, logger *slog.Logger) error {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	defer signal.Stop(hupCh)

	reloadLoop(ctx, hupCh, holder, logger)

	return nil
}

// reloadLoop reloads holder once per value received on sigCh. An invalid
// file is logged and the current config kept.
func reloadLoop(ctx context.Context, sigCh <-chan os.Signal, holder *config.Holder, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if _, err := config.Reload(holder); err != nil {
				logger.Error("SIGHUP reload failed, keeping current config",
					slog.String("path", holder.Path()),
					slog.String("error", err.Error()),
				)

				continue
			}

			logger.Info("config reloaded on SIGHUP", slog.String("path", holder.Path()))
		}
	}
}
