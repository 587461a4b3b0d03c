package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/fichier-sync/internal/config"
	"github.com/tonimelisma/fichier-sync/internal/fichier"
	"github.com/tonimelisma/fichier-sync/internal/ledger"
	"github.com/tonimelisma/fichier-sync/internal/poll"
)

// errCycleFailed marks a --once run whose cycle errored. The error has
// already been logged, so main exits without printing it again.
var errCycleFailed = errors.New("sync cycle failed")

// historyFileName is the ledger database inside state_dir.
const historyFileName = "history.db"

// runDaemon runs the poll loop until a signal arrives, or a single cycle
// when once is set.
func runDaemon(parent context.Context, once bool) error {
	cfg := resolvedCfg

	logger, logCloser, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	ctx := shutdownContext(runCtx, logger)
	stateDir := cfg.ResolvedStateDir()

	lock, err := lockStateDir(stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	hist, err := ledger.Open(ctx, filepath.Join(stateDir, historyFileName), logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	holder := config.NewHolder(cfg, resolvedPath)
	loop := poll.NewLoop(holder, poll.ClientLogin(newFichierClient(cfg, logger)), hist, logger)

	logger.Info("fichier-sync starting",
		slog.String("version", version),
		slog.String("config", resolvedPath),
		slog.String("download_path", cfg.ResolvedDownloadPath()),
		slog.String("state_dir", stateDir),
		slog.Bool("once", once),
	)

	if once {
		if _, err := loop.Once(ctx); err != nil {
			logger.Error("sync cycle failed", slog.String("error", err.Error()))
			return errCycleFailed
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		return config.Watch(gctx, holder, logger, nil)
	})

	g.Go(func() error {
		return reloadOnHangup(gctx, holder, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	logger.Info("fichier-sync stopped")

	return nil
}

// newFichierClient builds the remote client from the network settings. The
// metadata client has an overall request timeout; the transfer client has
// none, as downloads are bounded by the per-read idle timeout instead.
// Network settings are read once, so changing them needs a restart.
func newFichierClient(cfg *config.Config, logger *slog.Logger) *fichier.Client {
	connect, request, _ := cfg.Timeouts()

	dialer := &net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = request

	meta := &http.Client{Transport: transport, Timeout: request}
	xfer := &http.Client{Transport: transport}

	return fichier.NewClient(cfg.BaseURL, meta, xfer, cfg.TPSLimit, logger, cfg.UserAgent)
}
