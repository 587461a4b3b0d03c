package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/fichier-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
	flagInit       bool
	flagOnce       bool
)

// resolvedCfg holds the configuration loaded by PersistentPreRunE, and
// resolvedPath the file it came from.
var (
	resolvedCfg  *config.Config
	resolvedPath string
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fichier-sync",
		Short: "1fichier watched-folder downloader",
		Long: "Polls a 1fichier directory, downloads every file in it with resume support,\n" +
			"and moves finished files into an archive directory on the remote side.",
		Version: version,
		Args:    cobra.NoArgs,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		// --init runs before a config exists, so it skips loading.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			resolvedPath = config.ResolvePath(config.ReadEnvOverrides(), flagConfigPath)

			if cmd == cmd.Root() && flagInit {
				return nil
			}

			return loadConfig()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagInit {
				return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), resolvedPath)
			}

			return runDaemon(cmd.Context(), flagOnce)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (env "+config.EnvConfig+")")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.Flags().BoolVar(&flagInit, "init", false, "interactively create the config file and exit")
	cmd.Flags().BoolVar(&flagOnce, "once", false, "run a single sync cycle and exit")
	cmd.MarkFlagsMutuallyExclusive("init", "once")

	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newReloadCmd())

	return cmd
}

// loadConfig reads resolvedPath into resolvedCfg.
func loadConfig() error {
	cfg, err := config.Load(resolvedPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// Log output formats accepted by log_format.
const (
	logFormatAuto = "auto"
	logFormatText = "text"
	logFormatJSON = "json"
)

// buildLogger creates an slog.Logger configured by the loaded config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The returned closer
// releases the log file, if any.
func buildLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.LogLevel)

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		out, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSON(cfg.LogFormat, out) {
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	}

	return slog.New(slog.NewTextHandler(out, opts)), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// useJSON reports whether the log handler should emit JSON. In auto mode a
// terminal gets text and anything else gets JSON.
func useJSON(format string, out io.Writer) bool {
	switch format {
	case logFormatJSON:
		return true
	case logFormatText:
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
