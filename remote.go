package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/fichier-sync/internal/archive"
	"github.com/tonimelisma/fichier-sync/internal/dirtree"
	"github.com/tonimelisma/fichier-sync/internal/fichier"
)

// logoutTimeout bounds the logout after a one-shot remote command.
const logoutTimeout = 10 * time.Second

// remoteSession logs in with the loaded config and returns the session, a
// logger, and a function that logs out and releases the logger.
func remoteSession(ctx context.Context) (*fichier.Session, *slog.Logger, func(), error) {
	logger, logCloser, err := buildLogger(resolvedCfg)
	if err != nil {
		return nil, nil, nil, err
	}

	client := newFichierClient(resolvedCfg, logger)

	sess, err := client.Login(ctx, fichier.Credentials{
		Email:    resolvedCfg.Email,
		Password: resolvedCfg.Password,
	}, fichier.DefaultLoginOptions())
	if err != nil {
		logCloser.Close()
		return nil, nil, nil, err
	}

	done := func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()

		sess.Logout(logoutCtx)
		logCloser.Close()
	}

	return sess, logger, done, nil
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Print the remote directory tree",
		Long:  "Logs in and prints every remote directory with its id, in depth-first order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, logger, done, err := remoteSession(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			tree, err := dirtree.Refresh(cmd.Context(), sess, fichier.RootDirID, logger)
			if err != nil {
				return err
			}

			printTree(cmd.OutOrStdout(), tree)

			return nil
		},
	}
}

// printTree writes one "id  path" row per directory.
func printTree(w io.Writer, tree *dirtree.Tree) {
	dirs := tree.Directories()
	rows := make([][]string, 0, len(dirs))

	for _, d := range dirs {
		rows = append(rows, []string{d.ID, tree.Path(d.ID)})
	}

	printTable(w, []string{"ID", "PATH"}, rows)
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file-id>...",
		Short: "Delete remote files by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, logger, done, err := remoteSession(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			mover := archive.NewMover(sess, nil, logger)

			for _, id := range args {
				if err := mover.Delete(cmd.Context(), id); err != nil {
					return err
				}

				statusf(flagQuiet, "Deleted %s\n", id)
			}

			return nil
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Tell the running daemon to re-read its config",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := signalDaemon(resolvedCfg.ResolvedStateDir(), syscall.SIGHUP); err != nil {
				return fmt.Errorf("reload: %w", err)
			}

			statusf(flagQuiet, "Reload signal sent\n")

			return nil
		},
	}
}
