package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/fichier-sync/internal/ledger"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent download outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			logger, logCloser, err := buildLogger(resolvedCfg)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			path := filepath.Join(resolvedCfg.ResolvedStateDir(), historyFileName)

			hist, err := ledger.Open(cmd.Context(), path, logger)
			if err != nil {
				return err
			}
			defer hist.Close()

			records, err := hist.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(records) == 0 {
				statusf(flagQuiet, "No downloads recorded yet\n")
				return nil
			}

			printHistory(cmd.OutOrStdout(), records)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "number of records to show")

	return cmd
}

// printHistory renders ledger records newest first.
func printHistory(w io.Writer, records []ledger.Record) {
	rows := make([][]string, 0, len(records))

	for _, r := range records {
		archived := "no"
		if r.Archived {
			archived = "yes"
		}

		status := "-"
		if r.HTTPStatus != 0 {
			status = strconv.Itoa(r.HTTPStatus)
		}

		rows = append(rows, []string{
			formatTime(r.FinishedAt),
			r.Outcome,
			formatSize(r.Bytes),
			formatSize(r.Size),
			archived,
			status,
			r.Name,
		})
	}

	printTable(w, []string{"FINISHED", "OUTCOME", "WRITTEN", "SIZE", "ARCHIVED", "HTTP", "NAME"}, rows)
}
