package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/ledger"
	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

func newAnomaliesCommand(ctx *commandContext) *cobra.Command {
	var (
		dest    string
		runID   string
		allRuns bool
		kind    string
		source  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List per-file anomalies recorded in the ledger",
		Long: "List geometry fallbacks, decode and write failures and timeouts recorded by past runs. " +
			"Defaults to the most recent run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dest") {
				cfg.DestRoot = dest
			}
			path := cfg.ResolvedLedgerPath()
			if path == "" {
				return errors.New("ledger is disabled; set DEST_ROOT or LEDGER_PATH")
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no ledger at %s: %w", path, err)
			}

			store, err := ledger.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := ledger.Filter{RunID: runID, Kind: domain.AnomalyKind(kind), Source: source, Limit: limit}
			if filter.RunID == "" && !allRuns {
				if filter.RunID, err = store.LatestRunID(cmd.Context()); err != nil {
					return err
				}
				if filter.RunID == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
			}

			records, err := store.Anomalies(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No anomalies.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAnomalies(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "Destination root whose ledger to read (DEST_ROOT)")
	cmd.Flags().StringVar(&runID, "run", "", "Run ID (default: most recent run)")
	cmd.Flags().BoolVar(&allRuns, "all-runs", false, "List anomalies of every run")
	cmd.Flags().StringVar(&kind, "kind", "", "Only this kind: geometry_fallback, decode, write, timeout, other")
	cmd.Flags().StringVar(&source, "source", "", "Only sources containing this text, e.g. 01/09/")
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum rows, 0 for all")
	return cmd
}

func renderAnomalies(records []ledger.AnomalyRecord) string {
	rows := make([][]string, len(records))
	for i, r := range records {
		sweep := "-"
		if r.Sweep >= 0 {
			sweep = strconv.Itoa(r.Sweep)
		}
		rows[i] = []string{
			shortID(r.RunID),
			string(r.Kind),
			r.Source,
			sweep,
			r.Message,
			r.RecordedAt.Local().Format(time.DateTime),
		}
	}
	return renderTable(
		[]string{"Run", "Kind", "Source", "Sweep", "Message", "Recorded"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
