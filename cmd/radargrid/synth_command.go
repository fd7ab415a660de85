package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSynthCommand() *cobra.Command {
	opts := synthOptions{Year: 2024, Months: 1, Days: 2, Files: 3, Format: "uf", Seed: 1}

	cmd := &cobra.Command{
		Use:   "synth DIR",
		Short: "Generate a synthetic MM/DD/ tree of radar scans",
		Long: "Write reproducible synthetic volume scans with gaussian storm cells, " +
			"for smoke-testing a batch without real radar data.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "uf" && opts.Format != "cfradial" {
				return fmt.Errorf("unknown format %q, want uf or cfradial", opts.Format)
			}
			if opts.Months < 1 || opts.Months > 12 || opts.Days < 1 || opts.Days > 28 || opts.Files < 0 {
				return fmt.Errorf("need 1-12 months, 1-28 days and a non-negative file count")
			}
			written, err := synthesize(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d scans under %s\n", len(written), args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Year, "year", opts.Year, "Year of the scan timestamps")
	cmd.Flags().IntVar(&opts.Months, "months", opts.Months, "Number of month directories, from 01")
	cmd.Flags().IntVar(&opts.Days, "days", opts.Days, "Day directories per month, from 01")
	cmd.Flags().IntVar(&opts.Files, "files", opts.Files, "Scans per day")
	cmd.Flags().StringVar(&opts.Format, "format", opts.Format, "Scan format: uf or cfradial")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	cmd.Flags().BoolVar(&opts.Fallback, "fallback", false, "Give the first scan an ungriddable single-ray sweep")
	cmd.Flags().BoolVar(&opts.Corrupt, "corrupt", false, "Add an undecodable scan to 01/01")
	return cmd
}
