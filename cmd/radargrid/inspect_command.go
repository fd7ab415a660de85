package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/artifact"
	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect ARTIFACT...",
		Short: "Show shape, coverage and value range of artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(args))
			for _, path := range args {
				res, err := artifact.Read(path)
				if err != nil {
					return err
				}
				rows = append(rows, inspectRow(path, res))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Artifact", "Shape", "Valid cells", "Min", "Max"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func inspectRow(path string, res domain.ScanResult) []string {
	r, c := res.Dims()
	valid := validValues(res)
	lo, hi := "-", "-"
	if len(valid) > 0 {
		lo = strconv.FormatFloat(floats.Min(valid), 'f', 2, 64)
		hi = strconv.FormatFloat(floats.Max(valid), 'f', 2, 64)
	}
	return []string{
		path,
		fmt.Sprintf("%dx%d", r, c),
		fmt.Sprintf("%d / %d", len(valid), r*c),
		lo,
		hi,
	}
}

// validValues returns the data values of unmasked cells in row-major order.
func validValues(res domain.ScanResult) []float64 {
	_, cols := res.Dims()
	out := make([]float64, 0, len(res.Mask))
	for k, masked := range res.Mask {
		if !masked {
			out = append(out, res.Data.At(k/cols, k%cols))
		}
	}
	return out
}
