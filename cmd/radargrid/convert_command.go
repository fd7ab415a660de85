package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/radar-grid-etl/internal/observability"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var flags treeFlags

	cmd := &cobra.Command{
		Use:   "convert SRC [DST]",
		Short: "Convert a single scan file into an artifact",
		Long: "Convert a single scan file. DST may be an artifact path or a directory; " +
			"when omitted the artifact is written next to SRC.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}

			logger := observability.NewLogger(cfg)
			proc, err := newProcessor(cfg, logger, processMetrics())
			if err != nil {
				return err
			}

			src := args[0]
			base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + proc.Extension()
			dest := filepath.Join(filepath.Dir(src), base)
			if len(args) == 2 {
				dest = args[1]
				if info, err := os.Stat(dest); err == nil && info.IsDir() {
					dest = filepath.Join(dest, base)
				}
			}

			rep, err := proc.Process(cmd.Context(), src, dest)
			if err != nil {
				return err
			}

			fallbacks := "none"
			if sweeps := rep.FallbackSweeps(); len(sweeps) > 0 {
				parts := make([]string, len(sweeps))
				for i, s := range sweeps {
					parts[i] = strconv.Itoa(s)
				}
				fallbacks = strings.Join(parts, ",")
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Artifact", "Valid cells", "Fallback sweeps", "Duration"},
				[][]string{{dest, strconv.Itoa(rep.ValidCells), fallbacks, rep.Duration.Round(time.Millisecond).String()}},
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}

	flags.registerProcessing(cmd)
	return cmd
}
