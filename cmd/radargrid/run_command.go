package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/radar-grid-etl/internal/adapter/kafka"
	"github.com/couchcryptid/radar-grid-etl/internal/adapter/ledger"
	"github.com/couchcryptid/radar-grid-etl/internal/observability"
	"github.com/couchcryptid/radar-grid-etl/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags treeFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Convert every scan under the source root that has no artifact yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.RequireRoots(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.NewLogger(cfg)
			m := processMetrics()

			proc, err := newProcessor(cfg, logger, m)
			if err != nil {
				return err
			}
			opts := pipeline.Options{
				SourceRoot:    cfg.SourceRoot,
				DestRoot:      cfg.DestRoot,
				MonthFilter:   cfg.MonthFilter,
				ScanExtension: cfg.ScanExtension,
				ShardIndex:    cfg.ShardIndex,
				ShardCount:    cfg.ShardCount,
			}

			if path := cfg.ResolvedLedgerPath(); path != "" {
				store, err := ledger.Open(runCtx, path)
				if err != nil {
					return fmt.Errorf("open ledger: %w", err)
				}
				defer store.Close()
				opts.Ledger = store
			}

			if len(cfg.KafkaBrokers) > 0 {
				notifier := kafkaadapter.NewNotifier(cfg, logger)
				defer func() {
					if err := notifier.Close(); err != nil {
						logger.Error("kafka notifier close error", "error", err)
					}
				}()
				opts.Notifier = notifier
				logger.Info("artifact notifications enabled", "topic", cfg.KafkaTopic)
			}

			driver := pipeline.NewBatchDriver(opts, proc, logger, m)

			if cfg.MetricsAddr != "" {
				srv := httpadapter.NewServer(cfg.MetricsAddr, driver, nil, logger)
				srvCtx, stopSrv := context.WithCancel(runCtx)
				srvDone := make(chan struct{})
				go func() {
					defer close(srvDone)
					if err := srv.ListenAndServe(srvCtx, cfg.ShutdownTimeout); err != nil {
						logger.Error("http server error", "error", err)
					}
				}()
				defer func() {
					stopSrv()
					<-srvDone
				}()
			}

			sum, err := driver.Run(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(sum))
			return nil
		},
	}

	flags.register(cmd)
	flags.registerProcessing(cmd)
	flags.registerShard(cmd)
	return cmd
}

func renderSummary(sum pipeline.Summary) string {
	rows := [][]string{
		{"run", sum.RunID},
		{"status", sum.Status},
		{"processed", strconv.Itoa(sum.Processed)},
		{"skipped", strconv.Itoa(sum.Skipped)},
		{"failed", strconv.Itoa(sum.Failed)},
		{"geometry fallbacks", strconv.Itoa(sum.Fallbacks)},
	}
	out := renderTable([]string{"Batch", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
	if len(sum.Failures) == 0 {
		return out
	}
	failed := make([][]string, len(sum.Failures))
	for i, f := range sum.Failures {
		failed[i] = []string{f}
	}
	return out + "\n" + renderTable([]string{"Failed scan"}, failed, nil)
}
