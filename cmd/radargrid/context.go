package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/artifact"
	"github.com/couchcryptid/radar-grid-etl/internal/adapter/cfradial"
	"github.com/couchcryptid/radar-grid-etl/internal/adapter/gridmap"
	"github.com/couchcryptid/radar-grid-etl/internal/adapter/uf"
	"github.com/couchcryptid/radar-grid-etl/internal/config"
	"github.com/couchcryptid/radar-grid-etl/internal/domain"
	"github.com/couchcryptid/radar-grid-etl/internal/observability"
	"github.com/couchcryptid/radar-grid-etl/internal/pipeline"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once per invocation.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// The default Prometheus registry accepts each collector once per process.
var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

func processMetrics() *observability.Metrics {
	metricsOnce.Do(func() { metrics = observability.NewMetrics() })
	return metrics
}

// treeFlags override the tree settings of the configuration.
type treeFlags struct {
	source     string
	dest       string
	skipMonths []string
	shard      string
	threshold  string
	input      string
	format     string
	timeout    string
}

func (f *treeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "Source root holding MM/DD/ scan directories (SOURCE_ROOT)")
	cmd.Flags().StringVar(&f.dest, "dest", "", "Destination root for artifacts (DEST_ROOT)")
	cmd.Flags().StringSliceVar(&f.skipMonths, "skip-month", nil, "Month directory to skip, repeatable (MONTH_FILTER)")
}

func (f *treeFlags) registerProcessing(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.threshold, "threshold", "", "Mask threshold in dBZ, or off (MASK_THRESHOLD)")
	cmd.Flags().StringVar(&f.input, "input-format", "", "Scan format: uf or cfradial (INPUT_FORMAT)")
	cmd.Flags().StringVar(&f.format, "format", "", "Artifact format: npz or nc (ARTIFACT_FORMAT)")
	cmd.Flags().StringVar(&f.timeout, "timeout", "", "Per-file watchdog, 0 disables (FILE_TIMEOUT)")
}

func (f *treeFlags) registerShard(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.shard, "shard", "", "Partition i/n of the file list to process (SHARD)")
}

// apply copies the flags the user set onto cfg and re-validates it.
func (f *treeFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	set := cmd.Flags().Changed
	if set("source") {
		cfg.SourceRoot = f.source
	}
	if set("dest") {
		cfg.DestRoot = f.dest
	}
	if set("skip-month") {
		cfg.MonthFilter = f.skipMonths
	}
	if set("shard") {
		cfg.Shard = f.shard
	}
	if set("threshold") {
		cfg.MaskThreshold = f.threshold
	}
	if set("input-format") {
		cfg.InputFormat = f.input
		// Follow the format unless a custom extension was configured.
		if cfg.ScanExtension == ".uf" || cfg.ScanExtension == ".nc" {
			cfg.ScanExtension = defaultExtension(f.input)
		}
	}
	if set("format") {
		cfg.ArtifactFormat = f.format
	}
	if set("timeout") {
		cfg.FileTimeout = f.timeout
	}
	return cfg.Finalize()
}

func defaultExtension(inputFormat string) string {
	if inputFormat == "cfradial" {
		return ".nc"
	}
	return ".uf"
}

func newDecoder(cfg *config.Config) (domain.RadarDecoder, error) {
	switch cfg.InputFormat {
	case "uf":
		return uf.NewDecoder(cfg.ReflectivityField, "DZ"), nil
	case "cfradial":
		return cfradial.NewDecoder(append([]string{cfg.ReflectivityField}, cfradial.DefaultFields...)...), nil
	default:
		return nil, fmt.Errorf("unknown input format %q", cfg.InputFormat)
	}
}

func newProcessor(cfg *config.Config, logger *slog.Logger, m *observability.Metrics) (*pipeline.ScanProcessor, error) {
	dec, err := newDecoder(cfg)
	if err != nil {
		return nil, err
	}
	w, err := artifact.New(cfg.ArtifactFormat, cfg.GridConfig)
	if err != nil {
		return nil, err
	}
	pcfg := pipeline.ProcessorConfig{
		Grid:      cfg.GridConfig,
		Threshold: cfg.Threshold,
		Timeout:   cfg.Timeout,
	}
	return pipeline.NewScanProcessor(dec, gridmap.New(gridmap.DefaultOptions()), w, pcfg, logger, m), nil
}
