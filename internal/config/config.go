package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/pelletier/go-toml/v2"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Grid holds the projection grid settings.
type Grid struct {
	Shape   []int     `toml:"shape"`
	ZLimits []float64 `toml:"z_limits"`
	YLimits []float64 `toml:"y_limits"`
	XLimits []float64 `toml:"x_limits"`
}

// Config holds all batch settings. Values come from built-in defaults, an
// optional TOML file, and environment variables, in that order.
type Config struct {
	SourceRoot        string   `toml:"source_root"`
	DestRoot          string   `toml:"dest_root"`
	MonthFilter       []string `toml:"month_filter"`
	MaskThreshold     string   `toml:"mask_threshold"`
	ReflectivityField string   `toml:"reflectivity_field"`
	InputFormat       string   `toml:"input_format"`
	ScanExtension     string   `toml:"scan_extension"`
	ArtifactFormat    string   `toml:"artifact_format"`
	Grid              Grid     `toml:"grid"`
	FileTimeout       string   `toml:"file_timeout"`
	Shard             string   `toml:"shard"`
	LedgerPath        string   `toml:"ledger_path"`
	KafkaBrokers      []string `toml:"kafka_brokers"`
	KafkaTopic        string   `toml:"kafka_topic"`
	MetricsAddr       string   `toml:"metrics_addr"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`

	ShutdownTimeout time.Duration `toml:"-"`

	// Parsed forms, filled by Load.
	Threshold  float64           `toml:"-"` // NaN when masking is off
	Timeout    time.Duration     `toml:"-"`
	ShardIndex int               `toml:"-"`
	ShardCount int               `toml:"-"`
	GridConfig domain.GridConfig `toml:"-"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		MaskThreshold:     "5",
		ReflectivityField: "CZ",
		InputFormat:       "uf",
		ScanExtension:     ".uf",
		ArtifactFormat:    "npz",
		Grid: Grid{
			Shape:   []int{1, 256, 256},
			ZLimits: []float64{0, 2000},
			YLimits: []float64{-128000, 128000},
			XLimits: []float64{-128000, 128000},
		},
		FileTimeout: "10m",
		Shard:       "0/1",
		KafkaTopic:  "radar-grid-artifacts",
		LogLevel:    "info",
		LogFormat:   "auto",
	}
}

// Load builds the configuration. path names an optional TOML file; when empty
// the RADARGRID_CONFIG environment variable is consulted.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("RADARGRID_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = shutdownTimeout

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.SourceRoot = sharedcfg.EnvOrDefault("SOURCE_ROOT", c.SourceRoot)
	c.DestRoot = sharedcfg.EnvOrDefault("DEST_ROOT", c.DestRoot)
	if v := os.Getenv("MONTH_FILTER"); v != "" {
		c.MonthFilter = splitList(v)
	}
	c.MaskThreshold = sharedcfg.EnvOrDefault("MASK_THRESHOLD", c.MaskThreshold)
	c.ReflectivityField = sharedcfg.EnvOrDefault("REFLECTIVITY_FIELD", c.ReflectivityField)
	c.InputFormat = sharedcfg.EnvOrDefault("INPUT_FORMAT", c.InputFormat)
	c.ScanExtension = sharedcfg.EnvOrDefault("SCAN_EXTENSION", c.ScanExtension)
	c.ArtifactFormat = sharedcfg.EnvOrDefault("ARTIFACT_FORMAT", c.ArtifactFormat)
	c.FileTimeout = sharedcfg.EnvOrDefault("FILE_TIMEOUT", c.FileTimeout)
	c.Shard = sharedcfg.EnvOrDefault("SHARD", c.Shard)
	c.LedgerPath = sharedcfg.EnvOrDefault("LEDGER_PATH", c.LedgerPath)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = sharedcfg.ParseBrokers(v)
	}
	c.KafkaTopic = sharedcfg.EnvOrDefault("KAFKA_TOPIC", c.KafkaTopic)
	c.MetricsAddr = sharedcfg.EnvOrDefault("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = sharedcfg.EnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = sharedcfg.EnvOrDefault("LOG_FORMAT", c.LogFormat)

	var err error
	if v := os.Getenv("GRID_SHAPE"); v != "" {
		if c.Grid.Shape, err = parseInts(v); err != nil {
			return errors.New("invalid GRID_SHAPE")
		}
	}
	for _, g := range []struct {
		env string
		dst *[]float64
	}{
		{"GRID_Z_LIMITS", &c.Grid.ZLimits},
		{"GRID_Y_LIMITS", &c.Grid.YLimits},
		{"GRID_X_LIMITS", &c.Grid.XLimits},
	} {
		if v := os.Getenv(g.env); v != "" {
			if *g.dst, err = parseFloats(v); err != nil {
				return fmt.Errorf("invalid %s", g.env)
			}
		}
	}
	return nil
}

// Finalize parses and validates the string-typed settings. It is called by
// Load and again by the CLI after flags have been applied.
func (c *Config) Finalize() error {
	threshold, err := parseThreshold(c.MaskThreshold)
	if err != nil {
		return errors.New("invalid MASK_THRESHOLD")
	}
	c.Threshold = threshold

	timeout, err := time.ParseDuration(c.FileTimeout)
	if err != nil || timeout < 0 {
		return errors.New("invalid FILE_TIMEOUT")
	}
	c.Timeout = timeout

	c.ShardIndex, c.ShardCount, err = parseShard(c.Shard)
	if err != nil {
		return errors.New("invalid SHARD, want i/n with 0 <= i < n")
	}

	grid, err := c.Grid.toDomain()
	if err != nil {
		return err
	}
	c.GridConfig = grid

	switch c.InputFormat {
	case "uf", "cfradial":
	default:
		return errors.New("INPUT_FORMAT must be uf or cfradial")
	}
	switch c.ArtifactFormat {
	case "npz", "nc":
	default:
		return errors.New("ARTIFACT_FORMAT must be npz or nc")
	}
	if c.ScanExtension == "" {
		return errors.New("SCAN_EXTENSION is required")
	}
	if !strings.HasPrefix(c.ScanExtension, ".") {
		c.ScanExtension = "." + c.ScanExtension
	}
	if c.ReflectivityField == "" {
		return errors.New("REFLECTIVITY_FIELD is required")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// RequireRoots checks the roots needed by a batch run.
func (c *Config) RequireRoots() error {
	if c.SourceRoot == "" {
		return errors.New("SOURCE_ROOT is required")
	}
	if c.DestRoot == "" {
		return errors.New("DEST_ROOT is required")
	}
	src, err1 := filepath.Abs(c.SourceRoot)
	dst, err2 := filepath.Abs(c.DestRoot)
	if err1 == nil && err2 == nil && src == dst {
		return errors.New("SOURCE_ROOT and DEST_ROOT must differ")
	}
	return nil
}

// MonthSkipped reports whether month (a source directory name such as "05")
// is listed in filter.
func MonthSkipped(filter []string, month string) bool {
	return slices.Contains(filter, month)
}

// ArtifactExtension is the extension of written artifacts.
func (c *Config) ArtifactExtension() string {
	return "." + c.ArtifactFormat
}

// ResolvedLedgerPath returns the ledger database path, or "" when disabled.
func (c *Config) ResolvedLedgerPath() string {
	switch c.LedgerPath {
	case "off":
		return ""
	case "":
		if c.DestRoot == "" {
			return ""
		}
		return filepath.Join(c.DestRoot, StateDir, "ledger.db")
	default:
		return c.LedgerPath
	}
}

// StateDir is the destination subdirectory holding locks and the ledger. It is
// not a month directory and is never traversed.
const StateDir = ".radargrid"

func (g Grid) toDomain() (domain.GridConfig, error) {
	if len(g.Shape) != 3 {
		return domain.GridConfig{}, errors.New("invalid GRID_SHAPE, want z,y,x")
	}
	if len(g.ZLimits) != 2 || len(g.YLimits) != 2 || len(g.XLimits) != 2 {
		return domain.GridConfig{}, errors.New("grid limits need exactly two values each")
	}
	out := domain.GridConfig{
		Shape:          [3]int{g.Shape[0], g.Shape[1], g.Shape[2]},
		VerticalLimits: [2]float64{g.ZLimits[0], g.ZLimits[1]},
		HorizontalLimits: [2][2]float64{
			{g.YLimits[0], g.YLimits[1]},
			{g.XLimits[0], g.XLimits[1]},
		},
	}
	if err := out.Validate(); err != nil {
		return domain.GridConfig{}, fmt.Errorf("invalid grid: %w", err)
	}
	return out, nil
}

func parseThreshold(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bad threshold %q", s)
	}
	return v, nil
}

func parseShard(s string) (int, int, error) {
	i, n, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("bad shard %q", s)
	}
	idx, err1 := strconv.Atoi(strings.TrimSpace(i))
	cnt, err2 := strconv.Atoi(strings.TrimSpace(n))
	if err1 != nil || err2 != nil || cnt < 1 || idx < 0 || idx >= cnt {
		return 0, 0, fmt.Errorf("bad shard %q", s)
	}
	return idx, cnt, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	parts := splitList(s)
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	parts := splitList(s)
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
