package domain

import (
	"context"
	"time"
)

// RadarDecoder turns a source file into a Volume.
type RadarDecoder interface {
	// Decode reads path. Failures are returned as *DecodeError.
	Decode(ctx context.Context, path string) (*Volume, error)
}

// GeoMapper projects a single sweep onto the grid.
type GeoMapper interface {
	// Project returns the gridded sweep. A sweep whose geometry cannot be
	// projected yields a *GeometryError; other errors are unexpected.
	Project(ctx context.Context, sweep SingleSweepVolume, grid GridConfig) (GriddedField, error)
}

// ArtifactWriter persists scan results. After Write returns, path holds either
// the complete artifact or nothing new.
type ArtifactWriter interface {
	Write(ctx context.Context, path string, res ScanResult) error
	// Extension is the artifact file extension, including the dot.
	Extension() string
}

// AnomalyKind classifies a recorded per-file anomaly.
type AnomalyKind string

const (
	AnomalyGeometryFallback AnomalyKind = "geometry_fallback"
	AnomalyDecode           AnomalyKind = "decode"
	AnomalyWrite            AnomalyKind = "write"
	AnomalyTimeout          AnomalyKind = "timeout"
	AnomalyOther            AnomalyKind = "other"
)

// Anomaly is a per-file event worth re-investigating after the batch.
// Sweep is -1 when the anomaly is not tied to a sweep.
type Anomaly struct {
	Kind       AnomalyKind
	Source     string
	Sweep      int
	Message    string
	RecordedAt time.Time
}

// ArtifactEvent announces an artifact written for a source scan.
type ArtifactEvent struct {
	RunID          string    `json:"run_id"`
	Source         string    `json:"source"`
	Artifact       string    `json:"artifact"`
	Month          string    `json:"month"`
	Day            string    `json:"day"`
	ValidCells     int       `json:"valid_cells"`
	FallbackSweeps []int     `json:"fallback_sweeps"`
	ProducedAt     time.Time `json:"produced_at"`
}

// RunInfo identifies one batch run.
type RunInfo struct {
	ID         string
	SourceRoot string
	DestRoot   string
	Shard      string
	StartedAt  time.Time
}

// RunStats are the counters of a finished run.
type RunStats struct {
	Processed int
	Skipped   int
	Failed    int
	Fallbacks int
	Status    string // completed, cancelled or failed
}

// AnomalyLedger keeps a durable record of runs and the anomalies they hit.
type AnomalyLedger interface {
	StartRun(ctx context.Context, run RunInfo) error
	RecordAnomaly(ctx context.Context, runID string, a Anomaly) error
	FinishRun(ctx context.Context, runID string, stats RunStats) error
}

// ArtifactNotifier announces written artifacts to downstream consumers.
type ArtifactNotifier interface {
	Publish(ctx context.Context, ev ArtifactEvent) error
}
