package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
	"github.com/couchcryptid/radar-grid-etl/internal/observability"
)

// ErrFileTimeout marks a scan that did not finish within the per-file watchdog.
var ErrFileTimeout = errors.New("file processing timed out")

// ProcessorConfig holds the per-scan settings.
type ProcessorConfig struct {
	Grid      domain.GridConfig
	Threshold float64       // dBZ; NaN disables masking
	Timeout   time.Duration // per-file watchdog; 0 disables
}

// Job is one scan to convert.
type Job struct {
	Source string // path of the scan file
	Dest   string // artifact path
	Rel    string // source path relative to the source root, used in logs and records
}

// Report describes a converted scan.
type Report struct {
	Job
	ValidCells int
	Fallbacks  []*domain.GeometryError
	Duration   time.Duration
}

// FallbackSweeps lists the sweep indices that were replaced by an all-invalid field.
func (r Report) FallbackSweeps() []int {
	out := make([]int, len(r.Fallbacks))
	for i, g := range r.Fallbacks {
		out[i] = g.Sweep
	}
	return out
}

// ScanProcessor converts one scan file into one artifact: decode, mask,
// grid every sweep, reduce, write.
type ScanProcessor struct {
	decoder domain.RadarDecoder
	mapper  domain.GeoMapper
	writer  domain.ArtifactWriter
	cfg     ProcessorConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScanProcessor creates a ScanProcessor with the given stages and observability.
func NewScanProcessor(d domain.RadarDecoder, m domain.GeoMapper, w domain.ArtifactWriter, cfg ProcessorConfig, logger *slog.Logger, metrics *observability.Metrics) *ScanProcessor {
	return &ScanProcessor{
		decoder: d,
		mapper:  m,
		writer:  w,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Extension is the extension of the artifacts this processor writes.
func (p *ScanProcessor) Extension() string { return p.writer.Extension() }

// Process converts src into the artifact dest.
func (p *ScanProcessor) Process(ctx context.Context, src, dest string) (Report, error) {
	return p.Run(ctx, Job{Source: src, Dest: dest, Rel: filepath.Base(src)})
}

// Run converts one job under the per-file watchdog. A job that outlives the
// watchdog returns an error wrapping ErrFileTimeout; its context is cancelled
// so a late artifact write is abandoned.
func (p *ScanProcessor) Run(ctx context.Context, job Job) (Report, error) {
	if p.cfg.Timeout <= 0 {
		return p.process(ctx, job)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, p.cfg.Timeout, ErrFileTimeout)
	defer cancel()

	type outcome struct {
		rep Report
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rep, err := p.process(ctx, job)
		done <- outcome{rep, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(context.Cause(ctx), ErrFileTimeout) {
			return o.rep, fmt.Errorf("process %s after %s: %w", job.Rel, p.cfg.Timeout, ErrFileTimeout)
		}
		return o.rep, o.err
	case <-ctx.Done():
		// Prefer a result that arrived together with the deadline.
		select {
		case o := <-done:
			if o.err == nil {
				return o.rep, nil
			}
		default:
		}
		if errors.Is(context.Cause(ctx), ErrFileTimeout) {
			return Report{Job: job}, fmt.Errorf("process %s after %s: %w", job.Rel, p.cfg.Timeout, ErrFileTimeout)
		}
		return Report{Job: job}, ctx.Err()
	}
}

func (p *ScanProcessor) process(ctx context.Context, job Job) (Report, error) {
	start := time.Now()
	rep := Report{Job: job}

	vol, err := p.decoder.Decode(ctx, job.Source)
	if err != nil {
		return rep, err
	}
	domain.ApplyThreshold(vol, p.cfg.Threshold)

	rows, cols := p.cfg.Grid.Rows(), p.cfg.Grid.Cols()
	reducer := domain.NewMaxReducer(rows, cols)
	for i := range vol.SweepCount() {
		sweep, err := domain.ExtractSweep(vol, i)
		if err != nil {
			return rep, fmt.Errorf("extract sweep %d: %w", i, err)
		}

		field, err := p.mapper.Project(ctx, sweep, p.cfg.Grid)
		var geomErr *domain.GeometryError
		switch {
		case errors.As(err, &geomErr):
			p.logger.Warn("geometry fallback",
				"source", job.Rel,
				"sweep", i,
				"error", geomErr.Reason,
			)
			p.metrics.GeometryFallbacks.Inc()
			rep.Fallbacks = append(rep.Fallbacks, geomErr)
			reducer.AddFallback(i)
			field = domain.NewInvalidField(rows, cols)
		case err != nil:
			return rep, fmt.Errorf("grid sweep %d: %w", i, err)
		default:
			p.metrics.SweepsGridded.Inc()
		}

		if err := reducer.Add(field); err != nil {
			return rep, fmt.Errorf("reduce sweep %d: %w", i, err)
		}
	}

	res := reducer.Result()
	res.Source = job.Rel
	if err := p.writer.Write(ctx, job.Dest, res); err != nil {
		return rep, err
	}

	rep.ValidCells = res.ValidCells()
	rep.Duration = time.Since(start)
	p.metrics.FileProcessingTime.Observe(rep.Duration.Seconds())
	p.logger.Debug("scan converted",
		"source", job.Rel,
		"dest", job.Dest,
		"sweeps", vol.SweepCount(),
		"valid_cells", rep.ValidCells,
		"duration", rep.Duration,
	)
	return rep, nil
}

// classify maps a per-file error to its metrics reason and anomaly kind.
func classify(err error) (string, domain.AnomalyKind) {
	var (
		decodeErr *domain.DecodeError
		fsErr     *domain.FilesystemError
	)
	switch {
	case errors.Is(err, ErrFileTimeout):
		return observability.ReasonTimeout, domain.AnomalyTimeout
	case errors.As(err, &decodeErr):
		return observability.ReasonDecode, domain.AnomalyDecode
	case errors.As(err, &fsErr):
		return observability.ReasonWrite, domain.AnomalyWrite
	default:
		return observability.ReasonOther, domain.AnomalyOther
	}
}
