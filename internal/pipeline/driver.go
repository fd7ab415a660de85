package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/artifact"
	"github.com/couchcryptid/radar-grid-etl/internal/config"
	"github.com/couchcryptid/radar-grid-etl/internal/domain"
	"github.com/couchcryptid/radar-grid-etl/internal/observability"
)

// ErrLocked is returned when another process already drives the same shard
// into the destination tree.
var ErrLocked = errors.New("destination shard is locked by another run")

// Run statuses stored in the ledger and returned in Summary.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// defaultStaleTempAge is how old an in-progress artifact must be before a new
// run treats it as crash debris.
const defaultStaleTempAge = time.Hour

// Options configures a batch run.
type Options struct {
	SourceRoot    string
	DestRoot      string
	MonthFilter   []string // months to skip
	ScanExtension string   // recognized source extension, including the dot
	ShardIndex    int
	ShardCount    int
	StaleTempAge  time.Duration

	// Optional collaborators.
	Ledger   domain.AnomalyLedger
	Notifier domain.ArtifactNotifier
}

// Summary reports what a batch run did.
type Summary struct {
	RunID string
	domain.RunStats
	Failures []string // relative paths of failed scans
}

// BatchDriver walks SourceRoot/MM/DD, mirrors the tree under DestRoot and
// converts every scan whose artifact does not exist yet. Per-file failures are
// logged, counted and recorded; they never abort the run.
type BatchDriver struct {
	opts    Options
	proc    *ScanProcessor
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// NewBatchDriver creates a BatchDriver over proc.
func NewBatchDriver(opts Options, proc *ScanProcessor, logger *slog.Logger, metrics *observability.Metrics) *BatchDriver {
	if opts.ShardCount < 1 {
		opts.ShardIndex, opts.ShardCount = 0, 1
	}
	if opts.StaleTempAge <= 0 {
		opts.StaleTempAge = defaultStaleTempAge
	}
	if opts.ScanExtension != "" && !strings.HasPrefix(opts.ScanExtension, ".") {
		opts.ScanExtension = "." + opts.ScanExtension
	}
	return &BatchDriver{opts: opts, proc: proc, logger: logger, metrics: metrics}
}

// CheckReadiness returns nil once traversal has started.
func (d *BatchDriver) CheckReadiness(_ context.Context) error {
	if !d.ready.Load() {
		return errors.New("batch has not started traversing yet")
	}
	return nil
}

// LockPath is the lock file guarding this driver's shard of the destination tree.
func (d *BatchDriver) LockPath() string {
	return filepath.Join(d.opts.DestRoot, config.StateDir,
		fmt.Sprintf("shard-%d-of-%d.lock", d.opts.ShardIndex, d.opts.ShardCount))
}

// Run processes the whole tree. It returns an error only for conditions that
// make the run as a whole impossible; per-file failures are in the Summary.
// Cancelling ctx stops the run before the next file with status cancelled.
func (d *BatchDriver) Run(ctx context.Context) (Summary, error) {
	info, err := os.Stat(d.opts.SourceRoot)
	if err != nil {
		return Summary{}, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return Summary{}, fmt.Errorf("source root %s is not a directory", d.opts.SourceRoot)
	}
	if d.opts.ScanExtension == "" {
		return Summary{}, errors.New("scan extension is required")
	}
	if err := os.MkdirAll(filepath.Join(d.opts.DestRoot, config.StateDir), 0o755); err != nil {
		return Summary{}, &domain.FilesystemError{Op: "create dest root", Path: d.opts.DestRoot, Err: err}
	}

	lock := flock.New(d.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return Summary{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrLocked, d.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			d.logger.Warn("release lock failed", "lock", d.LockPath(), "error", err)
		}
	}()

	run := domain.RunInfo{
		ID:         uuid.NewString(),
		SourceRoot: d.opts.SourceRoot,
		DestRoot:   d.opts.DestRoot,
		Shard:      fmt.Sprintf("%d/%d", d.opts.ShardIndex, d.opts.ShardCount),
		StartedAt:  domain.Now(),
	}
	if d.opts.Ledger != nil {
		if err := d.opts.Ledger.StartRun(ctx, run); err != nil {
			return Summary{}, fmt.Errorf("start run: %w", err)
		}
	}

	d.logger.Info("batch started",
		"run_id", run.ID,
		"source_root", run.SourceRoot,
		"dest_root", run.DestRoot,
		"shard", run.Shard,
	)
	d.metrics.BatchRunning.Set(1)
	defer d.metrics.BatchRunning.Set(0)
	d.ready.Store(true)

	sum := Summary{RunID: run.ID}
	walkErr := d.walk(ctx, &sum)
	switch {
	case walkErr != nil:
		sum.Status = StatusFailed
	case ctx.Err() != nil:
		sum.Status = StatusCancelled
	default:
		sum.Status = StatusCompleted
	}

	if d.opts.Ledger != nil {
		// The run row must be closed even when ctx is already cancelled.
		finishCtx := context.WithoutCancel(ctx)
		if err := d.opts.Ledger.FinishRun(finishCtx, run.ID, sum.RunStats); err != nil {
			d.logger.Warn("finish run in ledger failed", "run_id", run.ID, "error", err)
		}
	}

	d.logger.Info("batch finished",
		"run_id", run.ID,
		"status", sum.Status,
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"fallbacks", sum.Fallbacks,
	)
	return sum, walkErr
}

// walk traverses months, days and files in lexicographic order.
func (d *BatchDriver) walk(ctx context.Context, sum *Summary) error {
	months, err := subdirs(d.opts.SourceRoot)
	if err != nil {
		return fmt.Errorf("list months: %w", err)
	}
	for _, month := range months {
		if ctx.Err() != nil {
			return nil
		}
		if config.MonthSkipped(d.opts.MonthFilter, month) {
			d.logger.Info("skipping month", "month", month)
			continue
		}
		if err := mkdir(filepath.Join(d.opts.DestRoot, month)); err != nil {
			return err
		}

		days, err := subdirs(filepath.Join(d.opts.SourceRoot, month))
		if err != nil {
			return fmt.Errorf("list days of %s: %w", month, err)
		}
		for _, day := range days {
			if ctx.Err() != nil {
				return nil
			}
			if err := d.processDay(ctx, month, day, sum); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *BatchDriver) processDay(ctx context.Context, month, day string, sum *Summary) error {
	srcDir := filepath.Join(d.opts.SourceRoot, month, day)
	destDir := filepath.Join(d.opts.DestRoot, month, day)
	if err := mkdir(destDir); err != nil {
		d.skipDay(ctx, month, day, srcDir, err, sum)
		return nil
	}

	removed, err := artifact.RemoveStaleTemps(destDir, domain.Now().Add(-d.opts.StaleTempAge))
	for _, p := range removed {
		d.logger.Info("removed stale temp file", "path", p)
	}
	if err != nil {
		d.logger.Warn("remove stale temp files", "dir", destDir, "error", err)
	}

	files, err := scanFiles(srcDir, d.opts.ScanExtension)
	if err != nil {
		return fmt.Errorf("list scans of %s/%s: %w", month, day, err)
	}
	d.logger.Info("processing day", "month", month, "day", day, "files", len(files))

	for _, name := range files {
		if ctx.Err() != nil {
			return nil
		}
		rel := month + "/" + day + "/" + name
		if !d.inShard(rel) {
			continue
		}
		job := Job{
			Source: filepath.Join(srcDir, name),
			Dest:   ArtifactPath(d.opts.DestRoot, rel, d.opts.ScanExtension, d.proc.Extension()),
			Rel:    rel,
		}
		if _, err := os.Stat(job.Dest); err == nil {
			d.logger.Debug("artifact exists, skipping", "source", rel, "dest", job.Dest)
			d.metrics.FilesSkipped.Inc()
			sum.Skipped++
			continue
		}
		d.processFile(ctx, job, month, day, sum)
	}
	return nil
}

// skipDay gives up on a day whose output directory cannot be created. Its
// scans count as write failures and the run moves on to the next day.
func (d *BatchDriver) skipDay(ctx context.Context, month, day, srcDir string, cause error, sum *Summary) {
	files, _ := scanFiles(srcDir, d.opts.ScanExtension)
	failed := 0
	for _, name := range files {
		rel := month + "/" + day + "/" + name
		if !d.inShard(rel) {
			continue
		}
		failed++
		sum.Failures = append(sum.Failures, rel)
	}
	reason, kind := classify(cause)
	sum.Failed += failed
	d.metrics.FilesFailed.WithLabelValues(reason).Add(float64(failed))

	d.logger.Error("cannot create day directory, skipping day",
		"month", month,
		"day", day,
		"files", failed,
		"error", cause,
	)
	d.recordAnomaly(ctx, sum.RunID, domain.Anomaly{
		Kind:    kind,
		Source:  month + "/" + day + "/",
		Sweep:   -1,
		Message: cause.Error(),
	})
}

func (d *BatchDriver) processFile(ctx context.Context, job Job, month, day string, sum *Summary) {
	rep, err := d.proc.Run(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed; the next run picks the file up again.
			return
		}
		reason, kind := classify(err)
		d.logger.Error("scan failed, skipping file",
			"source", job.Rel,
			"dest", job.Dest,
			"reason", reason,
			"error", err,
		)
		d.metrics.FilesFailed.WithLabelValues(reason).Inc()
		sum.Failed++
		sum.Failures = append(sum.Failures, job.Rel)
		d.recordAnomaly(ctx, sum.RunID, domain.Anomaly{Kind: kind, Source: job.Rel, Sweep: -1, Message: err.Error()})
		return
	}

	d.metrics.FilesProcessed.Inc()
	sum.Processed++
	sum.Fallbacks += len(rep.Fallbacks)
	for _, g := range rep.Fallbacks {
		d.recordAnomaly(ctx, sum.RunID, domain.Anomaly{
			Kind:    domain.AnomalyGeometryFallback,
			Source:  job.Rel,
			Sweep:   g.Sweep,
			Message: g.Reason,
		})
	}

	if d.opts.Notifier == nil {
		return
	}
	ev := domain.ArtifactEvent{
		RunID:          sum.RunID,
		Source:         job.Rel,
		Artifact:       job.Dest,
		Month:          month,
		Day:            day,
		ValidCells:     rep.ValidCells,
		FallbackSweeps: rep.FallbackSweeps(),
		ProducedAt:     domain.Now(),
	}
	if err := d.opts.Notifier.Publish(ctx, ev); err != nil {
		d.logger.Warn("artifact notification failed", "artifact", job.Dest, "error", err)
		d.metrics.NotificationsFailed.Inc()
	}
}

func (d *BatchDriver) recordAnomaly(ctx context.Context, runID string, a domain.Anomaly) {
	if d.opts.Ledger == nil {
		return
	}
	if err := d.opts.Ledger.RecordAnomaly(ctx, runID, a); err != nil {
		d.logger.Warn("record anomaly failed", "source", a.Source, "kind", a.Kind, "error", err)
	}
}

// inShard assigns rel to exactly one of ShardCount partitions.
func (d *BatchDriver) inShard(rel string) bool {
	return ShardOf(rel, d.opts.ShardCount) == d.opts.ShardIndex
}

// ShardOf returns the partition of a relative scan path among n shards.
func ShardOf(rel string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(rel))
	return int(h.Sum32() % uint32(n))
}

// ArtifactPath mirrors the relative scan path rel under destRoot, replacing
// the scan extension with the artifact extension.
func ArtifactPath(destRoot, rel, scanExt, artifactExt string) string {
	return filepath.Join(destRoot, filepath.FromSlash(strings.TrimSuffix(rel, scanExt)+artifactExt))
}

// ListScans returns the relative paths (MM/DD/name) of every scan the driver
// would visit over all shards, in processing order.
func ListScans(opts Options) ([]string, error) {
	if !strings.HasPrefix(opts.ScanExtension, ".") {
		opts.ScanExtension = "." + opts.ScanExtension
	}
	d := &BatchDriver{opts: opts}
	months, err := subdirs(opts.SourceRoot)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, month := range months {
		if config.MonthSkipped(d.opts.MonthFilter, month) {
			continue
		}
		days, err := subdirs(filepath.Join(opts.SourceRoot, month))
		if err != nil {
			return nil, err
		}
		for _, day := range days {
			files, err := scanFiles(filepath.Join(opts.SourceRoot, month, day), opts.ScanExtension)
			if err != nil {
				return nil, err
			}
			for _, name := range files {
				out = append(out, month+"/"+day+"/"+name)
			}
		}
	}
	return out, nil
}

// scanFiles lists the files in dir carrying the scan extension, sorted.
func scanFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.HasSuffix(e.Name(), ext) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// subdirs lists the non-hidden directories of dir. os.ReadDir sorts by name.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func mkdir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.FilesystemError{Op: "create dir", Path: dir, Err: err}
	}
	return nil
}
