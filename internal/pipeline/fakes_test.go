package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
	"github.com/couchcryptid/radar-grid-etl/internal/observability"
	"github.com/couchcryptid/radar-grid-etl/internal/pipeline"
)

// --- fakes ---

// fakeDecoder serves one volume per file name. Each sweep of a volume holds a
// single constant value taken from sweeps[name]; unknown names get two sweeps
// of 20 and 30 dBZ.
type fakeDecoder struct {
	mu     sync.Mutex
	sweeps map[string][]float64
	fail   map[string]error
	block  map[string]chan struct{} // Decode waits here, ignoring ctx
	calls  []string
}

func (f *fakeDecoder) Decode(ctx context.Context, path string) (*domain.Volume, error) {
	name := filepath.Base(path)
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if ch, ok := f.block[name]; ok {
		<-ch
	}
	if err, ok := f.fail[name]; ok {
		return nil, &domain.DecodeError{Source: path, Err: err}
	}
	values, ok := f.sweeps[name]
	if !ok {
		values = []float64{20, 30}
	}
	return constantVolume(path, values...), nil
}

func (f *fakeDecoder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// constantVolume has one 4-ray, 3-gate sweep per value, every gate holding it.
func constantVolume(source string, values ...float64) *domain.Volume {
	v := &domain.Volume{Source: source, Field: "CZ", Range: []float64{500, 1500, 2500}}
	for i, val := range values {
		sw := domain.Sweep{
			Number:       i + 1,
			FixedAngle:   0.5,
			Elevation:    []float64{0.5, 0.5, 0.5, 0.5},
			Azimuth:      []float64{0, 90, 180, 270},
			Reflectivity: domain.NewMaskedArray(4, 3),
		}
		for r := 0; r < 4; r++ {
			for g := 0; g < 3; g++ {
				sw.Reflectivity.Set(r, g, val)
			}
		}
		v.Sweeps = append(v.Sweeps, sw)
	}
	return v
}

// fakeMapper fills every grid cell with the largest valid gate of the sweep.
type fakeMapper struct {
	mu         sync.Mutex
	failSweeps map[int]bool
	err        error // unexpected, non-geometry error
	seen       []float64
}

func (m *fakeMapper) Project(ctx context.Context, s domain.SingleSweepVolume, grid domain.GridConfig) (domain.GriddedField, error) {
	if err := ctx.Err(); err != nil {
		return domain.GriddedField{}, err
	}
	if m.err != nil {
		return domain.GriddedField{}, m.err
	}
	if m.failSweeps[s.Index] {
		return domain.GriddedField{}, &domain.GeometryError{
			Source: s.Source, Sweep: s.Index, Reason: "insufficient azimuthal coverage",
		}
	}

	top := math.Inf(-1)
	refl := s.Sweep.Reflectivity
	for i, v := range refl.Data {
		if !refl.Mask[i] && v > top {
			top = v
		}
	}
	m.mu.Lock()
	m.seen = append(m.seen, top)
	m.mu.Unlock()

	rows, cols := grid.Rows(), grid.Cols()
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = top
	}
	return domain.GriddedField{Data: mat.NewDense(rows, cols, data), Mask: make([]bool, rows*cols)}, nil
}

// fakeWriter stores results in memory and drops a marker file at the path.
type fakeWriter struct {
	mu      sync.Mutex
	fail    map[string]bool // by artifact base name
	results map[string]domain.ScanResult
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{fail: map[string]bool{}, results: map[string]domain.ScanResult{}}
}

func (w *fakeWriter) Extension() string { return ".npz" }

func (w *fakeWriter) Write(ctx context.Context, path string, res domain.ScanResult) error {
	if err := ctx.Err(); err != nil {
		return &domain.FilesystemError{Op: "write", Path: path, Err: err}
	}
	if w.fail[filepath.Base(path)] {
		return &domain.FilesystemError{Op: "rename", Path: path, Err: os.ErrPermission}
	}
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		return &domain.FilesystemError{Op: "write", Path: path, Err: err}
	}
	w.mu.Lock()
	w.results[path] = res
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) result(path string) (domain.ScanResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.results[path]
	return r, ok
}

type fakeLedger struct {
	mu        sync.Mutex
	runs      []domain.RunInfo
	finished  map[string]domain.RunStats
	anomalies []domain.Anomaly
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{finished: map[string]domain.RunStats{}}
}

func (l *fakeLedger) StartRun(_ context.Context, run domain.RunInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return nil
}

func (l *fakeLedger) RecordAnomaly(_ context.Context, _ string, a domain.Anomaly) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.anomalies = append(l.anomalies, a)
	return nil
}

func (l *fakeLedger) FinishRun(_ context.Context, runID string, stats domain.RunStats) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished[runID] = stats
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	events []domain.ArtifactEvent
}

func (n *fakeNotifier) Publish(_ context.Context, ev domain.ArtifactEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGrid() domain.GridConfig {
	return domain.GridConfig{
		Shape:            [3]int{1, 4, 4},
		VerticalLimits:   [2]float64{0, 2000},
		HorizontalLimits: [2][2]float64{{-1000, 1000}, {-1000, 1000}},
	}
}

func newProcessor(d domain.RadarDecoder, m domain.GeoMapper, w domain.ArtifactWriter, metrics *observability.Metrics) *pipeline.ScanProcessor {
	cfg := pipeline.ProcessorConfig{Grid: testGrid(), Threshold: 5}
	return pipeline.NewScanProcessor(d, m, w, cfg, discardLogger(), metrics)
}

// writeTree creates empty scan files under root at the given relative paths.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("scan"), 0o644))
	}
}
