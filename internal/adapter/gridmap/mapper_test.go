package gridmap

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// smallGrid has cell centres at -40, -20, 0, 20, 40 km on both axes.
func smallGrid() domain.GridConfig {
	return domain.GridConfig{
		Shape:            [3]int{1, 5, 5},
		VerticalLimits:   [2]float64{0, 2000},
		HorizontalLimits: [2][2]float64{{-40000, 40000}, {-40000, 40000}},
	}
}

// fullSweep builds a 360-ray sweep at 0.5 degrees with gates every 1 km from
// 500 m. Rays within 10 degrees of north read 50 dBZ, all others 10 dBZ.
func fullSweep(gates int) domain.SingleSweepVolume {
	rng := make([]float64, gates)
	for g := range rng {
		rng[g] = 500 + float64(g)*1000
	}
	az := make([]float64, 360)
	refl := domain.NewMaskedArray(360, gates)
	for r := range az {
		az[r] = float64(r)
		v := 10.0
		if r <= 10 || r >= 350 {
			v = 50
		}
		for g := 0; g < gates; g++ {
			refl.Set(r, g, v)
		}
	}
	return domain.SingleSweepVolume{
		Source: "01/09/aaa.uf",
		Index:  0,
		Range:  rng,
		Sweep: domain.Sweep{
			FixedAngle:   0.5,
			Azimuth:      az,
			Reflectivity: refl,
		},
	}
}

func TestProject_DefaultGridShape(t *testing.T) {
	m := New(DefaultOptions())

	out, err := m.Project(context.Background(), fullSweep(100), domain.DefaultGridConfig())
	require.NoError(t, err)

	rows, cols := out.Dims()
	assert.Equal(t, 256, rows)
	assert.Equal(t, 256, cols)
	assert.Len(t, out.Mask, 256*256)
	assert.Positive(t, out.ValidCells())
	// Corners are ~181 km out, beyond the last gate at 99.5 km.
	assert.True(t, out.Mask[0])
	assert.True(t, out.Mask[256*256-1])
}

func TestProject_PicksNearestRay(t *testing.T) {
	m := New(DefaultOptions())

	out, err := m.Project(context.Background(), fullSweep(100), smallGrid())
	require.NoError(t, err)

	north, ok := cell(out, 4, 2)
	require.True(t, ok)
	assert.InDelta(t, 50.0, north, 1e-9)

	south, ok := cell(out, 0, 2)
	require.True(t, ok)
	assert.InDelta(t, 10.0, south, 1e-9)

	// The radar itself is closer than half a gate to the first gate centre.
	_, ok = cell(out, 2, 2)
	assert.False(t, ok)
}

func TestProject_BeyondLastGateIsMasked(t *testing.T) {
	m := New(DefaultOptions())

	out, err := m.Project(context.Background(), fullSweep(30), smallGrid())
	require.NoError(t, err)

	_, ok := cell(out, 3, 2) // 20 km
	assert.True(t, ok)
	_, ok = cell(out, 4, 2) // 40 km, last gate at 29.5 km
	assert.False(t, ok)
}

func TestProject_BeamAboveGridIsMasked(t *testing.T) {
	s := fullSweep(100)
	s.Sweep.FixedAngle = 20 // ~14.6 km up at 40 km range

	out, err := New(DefaultOptions()).Project(context.Background(), s, smallGrid())
	require.NoError(t, err)

	_, ok := cell(out, 4, 2)
	assert.False(t, ok)
}

func TestProject_MaskedGatesStayMasked(t *testing.T) {
	s := fullSweep(100)
	for g := 0; g < 100; g++ {
		s.Sweep.Reflectivity.Mask[0*100+g] = true
	}

	out, err := New(DefaultOptions()).Project(context.Background(), s, smallGrid())
	require.NoError(t, err)

	_, ok := cell(out, 4, 2) // due north reads ray 0
	assert.False(t, ok)
}

func TestProject_GeometryErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.SingleSweepVolume)
		want   string
	}{
		{
			name: "single ray",
			mutate: func(s *domain.SingleSweepVolume) {
				s.Sweep.Azimuth = []float64{0}
				s.Sweep.Reflectivity = domain.NewMaskedArray(1, len(s.Range))
			},
			want: "azimuthal coverage",
		},
		{
			name: "duplicate azimuths",
			mutate: func(s *domain.SingleSweepVolume) {
				s.Sweep.Azimuth = []float64{45, 45, 45}
				s.Sweep.Reflectivity = domain.NewMaskedArray(3, len(s.Range))
			},
			want: "azimuthal coverage",
		},
		{
			name:   "no rays",
			mutate: func(s *domain.SingleSweepVolume) { s.Sweep.Azimuth = nil },
			want:   "no rays",
		},
		{
			name: "data shape mismatch",
			mutate: func(s *domain.SingleSweepVolume) {
				s.Sweep.Azimuth = s.Sweep.Azimuth[:359]
			},
			want: "reflectivity is 360x100",
		},
		{
			name:   "nan azimuth",
			mutate: func(s *domain.SingleSweepVolume) { s.Sweep.Azimuth[7] = math.NaN() },
			want:   "ray 7",
		},
		{
			name: "decreasing ranges",
			mutate: func(s *domain.SingleSweepVolume) {
				s.Range[1] = s.Range[0]
			},
			want: "not increasing",
		},
		{
			name: "ranges out of order past the first gate",
			mutate: func(s *domain.SingleSweepVolume) {
				s.Range[60] = s.Range[10]
			},
			want: "not increasing at gate 60",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := fullSweep(100)
			s.Index = 4
			tc.mutate(&s)

			_, err := New(DefaultOptions()).Project(context.Background(), s, smallGrid())

			var geoErr *domain.GeometryError
			require.True(t, errors.As(err, &geoErr), "want GeometryError, got %v", err)
			assert.Equal(t, 4, geoErr.Sweep)
			assert.Equal(t, "01/09/aaa.uf", geoErr.Source)
			assert.Contains(t, geoErr.Reason, tc.want)
		})
	}
}

func TestProject_CachesGeometry(t *testing.T) {
	m := New(Options{CacheSize: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Project(ctx, fullSweep(100), smallGrid())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, m.cache.len())

	s := fullSweep(100)
	s.Sweep.FixedAngle = 1.5
	_, err := m.Project(ctx, s, smallGrid())
	require.NoError(t, err)
	assert.Equal(t, 2, m.cache.len())
}

// unevenSweep has ten gates every 1 km from 500 m, then sparse gates out to
// 50 km. Each gate reads 100 plus its index.
func unevenSweep() domain.SingleSweepVolume {
	s := fullSweep(15)
	s.Range = []float64{500, 1500, 2500, 3500, 4500, 5500, 6500, 7500, 8500, 9500, 14000, 20100, 30000, 40000, 50000}
	for r := range s.Sweep.Azimuth {
		for g := range s.Range {
			s.Sweep.Reflectivity.Set(r, g, 100+float64(g))
		}
	}
	return s
}

func TestProject_UnevenGateSpacing(t *testing.T) {
	m := New(DefaultOptions())

	out, err := m.Project(context.Background(), unevenSweep(), smallGrid())
	require.NoError(t, err)

	// 20 km east sits beyond the evenly spaced gates but next to the 20.1 km one.
	v, ok := cell(out, 2, 3)
	require.True(t, ok)
	assert.Equal(t, 111.0, v)

	v, ok = cell(out, 2, 4)
	require.True(t, ok)
	assert.Equal(t, 113.0, v)
}

func TestProject_GeometryCachedPerRangeLayout(t *testing.T) {
	m := New(DefaultOptions())
	ctx := context.Background()

	_, err := m.Project(ctx, fullSweep(15), smallGrid())
	require.NoError(t, err)
	_, err = m.Project(ctx, unevenSweep(), smallGrid())
	require.NoError(t, err)
	assert.Equal(t, 2, m.cache.len(), "same first spacing and gate count, different ranges")
}

func TestNearestGate(t *testing.T) {
	ranges := []float64{1000, 2000, 4000, 8000}
	cases := []struct {
		r    float64
		want int
		ok   bool
	}{
		{r: 400, ok: false},
		{r: 500, ok: false},
		{r: 501, want: 0, ok: true},
		{r: 1000, want: 0, ok: true},
		{r: 1499, want: 0, ok: true},
		{r: 1500, want: 1, ok: true},
		{r: 2900, want: 1, ok: true},
		{r: 3100, want: 2, ok: true},
		{r: 7000, want: 3, ok: true},
		{r: 9999, want: 3, ok: true},
		{r: 10000, ok: false},
	}
	for _, tc := range cases {
		got, ok := nearestGate(ranges, tc.r)
		assert.Equal(t, tc.ok, ok, "r=%v", tc.r)
		if tc.ok {
			assert.Equal(t, tc.want, got, "r=%v", tc.r)
		}
	}
}

func TestProject_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultOptions()).Project(ctx, fullSweep(100), smallGrid())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBeam(t *testing.T) {
	r, h, ok := beam(0, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.0, r, 1e-9)
	assert.InDelta(t, 0.0, h, 1e-9)

	// Level beam at 100 km rises ~589 m from earth curvature alone.
	r, h, ok = beam(100000, 0)
	require.True(t, ok)
	assert.InDelta(t, 100000.0, r, 10)
	assert.InDelta(t, 589.0, h, 5)

	_, _, ok = beam(1000, math.Pi/2)
	assert.False(t, ok)
}

func TestRayIndex_WrapsAroundNorth(t *testing.T) {
	ri := newRayIndex([]float64{359.5, 0.5, 1.5, 358.5})

	ray, ok := ri.nearest(359.9)
	require.True(t, ok)
	assert.Equal(t, 0, ray)

	ray, ok = ri.nearest(0.2)
	require.True(t, ok)
	assert.Equal(t, 1, ray)

	_, ok = ri.nearest(180)
	assert.False(t, ok)
}

func cell(f domain.GriddedField, i, j int) (float64, bool) {
	_, cols := f.Dims()
	return f.Data.At(i, j), !f.Mask[i*cols+j]
}
