// Package gridmap projects single radar sweeps from polar (ray, gate)
// coordinates onto a Cartesian grid centred on the radar.
//
// Each grid cell takes the value of the nearest gate on the nearest ray. Beam
// height follows the 4/3 effective-earth model, and a cell is only filled when
// the beam passes within a distance-dependent radius of influence of the
// cell's height, so cells far above or below the beam stay empty.
package gridmap

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// effectiveEarthRadius is the 4/3 earth radius used for standard refraction.
const effectiveEarthRadius = 6371000.0 * 4.0 / 3.0

// Options tunes the radius of influence and the geometry cache.
type Options struct {
	MinRadius    float64 // metres
	BeamSpread   float64 // degrees; radius grows as range*tan(BeamSpread)
	HeightFactor float64 // radius grows as HeightFactor*z/20
	CacheSize    int     // geometry tables kept
}

// DefaultOptions mirrors the usual distance-from-beam radius of influence.
func DefaultOptions() Options {
	return Options{
		MinRadius:    500,
		BeamSpread:   1.5,
		HeightFactor: 1,
		CacheSize:    16,
	}
}

// Mapper implements domain.GeoMapper.
type Mapper struct {
	opts  Options
	cache *lruCache
}

// New creates a Mapper. Zero-valued options fall back to DefaultOptions.
func New(opts Options) *Mapper {
	def := DefaultOptions()
	if opts.MinRadius <= 0 {
		opts.MinRadius = def.MinRadius
	}
	if opts.BeamSpread <= 0 {
		opts.BeamSpread = def.BeamSpread
	}
	if opts.HeightFactor <= 0 {
		opts.HeightFactor = def.HeightFactor
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	return &Mapper{opts: opts, cache: newLRUCache(opts.CacheSize)}
}

// Project grids one sweep. Degenerate sweeps yield *domain.GeometryError.
func (m *Mapper) Project(ctx context.Context, s domain.SingleSweepVolume, grid domain.GridConfig) (domain.GriddedField, error) {
	if err := grid.Validate(); err != nil {
		return domain.GriddedField{}, fmt.Errorf("project: %w", err)
	}
	if reason := checkGeometry(s); reason != "" {
		return domain.GriddedField{}, &domain.GeometryError{Source: s.Source, Sweep: s.Index, Reason: reason}
	}

	rays := newRayIndex(s.Sweep.Azimuth)
	if len(rays.order) < 2 {
		return domain.GriddedField{}, &domain.GeometryError{
			Source: s.Source, Sweep: s.Index,
			Reason: "insufficient azimuthal coverage: fewer than two distinct azimuths",
		}
	}

	table := m.geometry(grid, s.Sweep.FixedAngle, s.Range)
	ny, nx := grid.Rows(), grid.Cols()
	out := domain.NewInvalidField(ny, nx)
	refl := s.Sweep.Reflectivity

	for i := 0; i < ny; i++ {
		if err := ctx.Err(); err != nil {
			return domain.GriddedField{}, err
		}
		for j := 0; j < nx; j++ {
			cell := i*nx + j
			ray, ok := rays.nearest(table.azimuth[cell])
			if !ok {
				continue
			}
			for k := 0; k < table.nz; k++ {
				gate := table.gate[k*ny*nx+cell]
				if gate < 0 {
					continue
				}
				v, valid := refl.At(ray, int(gate))
				if !valid || math.IsNaN(v) {
					continue
				}
				if out.Mask[cell] || v > out.Data.At(i, j) {
					out.Data.Set(i, j, v)
					out.Mask[cell] = false
				}
			}
		}
	}
	return out, nil
}

func checkGeometry(s domain.SingleSweepVolume) string {
	rays := len(s.Sweep.Azimuth)
	gates := len(s.Range)
	switch {
	case rays == 0:
		return "sweep has no rays"
	case gates < 2:
		return fmt.Sprintf("sweep has %d gates, need at least 2", gates)
	case s.Sweep.Reflectivity.Rows != rays || s.Sweep.Reflectivity.Cols != gates:
		return fmt.Sprintf("reflectivity is %dx%d for %d rays and %d gates",
			s.Sweep.Reflectivity.Rows, s.Sweep.Reflectivity.Cols, rays, gates)
	case math.IsNaN(s.Sweep.FixedAngle) || math.Abs(s.Sweep.FixedAngle) >= 90:
		return fmt.Sprintf("fixed angle %v out of range", s.Sweep.FixedAngle)
	}
	for i, a := range s.Sweep.Azimuth {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return fmt.Sprintf("azimuth of ray %d is not finite", i)
		}
	}
	for g := 1; g < gates; g++ {
		if !(s.Range[g] > s.Range[g-1]) {
			return fmt.Sprintf("gate ranges are not increasing at gate %d", g)
		}
	}
	return ""
}

// geometryTable holds, per grid cell, the azimuth from the radar and, per
// level and cell, the index of the gate nearest to where the beam passes, or -1.
type geometryTable struct {
	nz      int
	azimuth []float64
	gate    []int32
}

func (m *Mapper) geometry(grid domain.GridConfig, fixedAngle float64, ranges []float64) *geometryTable {
	key := fmt.Sprintf("%v|%.4f|%d|%x", grid, fixedAngle, len(ranges), rangesHash(ranges))
	if t, ok := m.cache.get(key); ok {
		return t
	}
	t := m.buildGeometry(grid, fixedAngle, ranges)
	m.cache.put(key, t)
	return t
}

// rangesHash fingerprints the gate ranges so that sweeps whose gates differ
// anywhere, not only in the first spacing, get their own geometry.
func rangesHash(ranges []float64) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, r := range ranges {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(r))
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}

func (m *Mapper) buildGeometry(grid domain.GridConfig, fixedAngle float64, ranges []float64) *geometryTable {
	zs := domain.Axis(grid.VerticalLimits[0], grid.VerticalLimits[1], grid.Shape[0])
	ys := domain.Axis(grid.HorizontalLimits[0][0], grid.HorizontalLimits[0][1], grid.Shape[1])
	xs := domain.Axis(grid.HorizontalLimits[1][0], grid.HorizontalLimits[1][1], grid.Shape[2])
	nz, ny, nx := len(zs), len(ys), len(xs)

	t := &geometryTable{
		nz:      nz,
		azimuth: make([]float64, ny*nx),
		gate:    make([]int32, nz*ny*nx),
	}
	elev := fixedAngle * math.Pi / 180
	spread := math.Tan(m.opts.BeamSpread * math.Pi / 180)

	for i, y := range ys {
		for j, x := range xs {
			cell := i*nx + j
			t.azimuth[cell] = math.Mod(math.Atan2(x, y)*180/math.Pi+360, 360)

			s := math.Hypot(x, y)
			r, h, ok := beam(s, elev)
			g := -1
			if ok {
				if n, found := nearestGate(ranges, r); found {
					g = n
				}
			}
			for k, z := range zs {
				idx := int32(-1)
				if g >= 0 {
					roi := math.Max(m.opts.HeightFactor*z/20+s*spread, m.opts.MinRadius)
					if math.Abs(h-z) <= roi {
						idx = int32(g)
					}
				}
				t.gate[k*ny*nx+cell] = idx
			}
		}
	}
	return t
}

// nearestGate returns the index of the gate centre closest to slant range r.
// ranges must be strictly increasing with at least two gates. Ranges half a
// gate or more before the first centre or past the last have no gate; ties
// between two centres go to the farther one.
func nearestGate(ranges []float64, r float64) (int, bool) {
	n := len(ranges)
	if r <= ranges[0]-(ranges[1]-ranges[0])/2 || r >= ranges[n-1]+(ranges[n-1]-ranges[n-2])/2 {
		return 0, false
	}
	k := sort.SearchFloat64s(ranges, r)
	switch {
	case k == 0:
		return 0, true
	case k == n:
		return n - 1, true
	case ranges[k]-r <= r-ranges[k-1]:
		return k, true
	}
	return k - 1, true
}

// beam returns the slant range and height above the radar at which a beam
// at elevation elev (radians) reaches ground range s.
func beam(s, elev float64) (r, h float64, ok bool) {
	theta := s / effectiveEarthRadius
	c := math.Cos(elev + theta)
	if c <= 0 {
		return 0, 0, false
	}
	r = effectiveEarthRadius * math.Sin(theta) / c
	h = effectiveEarthRadius*math.Cos(elev)/c - effectiveEarthRadius
	return r, h, true
}

// rayIndex finds the ray nearest to an azimuth.
type rayIndex struct {
	order     []int     // ray indices sorted by azimuth, duplicates dropped
	azimuth   []float64 // azimuths in order, normalised to [0, 360)
	tolerance float64
}

func newRayIndex(az []float64) rayIndex {
	idx := make([]int, len(az))
	norm := make([]float64, len(az))
	for i, a := range az {
		idx[i] = i
		norm[i] = math.Mod(math.Mod(a, 360)+360, 360)
	}
	sort.SliceStable(idx, func(a, b int) bool { return norm[idx[a]] < norm[idx[b]] })

	ri := rayIndex{}
	for _, i := range idx {
		if n := len(ri.azimuth); n > 0 && norm[i]-ri.azimuth[n-1] < 1e-6 {
			continue
		}
		ri.order = append(ri.order, i)
		ri.azimuth = append(ri.azimuth, norm[i])
	}
	if len(ri.azimuth) < 2 {
		return ri
	}

	gaps := make([]float64, len(ri.azimuth))
	for i := 1; i < len(ri.azimuth); i++ {
		gaps[i-1] = ri.azimuth[i] - ri.azimuth[i-1]
	}
	gaps[len(gaps)-1] = ri.azimuth[0] + 360 - ri.azimuth[len(ri.azimuth)-1]
	sort.Float64s(gaps)
	median := stat.Quantile(0.5, stat.Empirical, gaps, nil)
	// Sector scans leave one large gap; it must not inflate the tolerance.
	if gaps[len(gaps)-1] > 10*median {
		gaps = gaps[:len(gaps)-1]
		median = stat.Quantile(0.5, stat.Empirical, gaps, nil)
	}
	ri.tolerance = math.Max(median, 0.1)
	return ri
}

func (ri rayIndex) nearest(az float64) (int, bool) {
	n := len(ri.azimuth)
	k := sort.SearchFloat64s(ri.azimuth, az)
	best, bestDist := -1, math.Inf(1)
	for _, c := range []int{(k - 1 + n) % n, k % n} {
		d := math.Abs(ri.azimuth[c] - az)
		d = math.Min(d, 360-d)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist > ri.tolerance {
		return 0, false
	}
	return ri.order[best], true
}

var _ domain.GeoMapper = (*Mapper)(nil)
