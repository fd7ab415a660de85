package domain

import (
	"fmt"
	"math"
)

// Site describes where the radar antenna is.
type Site struct {
	Name      string
	Latitude  float64 // degrees north
	Longitude float64 // degrees east
	Altitude  float64 // metres above sea level
}

// MaskedArray is a rows×cols array of physical values with a validity mask.
// Mask[i] is true when Data[i] holds no usable measurement.
type MaskedArray struct {
	Rows int
	Cols int
	Data []float64
	Mask []bool
}

// NewMaskedArray allocates a rows×cols array with every cell invalid.
func NewMaskedArray(rows, cols int) MaskedArray {
	m := MaskedArray{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
		Mask: make([]bool, rows*cols),
	}
	for i := range m.Mask {
		m.Mask[i] = true
	}
	return m
}

// At returns the value at (r, c) and whether it is valid.
func (m MaskedArray) At(r, c int) (float64, bool) {
	i := r*m.Cols + c
	return m.Data[i], !m.Mask[i]
}

// Set stores a valid value at (r, c).
func (m MaskedArray) Set(r, c int, v float64) {
	i := r*m.Cols + c
	m.Data[i] = v
	m.Mask[i] = false
}

// Clone returns a deep copy.
func (m MaskedArray) Clone() MaskedArray {
	out := MaskedArray{Rows: m.Rows, Cols: m.Cols}
	out.Data = append([]float64(nil), m.Data...)
	out.Mask = append([]bool(nil), m.Mask...)
	return out
}

// Sweep is one azimuthal rotation at a fixed elevation.
type Sweep struct {
	Number       int
	FixedAngle   float64   // degrees
	Elevation    []float64 // per ray, degrees
	Azimuth      []float64 // per ray, degrees
	Reflectivity MaskedArray
}

// Rays returns the number of rays in the sweep.
func (s Sweep) Rays() int { return len(s.Azimuth) }

// clone returns a deep copy of the sweep.
func (s Sweep) clone() Sweep {
	out := s
	out.Elevation = append([]float64(nil), s.Elevation...)
	out.Azimuth = append([]float64(nil), s.Azimuth...)
	out.Reflectivity = s.Reflectivity.Clone()
	return out
}

// Volume is one decoded radar scan: an ordered sequence of sweeps sharing a
// site and gate geometry.
type Volume struct {
	Source string // path the volume was decoded from
	Site   Site
	Field  string    // name of the reflectivity field in the source
	Range  []float64 // gate centre ranges, metres
	Sweeps []Sweep
}

// SweepCount returns the number of sweeps in the volume.
func (v *Volume) SweepCount() int { return len(v.Sweeps) }

// Validate checks the structural invariants every decoder must uphold: at least
// one sweep, and for every sweep a reflectivity array of rays × gates matching
// its azimuth array.
func (v *Volume) Validate() error {
	if len(v.Sweeps) == 0 {
		return fmt.Errorf("volume has no sweeps")
	}
	for i, s := range v.Sweeps {
		if s.Reflectivity.Rows != len(s.Azimuth) {
			return fmt.Errorf("sweep %d: %d reflectivity rows for %d azimuths", i, s.Reflectivity.Rows, len(s.Azimuth))
		}
		if s.Reflectivity.Cols != len(v.Range) {
			return fmt.Errorf("sweep %d: %d reflectivity gates for %d ranges", i, s.Reflectivity.Cols, len(v.Range))
		}
		if len(s.Reflectivity.Data) != s.Reflectivity.Rows*s.Reflectivity.Cols ||
			len(s.Reflectivity.Mask) != len(s.Reflectivity.Data) {
			return fmt.Errorf("sweep %d: reflectivity storage does not match %dx%d", i, s.Reflectivity.Rows, s.Reflectivity.Cols)
		}
	}
	return nil
}

// SingleSweepVolume is a volume restricted to exactly one sweep.
type SingleSweepVolume struct {
	Source string
	Index  int // index of the sweep in the originating volume
	Site   Site
	Field  string
	Range  []float64
	Sweep  Sweep
}

// ExtractSweep builds the single-sweep volume for sweep idx.
//
// The result is a copy of sweep 0 with its reflectivity and azimuth replaced by
// those of sweep idx. Everything else, including the fixed angle and per-ray
// elevations, stays as in sweep 0, so every sweep of a scan is projected with
// the same beam geometry.
func ExtractSweep(v *Volume, idx int) (SingleSweepVolume, error) {
	if idx < 0 || idx >= len(v.Sweeps) {
		return SingleSweepVolume{}, fmt.Errorf("sweep index %d out of range [0, %d)", idx, len(v.Sweeps))
	}
	tmpl := v.Sweeps[0].clone()
	src := v.Sweeps[idx]
	tmpl.Number = src.Number
	tmpl.Azimuth = append([]float64(nil), src.Azimuth...)
	tmpl.Reflectivity = src.Reflectivity.Clone()

	return SingleSweepVolume{
		Source: v.Source,
		Index:  idx,
		Site:   v.Site,
		Field:  v.Field,
		Range:  append([]float64(nil), v.Range...),
		Sweep:  tmpl,
	}, nil
}

// ApplyThreshold suppresses low reflectivity across every sweep of v in place.
// Cells below threshold, and cells already invalid, become valid zeros, so the
// threshold removes noise without carrying mask semantics into gridding.
// A NaN threshold disables masking entirely.
func ApplyThreshold(v *Volume, threshold float64) {
	if math.IsNaN(threshold) {
		return
	}
	for s := range v.Sweeps {
		r := v.Sweeps[s].Reflectivity
		for i, val := range r.Data {
			if r.Mask[i] || val < threshold {
				r.Data[i] = 0
			}
			r.Mask[i] = false
		}
	}
}
