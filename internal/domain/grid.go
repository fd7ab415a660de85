package domain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// GridConfig fixes the Cartesian grid every sweep is projected onto.
type GridConfig struct {
	Shape            [3]int        // z, y, x
	VerticalLimits   [2]float64    // z min/max, metres
	HorizontalLimits [2][2]float64 // {y min/max}, {x min/max}, metres
}

// DefaultGridConfig returns the 1×256×256 grid spanning ±128 km and 0–2000 m.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		Shape:          [3]int{1, 256, 256},
		VerticalLimits: [2]float64{0, 2000},
		HorizontalLimits: [2][2]float64{
			{-128000, 128000},
			{-128000, 128000},
		},
	}
}

// Rows is the number of y cells.
func (g GridConfig) Rows() int { return g.Shape[1] }

// Cols is the number of x cells.
func (g GridConfig) Cols() int { return g.Shape[2] }

// Validate checks shape and limits.
func (g GridConfig) Validate() error {
	for i, n := range g.Shape {
		if n <= 0 {
			return fmt.Errorf("grid shape axis %d must be positive, got %d", i, n)
		}
	}
	if g.VerticalLimits[1] < g.VerticalLimits[0] {
		return fmt.Errorf("grid vertical limits inverted: %v", g.VerticalLimits)
	}
	for i, l := range g.HorizontalLimits {
		if l[1] <= l[0] {
			return fmt.Errorf("grid horizontal limits axis %d inverted: %v", i, l)
		}
	}
	return nil
}

// Axis returns the cell-centre coordinates along an axis, evenly spaced from
// lo to hi inclusive. A single-cell axis sits at lo.
func Axis(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// GriddedField is one sweep projected onto the grid: a y×x matrix of values and
// a row-major mask, true where the cell has no data.
type GriddedField struct {
	Data *mat.Dense
	Mask []bool
}

// NewInvalidField returns a rows×cols field with every cell masked. It is the
// fallback substituted for a sweep whose geometry cannot be projected.
func NewInvalidField(rows, cols int) GriddedField {
	mask := make([]bool, rows*cols)
	for i := range mask {
		mask[i] = true
	}
	return GriddedField{Data: mat.NewDense(rows, cols, nil), Mask: mask}
}

// Dims returns the field's rows and cols.
func (f GriddedField) Dims() (int, int) { return f.Data.Dims() }

// ValidCells counts unmasked cells.
func (f GriddedField) ValidCells() int {
	n := 0
	for _, m := range f.Mask {
		if !m {
			n++
		}
	}
	return n
}

// ScanResult is the reduced product for one scan.
type ScanResult struct {
	Source string // scan the result was reduced from, relative to the source root

	Data *mat.Dense
	Mask []bool // row-major, true = no valid observation in any sweep

	// FallbackSweeps lists sweep indices replaced by an all-invalid field.
	FallbackSweeps []int
}

// Dims returns the result's rows and cols.
func (r ScanResult) Dims() (int, int) { return r.Data.Dims() }

// ValidCells counts unmasked cells.
func (r ScanResult) ValidCells() int {
	n := 0
	for _, m := range r.Mask {
		if !m {
			n++
		}
	}
	return n
}

// MaskBytes returns the mask as 0/1 bytes, the storage form used by artifacts.
func (r ScanResult) MaskBytes() []byte {
	out := make([]byte, len(r.Mask))
	for i, m := range r.Mask {
		if m {
			out[i] = 1
		}
	}
	return out
}
