package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxReducer keeps the running per-cell maximum of gridded sweeps.
//
// The accumulator starts at zero. Masked cells never take part in the
// comparison, so the result does not depend on the order sweeps are added.
type MaxReducer struct {
	acc       *mat.Dense
	seen      []bool
	fallbacks []int
}

// NewMaxReducer creates a reducer for a rows×cols grid.
func NewMaxReducer(rows, cols int) *MaxReducer {
	return &MaxReducer{
		acc:  mat.NewDense(rows, cols, nil),
		seen: make([]bool, rows*cols),
	}
}

// Add folds one gridded field into the running maximum.
func (r *MaxReducer) Add(f GriddedField) error {
	rows, cols := r.acc.Dims()
	fr, fc := f.Dims()
	if fr != rows || fc != cols || len(f.Mask) != rows*cols {
		return fmt.Errorf("reduce: field is %dx%d, accumulator is %dx%d", fr, fc, rows, cols)
	}
	r.acc.Apply(func(i, j int, v float64) float64 {
		k := i*cols + j
		if f.Mask[k] {
			return v
		}
		fv := f.Data.At(i, j)
		if math.IsNaN(fv) {
			return v
		}
		r.seen[k] = true
		return math.Max(v, fv)
	}, r.acc)
	return nil
}

// AddFallback records that sweep idx was replaced by an all-invalid field.
func (r *MaxReducer) AddFallback(idx int) {
	r.fallbacks = append(r.fallbacks, idx)
}

// Result returns the reduced scan. A cell is masked only if no added field had
// a valid value there.
func (r *MaxReducer) Result() ScanResult {
	mask := make([]bool, len(r.seen))
	for i, s := range r.seen {
		mask[i] = !s
	}
	return ScanResult{
		Data:           mat.DenseCopyOf(r.acc),
		Mask:           mask,
		FallbackSweeps: append([]int(nil), r.fallbacks...),
	}
}

// Reduce folds fields into a single rows×cols result.
func Reduce(rows, cols int, fields ...GriddedField) (ScanResult, error) {
	r := NewMaxReducer(rows, cols)
	for i, f := range fields {
		if err := r.Add(f); err != nil {
			return ScanResult{}, fmt.Errorf("field %d: %w", i, err)
		}
	}
	return r.Result(), nil
}
