package artifact

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ctessum/cdf"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// NetCDFWriter writes ScanResults as NetCDF classic files with y and x
// coordinate variables taken from Grid.
type NetCDFWriter struct {
	Grid domain.GridConfig
}

// Extension implements domain.ArtifactWriter.
func (NetCDFWriter) Extension() string { return ".nc" }

// Write implements domain.ArtifactWriter.
func (w NetCDFWriter) Write(ctx context.Context, path string, res domain.ScanResult) error {
	rows, cols := res.Dims()
	if rows != w.Grid.Rows() || cols != w.Grid.Cols() {
		return fmt.Errorf("write %s: result is %dx%d, grid is %dx%d", path, rows, cols, w.Grid.Rows(), w.Grid.Cols())
	}
	if len(res.Mask) != rows*cols {
		return fmt.Errorf("write %s: mask has %d cells, want %d", path, len(res.Mask), rows*cols)
	}

	h := cdf.NewHeader([]string{"y", "x"}, []int{rows, cols})
	h.AddAttribute("", "source", res.Source)
	h.AddAttribute("", "created_at", domain.Now().Format(time.RFC3339))
	if len(res.FallbackSweeps) > 0 {
		fb := make([]int32, len(res.FallbackSweeps))
		for i, s := range res.FallbackSweeps {
			fb[i] = int32(s)
		}
		h.AddAttribute("", "fallback_sweeps", fb)
	}
	h.AddVariable("y", []string{"y"}, []float64{0})
	h.AddAttribute("y", "units", "m")
	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddAttribute("x", "units", "m")
	h.AddVariable("data", []string{"y", "x"}, []float64{0})
	h.AddAttribute("data", "units", "dBZ")
	h.AddAttribute("data", "long_name", "column maximum reflectivity")
	h.AddVariable("mask", []string{"y", "x"}, []uint8{0})
	h.AddAttribute("mask", "flag_meanings", "valid no_data")
	h.Define()

	ys := domain.Axis(w.Grid.HorizontalLimits[0][0], w.Grid.HorizontalLimits[0][1], rows)
	xs := domain.Axis(w.Grid.HorizontalLimits[1][0], w.Grid.HorizontalLimits[1][1], cols)
	data := mat.DenseCopyOf(res.Data).RawMatrix().Data

	return writeAtomic(ctx, path, func(fh *os.File) error {
		f, err := cdf.Create(fh, h)
		if err != nil {
			return err
		}
		vars := []struct {
			name string
			val  any
		}{
			{"y", ys},
			{"x", xs},
			{"data", data},
			{"mask", res.MaskBytes()},
		}
		for _, v := range vars {
			if _, err := f.Writer(v.name, nil, nil).Write(v.val); err != nil {
				return fmt.Errorf("variable %s: %w", v.name, err)
			}
		}
		return nil
	})
}

// ReadNetCDF loads an artifact written by NetCDFWriter.
func ReadNetCDF(path string) (domain.ScanResult, error) {
	fh, err := os.Open(path)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()
	f, err := cdf.Open(fh)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("open %s: %w", path, err)
	}

	dims := f.Header.Lengths("data")
	if len(dims) != 2 {
		return domain.ScanResult{}, fmt.Errorf("%s: data variable missing or not 2-d", path)
	}
	if mdims := f.Header.Lengths("mask"); len(mdims) != 2 || mdims[0] != dims[0] || mdims[1] != dims[1] {
		return domain.ScanResult{}, fmt.Errorf("%s: mask variable missing or shaped %v, want %v", path, mdims, dims)
	}
	rows, cols := dims[0], dims[1]
	if rows <= 0 || cols <= 0 {
		return domain.ScanResult{}, fmt.Errorf("%s: data shape %v is empty", path, dims)
	}

	r := f.Reader("data", nil, nil)
	buf := r.Zero(rows * cols)
	if _, err := r.Read(buf); err != nil {
		return domain.ScanResult{}, fmt.Errorf("%s: read data: %w", path, err)
	}
	data, ok := buf.([]float64)
	if !ok {
		return domain.ScanResult{}, fmt.Errorf("%s: data is %T, want double", path, buf)
	}

	mr := f.Reader("mask", nil, nil)
	mbuf := mr.Zero(rows * cols)
	if _, err := mr.Read(mbuf); err != nil {
		return domain.ScanResult{}, fmt.Errorf("%s: read mask: %w", path, err)
	}
	raw, ok := mbuf.([]uint8)
	if !ok {
		return domain.ScanResult{}, fmt.Errorf("%s: mask is %T, want byte", path, mbuf)
	}
	mask := make([]bool, len(raw))
	for i, b := range raw {
		mask[i] = b != 0
	}

	res := domain.ScanResult{Data: mat.NewDense(rows, cols, data), Mask: mask}
	if src, ok := f.Header.GetAttribute("", "source").(string); ok {
		res.Source = src
	}
	if fb, ok := f.Header.GetAttribute("", "fallback_sweeps").([]int32); ok {
		for _, s := range fb {
			res.FallbackSweeps = append(res.FallbackSweeps, int(s))
		}
	}
	return res, nil
}

var _ domain.ArtifactWriter = NetCDFWriter{}
