package artifact

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"reflect"
	"slices"

	"github.com/sbinet/npyio/npy"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Member names inside an .npz archive. np.load(f) yields exactly these two
// keys, so numpy.ma.MaskedArray(**np.load(f)) rebuilds the masked grid; any
// further member would break that call.
const (
	memberData = "data.npy"
	memberMask = "mask.npy"
)

// NumPy dtypes of the two members.
const (
	descrFloat64 = "<f8"
	descrBool    = "|b1"
)

// NPZWriter writes ScanResults as compressed NumPy archives.
type NPZWriter struct{}

// Extension implements domain.ArtifactWriter.
func (NPZWriter) Extension() string { return ".npz" }

// Write implements domain.ArtifactWriter.
func (NPZWriter) Write(ctx context.Context, path string, res domain.ScanResult) error {
	rows, cols := res.Dims()
	if len(res.Mask) != rows*cols {
		return fmt.Errorf("write %s: mask has %d cells, want %d", path, len(res.Mask), rows*cols)
	}
	mask := maskGrid(rows, cols, res.Mask)

	return writeAtomic(ctx, path, func(f *os.File) error {
		bw := bufio.NewWriterSize(f, 1<<16)
		zw := npz.NewWriter(bw)
		if err := zw.Write(memberData, res.Data); err != nil {
			return err
		}
		if err := zw.Write(memberMask, mask); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		return bw.Flush()
	})
}

// maskGrid copies a row-major mask into a [rows][cols]bool value. npy takes
// a two-dimensional shape from nested arrays, not from nested slices.
func maskGrid(rows, cols int, mask []bool) any {
	grid := reflect.New(reflect.ArrayOf(rows, reflect.ArrayOf(cols, reflect.TypeFor[bool]()))).Elem()
	for i := 0; i < rows; i++ {
		row := grid.Index(i)
		for j := 0; j < cols; j++ {
			row.Index(j).SetBool(mask[i*cols+j])
		}
	}
	return grid.Interface()
}

// ReadNPZ loads an artifact written by NPZWriter.
func ReadNPZ(path string) (domain.ScanResult, error) {
	r, err := npz.Open(path)
	if err != nil {
		return domain.ScanResult{}, err
	}
	defer r.Close()

	for _, name := range []string{memberData, memberMask} {
		if !slices.Contains(r.Keys(), name) {
			return domain.ScanResult{}, fmt.Errorf("%s: no %s member", path, name)
		}
	}

	dataHdr, maskHdr := r.Header(memberData), r.Header(memberMask)
	if err := checkHeader(dataHdr, descrFloat64); err != nil {
		return domain.ScanResult{}, fmt.Errorf("%s %s: %w", path, memberData, err)
	}
	if err := checkHeader(maskHdr, descrBool); err != nil {
		return domain.ScanResult{}, fmt.Errorf("%s %s: %w", path, memberMask, err)
	}
	if !slices.Equal(dataHdr.Descr.Shape, maskHdr.Descr.Shape) {
		return domain.ScanResult{}, fmt.Errorf("%s: data is %v but mask is %v", path, dataHdr.Descr.Shape, maskHdr.Descr.Shape)
	}

	var data mat.Dense
	if err := r.Read(memberData, &data); err != nil {
		return domain.ScanResult{}, fmt.Errorf("%s: %w", path, err)
	}
	var mask []bool
	if err := r.Read(memberMask, &mask); err != nil {
		return domain.ScanResult{}, fmt.Errorf("%s: %w", path, err)
	}
	return domain.ScanResult{Data: &data, Mask: mask}, nil
}

// checkHeader accepts a non-empty two-dimensional C-order array of descr.
func checkHeader(h *npy.Header, descr string) error {
	if h == nil {
		return fmt.Errorf("unreadable npy header")
	}
	if h.Descr.Type != descr {
		return fmt.Errorf("dtype %s, want %s", h.Descr.Type, descr)
	}
	if h.Descr.Fortran {
		return fmt.Errorf("fortran-ordered arrays are not supported")
	}
	if len(h.Descr.Shape) != 2 || h.Descr.Shape[0] <= 0 || h.Descr.Shape[1] <= 0 {
		return fmt.Errorf("shape %v, want a non-empty 2-d grid", h.Descr.Shape)
	}
	return nil
}

var _ domain.ArtifactWriter = NPZWriter{}
