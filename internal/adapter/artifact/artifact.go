// Package artifact persists reduced scan results. Two formats are supported:
// compressed NumPy archives (.npz) holding data and mask arrays, and NetCDF
// classic files (.nc) holding the same arrays plus grid coordinates.
// All writes are atomic.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// New returns the writer for format, "npz" or "nc".
func New(format string, grid domain.GridConfig) (domain.ArtifactWriter, error) {
	switch strings.ToLower(format) {
	case "npz":
		return NPZWriter{}, nil
	case "nc", "netcdf":
		return NetCDFWriter{Grid: grid}, nil
	}
	return nil, fmt.Errorf("unknown artifact format %q", format)
}

// Read loads an artifact, choosing the reader from the file extension.
func Read(path string) (domain.ScanResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npz":
		return ReadNPZ(path)
	case ".nc":
		return ReadNetCDF(path)
	}
	return domain.ScanResult{}, fmt.Errorf("%s: unknown artifact extension", path)
}
