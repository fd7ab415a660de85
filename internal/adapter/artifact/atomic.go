package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// IsTemp reports whether name is an in-progress artifact: a dot, the
// artifact's file name, then a random number.
func IsTemp(name string) bool {
	if !strings.HasPrefix(name, ".") {
		return false
	}
	base := strings.TrimRight(name[1:], "0123456789")
	if len(base) == len(name)-1 {
		return false
	}
	return strings.HasSuffix(base, NPZWriter{}.Extension()) || strings.HasSuffix(base, NetCDFWriter{}.Extension())
}

// writeAtomic creates dest by filling a temporary file in the same directory
// and renaming it into place. On any failure the temporary file is removed
// and dest is left untouched.
func writeAtomic(ctx context.Context, dest string, fill func(f *os.File) error) error {
	dir := filepath.Dir(dest)
	pf, err := renameio.NewPendingFile(dest, renameio.WithTempDir(dir), renameio.WithStaticPermissions(0o644))
	if err != nil {
		return &domain.FilesystemError{Op: "create temp", Path: dest, Err: err}
	}
	defer func() { _ = pf.Cleanup() }()

	if err := ctx.Err(); err != nil {
		return &domain.FilesystemError{Op: "write", Path: dest, Err: err}
	}
	if err := fill(pf.File); err != nil {
		return &domain.FilesystemError{Op: "write", Path: dest, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &domain.FilesystemError{Op: "write", Path: dest, Err: err}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &domain.FilesystemError{Op: "rename", Path: dest, Err: err}
	}
	// Best effort: persist the rename itself.
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// RemoveStaleTemps deletes in-progress files in dir last modified before
// cutoff, as left behind by a crashed run. Younger files may belong to a
// concurrent writer and are kept. It returns the removed paths.
func RemoveStaleTemps(dir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !IsTemp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}
