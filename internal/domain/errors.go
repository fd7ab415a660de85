package domain

import "fmt"

// DecodeError reports a source file that could not be decoded into a Volume.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// GeometryError reports a sweep whose geometry cannot be projected onto the
// grid, e.g. too few distinct azimuths.
type GeometryError struct {
	Source string
	Sweep  int
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("grid %s sweep %d: %s", e.Source, e.Sweep, e.Reason)
}

// FilesystemError reports a directory or artifact write failure.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
