// Package fileaccessor provides the lowest layer of extio's I/O hierarchy:
// POSIX-style positioned read/write on top of *os.File, with an advisory
// cache hint applied on open. It is deliberately thin -- the block and
// header discipline lives one layer up in streamfile.
package fileaccessor

import (
	"os"

	"github.com/dropbox/godropbox/errors"

	"github.com/robot-dreams/extio/xerrors"
)

// CacheHint advises the OS how the file will be accessed. It is advisory
// only; an implementation that cannot honor it (or runs on a platform
// without the underlying syscall) silently no-ops.
type CacheHint int

const (
	Normal CacheHint = iota
	Sequential
	Random
)

// Accessor wraps a single *os.File with positioned I/O. It is not safe for
// concurrent use from multiple goroutines, and a file is never shared
// across processes.
type Accessor struct {
	f    *os.File
	path string
}

// OpenRO opens path for reading only. The file must already exist.
func OpenRO(path string, hint CacheHint) (*Accessor, error) {
	return open(path, os.O_RDONLY, hint)
}

// OpenWO opens path for writing only. The file must already exist.
func OpenWO(path string, hint CacheHint) (*Accessor, error) {
	return open(path, os.O_WRONLY, hint)
}

// OpenRW opens path for reading and writing. The file must already exist.
func OpenRW(path string, hint CacheHint) (*Accessor, error) {
	return open(path, os.O_RDWR, hint)
}

// OpenRWNew creates path (truncating it if it already exists) and opens it
// for reading and writing.
func OpenRWNew(path string, hint CacheHint) (*Accessor, error) {
	return open(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, hint)
}

func open(path string, flag int, hint CacheHint) (*Accessor, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.ErrNotFound, "fileaccessor: %v", err)
		}
		if os.IsPermission(err) {
			return nil, xerrors.Wrap(xerrors.ErrPermission, "fileaccessor: %v", err)
		}
		return nil, xerrors.Wrap(xerrors.ErrIO, "fileaccessor: opening %s: %v", path, err)
	}
	a := &Accessor{f: f, path: path}
	applyCacheHint(f, hint)
	return a, nil
}

// Path returns the path this Accessor was opened with.
func (a *Accessor) Path() string { return a.path }

// ReadAt reads exactly len(buf) bytes starting at offset. Any short read,
// including one that hits EOF before the first byte, is an I/O error.
func (a *Accessor) ReadAt(buf []byte, offset int64) error {
	n, err := a.f.ReadAt(buf, offset)
	if n != len(buf) {
		return xerrors.Wrap(xerrors.ErrIO,
			"fileaccessor: short read at offset %d: got %d of %d bytes (%v)",
			offset, n, len(buf), err)
	}
	return nil
}

// WriteAt writes exactly len(buf) bytes starting at offset. Short writes
// are an I/O error.
func (a *Accessor) WriteAt(buf []byte, offset int64) error {
	n, err := a.f.WriteAt(buf, offset)
	if n != len(buf) {
		return xerrors.Wrap(xerrors.ErrIO,
			"fileaccessor: short write at offset %d: got %d of %d bytes (%v)",
			offset, n, len(buf), err)
	}
	return nil
}

// Size returns the current size of the file in bytes.
func (a *Accessor) Size() (int64, error) {
	st, err := a.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "fileaccessor: stat")
	}
	return st.Size(), nil
}

// Truncate resizes the file to exactly size bytes.
func (a *Accessor) Truncate(size int64) error {
	if err := a.f.Truncate(size); err != nil {
		return xerrors.Wrap(xerrors.ErrIO, "fileaccessor: truncate to %d: %v", size, err)
	}
	return nil
}

// Close closes the underlying file.
func (a *Accessor) Close() error {
	return a.f.Close()
}
