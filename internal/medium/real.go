package medium

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	atomicfile "github.com/natefinch/atomic"
)

// Real implements [Medium] using the real filesystem.
//
// All methods are pwrite/pread-style passthroughs to the [os] package, so
// concurrent ReadAt calls from multiple goroutines are safe (the kernel
// serializes the underlying pread/pwrite syscalls per offset).
type Real struct {
	file *os.File
}

// OpenReal opens (creating if necessary) the file at path as a [Real]
// medium. A file that does not yet exist is materialized with
// [atomicfile.WriteFile] rather than a plain O_CREATE open: the path
// transitions directly from absent to a fully-formed (if empty) regular
// file via a temp-file-plus-rename, so a concurrent opener never observes
// it half-created. O_CREATE is still passed to the final open as a
// fallback for the narrow race where another process wins the creation.
func OpenReal(path string) (*Real, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := atomicfile.WriteFile(path, bytes.NewReader(nil)); err != nil {
			return nil, fmt.Errorf("open medium: create %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open medium: stat %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open medium: %w", err)
	}

	return &Real{file: file}, nil
}

// ReadAt reads len(buf) bytes starting at offset.
func (r *Real) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := r.file.ReadAt(buf, offset)
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}

	if err != nil {
		return n, fmt.Errorf("read at %d: %w", offset, err)
	}

	if n != len(buf) {
		return n, ErrShortRead
	}

	return n, nil
}

// WriteAt writes all of buf starting at offset.
func (r *Real) WriteAt(buf []byte, offset int64) (int, error) {
	n, err := r.file.WriteAt(buf, offset)
	if err != nil {
		return n, fmt.Errorf("write at %d: %w", offset, err)
	}

	if n != len(buf) {
		return n, ErrShortWrite
	}

	return n, nil
}

// Flush commits pending writes to durable storage via fsync.
func (r *Real) Flush() error {
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	return nil
}

// Length returns the current size of the file.
func (r *Real) Length() (int64, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}

	return info.Size(), nil
}

// Extend grows the file by n bytes by truncating it to a new, larger size.
func (r *Real) Extend(n int64) error {
	if n <= 0 {
		return nil
	}

	cur, err := r.Length()
	if err != nil {
		return err
	}

	if err := r.file.Truncate(cur + n); err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfSpace, err)
	}

	return nil
}

// Close closes the underlying file.
func (r *Real) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}

// Compile-time interface check.
var _ Medium = (*Real)(nil)
