package streamdb

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// errLockHeld is returned when another process already holds the advisory
// lock on the database file.
var errLockHeld = errors.New("streamdb: database is locked by another process")

// fileLock is the optional, cooperative advisory lock mentioned in §1 as an
// integration concern rather than a core guarantee: StreamDb itself only
// ever serializes writers within one process (the lock hierarchy in §5),
// but callers that share a file across processes can opt into this via
// [WithProcessLock] to get a courtesy exclusive flock on the store file.
type fileLock struct {
	file *os.File
}

// acquireFileLock takes a non-blocking exclusive flock on path. Unlike the
// teacher's ticket-file lock, there is no timeout/retry: an embedded store
// is expected to be opened once per process for the lifetime of that
// process, so a held lock is treated as "someone else already has the
// database open" rather than transient contention.
func acquireFileLock(path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o640) //nolint:gosec // path is caller-supplied, same as the backing store file
	if err != nil {
		return nil, fmt.Errorf("streamdb: open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: %s", errLockHeld, path)
	}

	return &fileLock{file: file}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("streamdb: release lock: %w", err)
	}

	return nil
}
