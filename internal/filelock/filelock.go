// Package filelock provides a cross-process exclusive lock on a single
// path, used to guard the kernel's state root against two processes
// driving the same task lifecycle at once. The event log already
// serializes writes within one process; this closes the remaining gap
// between processes.
package filelock

import (
	"fmt"
	"os"
)

// Lock acquires an exclusive lock on path, creating the file if
// necessary, and returns a function that releases it. The returned
// unlock function also closes the underlying file handle.
func Lock(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return func() error {
		if err := unlockFile(f); err != nil {
			f.Close()
			return fmt.Errorf("unlocking %s: %w", path, err)
		}
		return f.Close()
	}, nil
}
