// Package lock guards a dsg repository's metadata directory against
// concurrent engine invocations. It is the generalization of the
// teacher's PID-file-plus-flock pattern (writePIDFile/sendSIGHUP in
// its daemon command), adapted from "only one watch daemon may run"
// to "only one dsg operation may hold a repository's lock at a time",
// using github.com/gofrs/flock instead of a raw syscall.Flock call so
// the same code works unmodified on every platform dsg targets.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file's name inside a repository's metadata
// directory.
const FileName = "lock"

// Lock holds an exclusive, non-blocking lock on a repository's
// metadata directory.
type Lock struct {
	fl *flock.Flock
}

// Acquire attempts to take the lock at <metaDir>/lock immediately,
// returning an error if another process already holds it — mirroring
// the teacher's "another sync --watch is already running" failure
// mode, generalized to any dsg operation.
func Acquire(metaDir string) (*Lock, error) {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: creating metadata directory: %w", err)
	}

	path := filepath.Join(metaDir, FileName)
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock: acquiring %s: %w", path, err)
	}

	if !locked {
		return nil, fmt.Errorf("lock: another dsg operation is already running against this repository (%s)", path)
	}

	return &Lock{fl: fl}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}

	return l.fl.Unlock()
}
