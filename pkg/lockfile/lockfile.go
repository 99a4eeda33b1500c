// Package lockfile implements the single-instance lock. Exactly one daemon
// may own a data directory; the lock file pins that ownership and records
// the owner's pid for operators and tooling.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrAlreadyLocked indicates another live process holds the lock.
var ErrAlreadyLocked = fmt.Errorf("lock is held by another process")

// Lock is an acquired instance lock. The flock is tied to the open file
// descriptor and is released by the kernel if the process dies.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the instance lock inside dataDir and writes the owning pid.
//
// Failure to acquire means another daemon instance already owns this data
// directory.
func Acquire(dataDir string) (*Lock, error) {
	path := filepath.Join(dataDir, "lock")

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %q: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, path)
		}
		return nil, fmt.Errorf("failed to lock %q: %w", path, err)
	}

	// Replace whatever pid a previous owner left behind.
	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to truncate lock file %q: %w", path, err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write pid to lock file %q: %w", path, err)
	}

	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and closes the file. The file itself is left in
// place; the flock, not the file's existence, is the lock.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("failed to unlock %q: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file %q: %w", l.path, err)
	}
	return nil
}
