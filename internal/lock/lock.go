// Package lock keeps two switchboard processes from sharing one state
// directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the guarded directory.
const FileName = "switchboard.lock"

// ErrHeld is returned when another process owns the lock.
var ErrHeld = errors.New("lock held by another process")

// HeldError names the lock file and, when readable, the owner's PID.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: %v (pid %d)", e.Path, ErrHeld, e.PID)
	}
	return fmt.Sprintf("%s: %v", e.Path, ErrHeld)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// Lock is a PID file held with flock(2). The lock lives as long as the file
// descriptor stays open.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes an exclusive non-blocking lock in dir and writes the current
// PID into the lock file.
func Acquire(dir string) (*Lock, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			pid, _ := ReadPID(path)
			return nil, &HeldError{Path: path, PID: pid}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &Lock{path: path, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *Lock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(l.f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the file. The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadPID returns the PID recorded in a lock file.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	return pid, nil
}
