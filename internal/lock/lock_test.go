package lock

import (
	"errors"
	"os"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	l, err := Acquire(t.TempDir())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(l.Path())
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestSecondAcquireIsRefused(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	_, err = Acquire(dir)
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire error = %v, want ErrHeld", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.PID != os.Getpid() {
		t.Fatalf("HeldError = %+v", held)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = again.Release()
}

func TestAcquireEmptyDir(t *testing.T) {
	t.Parallel()
	if _, err := Acquire(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
