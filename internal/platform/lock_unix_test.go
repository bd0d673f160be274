//go:build unix

package platform

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireDirLockContentionAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cortex")

	lock1, err := AcquireDirLock(dir, "journal")
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "journal.lock"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if strings.TrimSpace(string(raw)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected pid in lock file, got %q", raw)
	}

	lock2, err := AcquireDirLock(dir, "journal")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected %v, got %v", ErrLocked, err)
	}
	if lock2 != nil {
		t.Fatalf("expected second lock to be nil, got %#v", lock2)
	}

	other, err := AcquireDirLock(dir, "other")
	if err != nil {
		t.Fatalf("acquire differently named lock: %v", err)
	}
	_ = other.Release()

	if err := lock1.Release(); err != nil {
		t.Fatalf("release first lock: %v", err)
	}
	if err := lock1.Release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	lock3, err := AcquireDirLock(dir, "journal")
	if err != nil {
		t.Fatalf("acquire lock after release: %v", err)
	}
	if err := lock3.Release(); err != nil {
		t.Fatalf("release third lock: %v", err)
	}
}
