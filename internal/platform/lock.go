// Package platform holds OS specific helpers.
package platform

import (
	"errors"
	"strings"
)

// ErrLocked indicates another process already holds the directory lock.
var ErrLocked = errors.New("directory is locked by another process")

// ErrLockUnsupported indicates the current platform has no lock backend.
var ErrLockUnsupported = errors.New("directory lock unsupported")

// DirLock is an acquired exclusive lock on a runtime directory.
type DirLock interface {
	Release() error
}

// AcquireDirLock takes an exclusive advisory lock named name inside dir. The
// lock is dropped by the OS if the process dies.
func AcquireDirLock(dir, name string) (DirLock, error) {
	return acquireDirLock(dir, normalizeLockName(name, "cortex"))
}

func normalizeLockName(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
