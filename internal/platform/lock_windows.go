//go:build windows

package platform

import (
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

type windowsDirLock struct {
	handle windows.Handle
}

func acquireDirLock(dir, name string) (DirLock, error) {
	namePtr, err := windows.UTF16PtrFromString(windowsMutexName(dir, name))
	if err != nil {
		return nil, fmt.Errorf("encode lock mutex name: %w", err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}

		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}
	if err != nil {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}

		return nil, fmt.Errorf("create lock mutex: %w", err)
	}

	return &windowsDirLock{handle: handle}, nil
}

func (l *windowsDirLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}

	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close lock mutex handle: %w", err)
	}

	return nil
}

// windowsMutexName derives a session-local mutex name from the directory.
func windowsMutexName(dir, name string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(filepath.Clean(dir))))

	return `Local\` + name + `-` + strconv.FormatUint(h.Sum64(), 16)
}
