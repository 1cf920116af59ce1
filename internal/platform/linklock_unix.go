//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

type fileLinkLock struct {
	file *os.File
}

func acquireLinkLock(dir, name string) (LinkLock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create link lock dir: %w", err)
	}
	path := filepath.Join(dir, name+".lock")

	// #nosec G304 -- path is built from the lock dir and a sanitized link name.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open link lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			if pid, ok := lockHolder(path); ok {
				return nil, fmt.Errorf("%w: pid %d", ErrLinkBusy, pid)
			}
			return nil, ErrLinkBusy
		}

		return nil, fmt.Errorf("acquire link lock: %w", err)
	}

	// The pid is informational only; the flock is the claim.
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &fileLinkLock{file: file}, nil
}

func (l *fileLinkLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	fd := int(l.file.Fd())
	_ = l.file.Truncate(0)
	unlockErr := unix.Flock(fd, unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil && !errors.Is(unlockErr, unix.EBADF) {
		return fmt.Errorf("unlock link lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close link lock file: %w", closeErr)
	}

	return nil
}

func lockHolder(path string) (int, bool) {
	// #nosec G304 -- see acquireLinkLock.
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}
