package platform

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLinkBusy means another process already owns the live link.
var ErrLinkBusy = errors.New("live link is held by another process")

// ErrLockUnsupported indicates the current platform has no lock backend implementation.
var ErrLockUnsupported = errors.New("link lock unsupported")

// LinkLock is an acquired exclusive claim on one live link target.
type LinkLock interface {
	Release() error
}

// AcquireLinkLock claims target (a serial port or host:port) for this
// process. Locks live under dir; an empty dir uses DefaultLockDir. The claim
// is dropped by Release or when the process exits.
func AcquireLinkLock(dir, target string) (LinkLock, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLockDir()
	}

	return acquireLinkLock(dir, normalizeLockComponent(target, "link"))
}

// DefaultLockDir is shared by every process of the same user.
func DefaultLockDir() string {
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, "novoground")
	}

	return filepath.Join(os.TempDir(), "novoground-"+strconv.Itoa(os.Getuid()))
}

func normalizeLockComponent(raw, fallback string) string {
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
