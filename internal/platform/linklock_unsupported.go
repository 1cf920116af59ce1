//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

func acquireLinkLock(_, _ string) (LinkLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrLockUnsupported, runtime.GOOS)
}
