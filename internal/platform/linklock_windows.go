//go:build windows

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

type mutexLinkLock struct {
	handle windows.Handle
}

// Windows serial ports are opened exclusively anyway; the named mutex keeps
// ip links consistent with that.
func acquireLinkLock(_ string, name string) (LinkLock, error) {
	sid, err := currentUserSID()
	if err != nil {
		return nil, err
	}

	namePtr, err := windows.UTF16PtrFromString(`Local\novoground-link-` + name + "-" + normalizeLockComponent(sid, "sid"))
	if err != nil {
		return nil, fmt.Errorf("encode link mutex name: %w", err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}

		return nil, ErrLinkBusy
	}
	if err != nil {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}

		return nil, fmt.Errorf("create link mutex: %w", err)
	}

	return &mutexLinkLock{handle: handle}, nil
}

func (l *mutexLinkLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}

	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close link mutex handle: %w", err)
	}

	return nil
}

func currentUserSID() (string, error) {
	tokenUser, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return "", fmt.Errorf("read current user token: %w", err)
	}

	return tokenUser.User.Sid.String(), nil
}
