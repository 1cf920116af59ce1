package backend

import "errors"

var (
	ErrLinkUnavailable = errors.New("live link unavailable")
	ErrInitFailed      = errors.New("backend initialization failed")
	ErrNotConnected    = errors.New("backend not connected")
	ErrSendFailed      = errors.New("command send failed")
	ErrUnknownCommand  = errors.New("unknown command")
)
