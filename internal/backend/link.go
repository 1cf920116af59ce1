package backend

// LiveLink is the hardware link contract. Return codes follow the device
// library: zero is success, anything else is failure.
//
// Implementations need not be safe for concurrent use; Connection never has
// more than one call in flight.
type LiveLink interface {
	Initialize() int32
	SendCommand(code int32) int32
	// ReceiveTelemetry returns the next raw frame, or nil when nothing is
	// available. The caller owns the returned slice.
	ReceiveTelemetry() []byte
	CloseConnection() int32
}

// LinkOpener locates and constructs the live link. It returns an error
// wrapping ErrLinkUnavailable when the device cannot be found.
type LinkOpener func() (LiveLink, error)
