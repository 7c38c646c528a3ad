package socket

import (
	"github.com/pkg/errors"
)

var (
	// ErrWouldBlock indicates a non-blocking operation could not make progress
	ErrWouldBlock = errors.New("operation would block")

	// ErrNoBufferSpace indicates the kernel had no buffer space for the operation
	ErrNoBufferSpace = errors.New("no buffer space available")

	// ErrNotCreated indicates the socket has no OS handle
	ErrNotCreated = errors.New("socket not created")

	// ErrInvalidState indicates the operation is not valid in the current state
	ErrInvalidState = errors.New("invalid socket state")

	// ErrUnsupportedAddress indicates an address that is not IPv4
	ErrUnsupportedAddress = errors.New("unsupported address")

	// ErrConnectFailed indicates a pending connect failed without an errno
	ErrConnectFailed = errors.New("connect failed")

	// ErrSocketException indicates exceptional readiness without an errno
	ErrSocketException = errors.New("socket exception")
)

// IsTemporary reports whether err means "try again later" rather than a
// broken socket.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrNoBufferSpace)
}
