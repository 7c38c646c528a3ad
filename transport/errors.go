package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/netcore/limits"
)

// Common errors for the transport layer
var (
	// ErrNotConnected indicates the connection is not in a state that can send
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates Connect was called on a live connection
	ErrAlreadyConnected = errors.New("already connected")

	// ErrSendBufferFull indicates the send buffer cannot absorb the package
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrPayloadTooLarge indicates a payload that does not fit in one package
	ErrPayloadTooLarge = limits.ErrPayloadTooLarge

	// ErrConnectTimeout indicates the connect attempt outlived its timeout
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrBadMagic indicates a package header with the wrong sentinel
	ErrBadMagic = errors.New("bad package magic")

	// ErrBadLength indicates a package length shorter than its header
	ErrBadLength = errors.New("bad package length")

	// ErrPackageTooLarge indicates a package that can never fit the receive buffer
	ErrPackageTooLarge = errors.New("package exceeds receive buffer")

	// ErrIncomplete indicates more bytes are needed to decode a package
	ErrIncomplete = errors.New("incomplete package")

	// ErrShortBuffer indicates a destination too small to encode into
	ErrShortBuffer = errors.New("short buffer")

	// ErrNetworkClosed indicates the owning Network has been closed
	ErrNetworkClosed = errors.New("network closed")
)

// NetError represents a transport error with additional context
type NetError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("netcore %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("netcore %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// newNetError creates a new NetError
func newNetError(op, addr string, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
