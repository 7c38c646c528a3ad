//go:build unix

package socket

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// classifyErrno maps the platform codes that mean "no progress right now" onto
// the package sentinels and leaves genuine failures untouched.
func classifyErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR {
		return ErrWouldBlock
	}
	if errno == unix.ENOBUFS {
		return ErrNoBufferSpace
	}
	return err
}

// isConnectInProgress reports whether a non-blocking connect was started and
// will complete asynchronously.
func isConnectInProgress(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == unix.EINPROGRESS || errno == unix.EALREADY ||
		errno == unix.EAGAIN || errno == unix.EINTR
}

// isAcceptEmpty reports whether accept found no usable pending connection.
func isAcceptEmpty(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == unix.EAGAIN || errno == unix.EWOULDBLOCK ||
		errno == unix.EINTR || errno == unix.ECONNABORTED
}
