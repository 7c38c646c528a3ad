//go:build unix

package socket

import (
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	pollReadable = unix.POLLIN | unix.POLLPRI | unix.POLLHUP
	pollWritable = unix.POLLOUT
	pollBroken   = unix.POLLERR | unix.POLLNVAL
)

var startupOnce sync.Once

// startup runs once per process when the first socket goes live. POSIX needs
// no socket library initialisation, so it only records the poll backend.
func startup() {
	logrus.WithFields(logrus.Fields{
		"function": "socket.startup",
		"os":       runtime.GOOS,
		"backend":  "poll",
	}).Info("Socket layer started")
}

// Reactor is the owner-held registry of live sockets and the driver of their
// readiness state machine.
type Reactor struct {
	sockets []*Socket

	// scratch reused across passes
	fds    []unix.PollFd
	polled []*Socket
	gens   []uint64
}

// NewReactor returns an empty reactor.
func NewReactor() *Reactor {
	return &Reactor{}
}

func (r *Reactor) register(s *Socket) {
	startupOnce.Do(startup)
	r.sockets = append(r.sockets, s)
}

func (r *Reactor) unregister(s *Socket) {
	for i, candidate := range r.sockets {
		if candidate == s {
			copy(r.sockets[i:], r.sockets[i+1:])
			r.sockets[len(r.sockets)-1] = nil
			r.sockets = r.sockets[:len(r.sockets)-1]
			return
		}
	}
}

// Len returns the number of live sockets.
func (r *Reactor) Len() int {
	return len(r.sockets)
}

// Contains reports whether s is registered.
func (r *Reactor) Contains(s *Socket) bool {
	for _, candidate := range r.sockets {
		if candidate == s {
			return true
		}
	}
	return false
}

// CloseAll closes every registered socket.
func (r *Reactor) CloseAll() {
	live := append([]*Socket(nil), r.sockets...)
	for _, s := range live {
		s.Close()
	}
}

// PollEvents performs one readiness pass with the given timeout and dispatches
// the resulting transitions. A negative timeout blocks until some socket is
// ready. It returns the number of sockets that received events.
//
// Connecting sockets are watched for writability and errors, Connected
// sockets for readability, writability and errors. Listening and Disconnected
// sockets are skipped; listeners are driven by explicit Accept calls.
func (r *Reactor) PollEvents(timeout time.Duration) (int, error) {
	r.fds = r.fds[:0]
	r.polled = r.polled[:0]
	r.gens = r.gens[:0]
	for _, s := range r.sockets {
		var events int16
		switch s.state {
		case StateConnecting:
			events = pollWritable
		case StateConnected:
			events = pollReadable | pollWritable
		default:
			continue
		}
		r.fds = append(r.fds, unix.PollFd{Fd: int32(s.fd), Events: events})
		r.polled = append(r.polled, s)
		r.gens = append(r.gens, s.gen)
	}

	if len(r.fds) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0, nil
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(r.fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "Reactor.PollEvents",
			"sockets":  len(r.fds),
			"error":    err.Error(),
		}).Error("Readiness check failed")
		return 0, errors.Wrap(err, "socket: poll")
	}
	if n == 0 {
		return 0, nil
	}

	dispatched := 0
	for i, s := range r.polled {
		revents := r.fds[i].Revents
		if revents == 0 {
			continue
		}
		// closed (or closed and reopened, possibly on the same fd number) by
		// an earlier handler in this pass
		if s.gen != r.gens[i] || s.fd != int(r.fds[i].Fd) {
			continue
		}
		r.dispatch(s, revents)
		dispatched++
	}
	return dispatched, nil
}

func (r *Reactor) dispatch(s *Socket, revents int16) {
	switch s.state {
	case StateConnecting:
		r.dispatchConnecting(s, revents)
	case StateConnected:
		r.dispatchConnected(s, revents)
	}
}

func (r *Reactor) dispatchConnecting(s *Socket, revents int16) {
	soErr := s.PendingError()
	if soErr != nil || revents&(pollBroken|unix.POLLHUP) != 0 {
		if soErr == nil {
			soErr = ErrConnectFailed
		}
		logrus.WithFields(logrus.Fields{
			"function": "Reactor.dispatchConnecting",
			"fd":       s.fd,
			"error":    soErr.Error(),
		}).Debug("Connect failed")
		s.Close()
		s.emit(Event{Kind: EventConnected, Socket: s, OK: false, Err: soErr})
		return
	}
	if revents&pollWritable != 0 {
		s.state = StateConnected
		s.emit(Event{Kind: EventConnected, Socket: s, OK: true})
	}
}

func (r *Reactor) dispatchConnected(s *Socket, revents int16) {
	if revents&pollBroken != 0 {
		cause := s.PendingError()
		if cause == nil {
			cause = ErrSocketException
		}
		s.emit(Event{Kind: EventException, Socket: s, Err: cause})
		if s.fd >= 0 {
			s.fail(cause)
		}
		return
	}

	if revents&pollReadable != 0 {
		if err := s.emit(Event{Kind: EventRecv, Socket: s}); err != nil {
			s.fail(err)
			return
		}
	}

	if s.fd < 0 || s.state != StateConnected {
		return
	}
	if revents&pollWritable != 0 {
		if err := s.emit(Event{Kind: EventSend, Socket: s}); err != nil {
			s.fail(err)
		}
	}
}
