//go:build unix

package socket

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Protocol selects the transport of a Socket.
type Protocol int

const (
	// ProtocolTCP is a stream socket.
	ProtocolTCP Protocol = iota
	// ProtocolUDP is a datagram socket.
	ProtocolUDP
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "udp"
	}
	return "tcp"
}

// State is the connection state of a Socket.
type State int

const (
	StateDisconnected State = iota
	StateListening
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Socket owns one OS socket handle.
type Socket struct {
	reactor  *Reactor
	fd       int
	protocol Protocol
	state    State
	handler  Handler

	// gen changes whenever the handle is attached or released.
	gen uint64
}

// New returns an unallocated socket bound to r. Call Create before use.
func New(r *Reactor) *Socket {
	return &Socket{reactor: r, fd: -1}
}

// FD returns the OS handle, or -1 when the socket holds none.
func (s *Socket) FD() int { return s.fd }

// Protocol returns the protocol chosen at Create.
func (s *Socket) Protocol() Protocol { return s.protocol }

// State returns the current state.
func (s *Socket) State() State { return s.state }

// IsValid reports whether the socket holds an OS handle.
func (s *Socket) IsValid() bool { return s.fd >= 0 }

// SetHandler installs the handler receiving this socket's events.
func (s *Socket) SetHandler(h Handler) { s.handler = h }

// Create allocates the OS handle and registers the socket with its reactor.
func (s *Socket) Create(proto Protocol) error {
	if s.fd >= 0 {
		return errors.Wrap(ErrInvalidState, "socket: create: already created")
	}

	sotype := unix.SOCK_STREAM
	if proto == ProtocolUDP {
		sotype = unix.SOCK_DGRAM
	}
	fd, err := unix.Socket(unix.AF_INET, sotype, 0)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Socket.Create",
			"protocol": proto.String(),
			"error":    err.Error(),
		}).Error("Failed to allocate socket")
		return errors.Wrap(err, "socket: create")
	}
	unix.CloseOnExec(fd)

	s.attach(fd, proto)
	logrus.WithFields(logrus.Fields{
		"function": "Socket.Create",
		"fd":       fd,
		"protocol": proto.String(),
	}).Debug("Socket created")
	return nil
}

// attach adopts fd and registers the socket.
func (s *Socket) attach(fd int, proto Protocol) {
	s.fd = fd
	s.protocol = proto
	s.state = StateDisconnected
	s.gen++
	s.reactor.register(s)
}

// SetNonBlocking switches the handle to non-blocking mode. It must be called
// before Connect, Listen or Accept for the polling model to hold.
func (s *Socket) SetNonBlocking() error {
	if s.fd < 0 {
		return ErrNotCreated
	}
	return errors.Wrap(unix.SetNonblock(s.fd, true), "socket: set non-blocking")
}

// SetNoDelay toggles TCP_NODELAY.
func (s *Socket) SetNoDelay(enabled bool) error {
	return s.setOption(unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(enabled), "TCP_NODELAY")
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(enabled bool) error {
	return s.setOption(unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(enabled), "SO_REUSEADDR")
}

// SetSendBufferSize sets SO_SNDBUF.
func (s *Socket) SetSendBufferSize(bytes int) error {
	return s.setOption(unix.SOL_SOCKET, unix.SO_SNDBUF, bytes, "SO_SNDBUF")
}

// SetRecvBufferSize sets SO_RCVBUF.
func (s *Socket) SetRecvBufferSize(bytes int) error {
	return s.setOption(unix.SOL_SOCKET, unix.SO_RCVBUF, bytes, "SO_RCVBUF")
}

func (s *Socket) setOption(level, opt, value int, name string) error {
	if s.fd < 0 {
		return ErrNotCreated
	}
	return errors.Wrapf(unix.SetsockoptInt(s.fd, level, opt, value), "socket: set %s", name)
}

// Connect resolves host and starts a non-blocking connect. The socket is in
// StateConnecting afterwards whatever the immediate outcome; completion is
// observed by Reactor.PollEvents.
func (s *Socket) Connect(host string, port int) error {
	if s.fd < 0 {
		return ErrNotCreated
	}
	if s.state != StateDisconnected {
		return errors.Wrapf(ErrInvalidState, "socket: connect from %s", s.state)
	}

	sa, err := resolveInet4(host, port)
	if err != nil {
		return errors.Wrap(err, "socket: connect")
	}

	err = unix.Connect(s.fd, sa)
	s.state = StateConnecting
	if s.protocol == ProtocolUDP && err == nil {
		s.state = StateConnected
	}
	if err != nil && !isConnectInProgress(err) {
		logrus.WithFields(logrus.Fields{
			"function": "Socket.Connect",
			"fd":       s.fd,
			"address":  JoinHostPort(host, port),
			"error":    err.Error(),
		}).Warn("Connect failed immediately")
		return errors.Wrapf(err, "socket: connect %s", JoinHostPort(host, port))
	}

	logrus.WithFields(logrus.Fields{
		"function": "Socket.Connect",
		"fd":       s.fd,
		"address":  JoinHostPort(host, port),
	}).Debug("Connect started")
	return nil
}

// Bind assigns a local address. Valid only while Disconnected.
func (s *Socket) Bind(addr string, port int) error {
	if s.fd < 0 {
		return ErrNotCreated
	}
	if s.state != StateDisconnected {
		return errors.Wrapf(ErrInvalidState, "socket: bind from %s", s.state)
	}

	sa, err := resolveInet4(addr, port)
	if err != nil {
		return errors.Wrap(err, "socket: bind")
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return errors.Wrapf(err, "socket: bind %s", JoinHostPort(addr, port))
	}
	return nil
}

// Listen marks a bound socket as passive. Valid only while Disconnected.
func (s *Socket) Listen(backlog int) error {
	if s.fd < 0 {
		return ErrNotCreated
	}
	if s.state != StateDisconnected {
		return errors.Wrapf(ErrInvalidState, "socket: listen from %s", s.state)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return errors.Wrap(err, "socket: listen")
	}
	s.state = StateListening
	return nil
}

// Accept takes one pending connection and attaches it to out, which must not
// hold a handle yet. It returns false without error when nothing is pending.
//
// On success out is Connected and non-blocking, out receives EventConnected
// and then this socket receives EventAccepted with Peer set to out.
func (s *Socket) Accept(out *Socket) (bool, error) {
	if s.state != StateListening {
		return false, errors.Wrapf(ErrInvalidState, "socket: accept from %s", s.state)
	}
	if out == nil || out.fd >= 0 {
		return false, errors.Wrap(ErrInvalidState, "socket: accept into a used socket")
	}

	nfd, _, err := unix.Accept(s.fd)
	if err != nil {
		if isAcceptEmpty(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "socket: accept")
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return false, errors.Wrap(err, "socket: accept: set non-blocking")
	}

	out.attach(nfd, ProtocolTCP)
	out.state = StateConnected

	logrus.WithFields(logrus.Fields{
		"function":  "Socket.Accept",
		"listen_fd": s.fd,
		"fd":        nfd,
	}).Debug("Accepted connection")

	out.emit(Event{Kind: EventConnected, Socket: out, OK: true})
	s.emit(Event{Kind: EventAccepted, Socket: s, Peer: out})
	return true, nil
}

// Send writes b and returns the number of bytes the kernel took.
// Would-block outcomes return ErrWouldBlock or ErrNoBufferSpace.
func (s *Socket) Send(b []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrNotCreated
	}
	n, err := unix.Write(s.fd, b)
	if err != nil {
		if classified := classifyErrno(err); IsTemporary(classified) {
			return 0, classified
		}
		return 0, errors.Wrap(err, "socket: send")
	}
	return n, nil
}

// Recv reads into b. An orderly shutdown by the peer returns io.EOF and
// would-block returns ErrWouldBlock.
func (s *Socket) Recv(b []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrNotCreated
	}
	n, err := unix.Read(s.fd, b)
	if err != nil {
		if classified := classifyErrno(err); IsTemporary(classified) {
			return 0, classified
		}
		return 0, errors.Wrap(err, "socket: recv")
	}
	if n == 0 && len(b) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the handle and unregisters the socket. It is idempotent.
func (s *Socket) Close() error {
	if s.fd < 0 {
		s.state = StateDisconnected
		return nil
	}
	fd := s.fd
	s.reactor.unregister(s)
	s.fd = -1
	s.gen++
	s.state = StateDisconnected

	logrus.WithFields(logrus.Fields{
		"function": "Socket.Close",
		"fd":       fd,
	}).Debug("Socket closed")
	return errors.Wrap(unix.Close(fd), "socket: close")
}

// LocalAddr returns the bound host and port.
func (s *Socket) LocalAddr() (string, int, error) {
	if s.fd < 0 {
		return "", 0, ErrNotCreated
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return "", 0, errors.Wrap(err, "socket: getsockname")
	}
	return hostPort(sa)
}

// PeerAddr returns the remote host and port of a connected socket.
func (s *Socket) PeerAddr() (string, int, error) {
	if s.fd < 0 {
		return "", 0, ErrNotCreated
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return "", 0, errors.Wrap(err, "socket: getpeername")
	}
	return hostPort(sa)
}

// PendingError returns and clears SO_ERROR.
func (s *Socket) PendingError() error {
	if s.fd < 0 {
		return ErrNotCreated
	}
	code, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrap(err, "socket: getsockopt SO_ERROR")
	}
	if code != 0 {
		return unix.Errno(code)
	}
	return nil
}

// emit delivers ev to the installed handler.
func (s *Socket) emit(ev Event) error {
	if s.handler == nil {
		return nil
	}
	return s.handler.HandleSocketEvent(ev)
}

// fail closes a broken socket and reports it. The socket is already
// Disconnected when the handler runs, so the handler may reuse it.
// A socket closed by an earlier handler is not reported again.
func (s *Socket) fail(err error) {
	if s.fd < 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Socket.fail",
		"fd":       s.fd,
		"error":    err.Error(),
	}).Debug("Socket disconnected")
	s.Close()
	s.emit(Event{Kind: EventDisconnected, Socket: s, Err: err})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
