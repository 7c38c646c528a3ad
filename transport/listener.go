package transport

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore/socket"
)

// DefaultBacklog is the listen queue length used when none is given.
const DefaultBacklog = 128

// TCPListener accepts connections on a bound address. Each accepted
// connection is announced with ListenerEventAccepted and owned by the
// Network until it disconnects.
type TCPListener struct {
	network *Network
	handler ListenerHandler

	sock      *socket.Socket
	pending   *socket.Socket
	listening bool

	host string
	port int
}

func newTCPListener(n *Network, h ListenerHandler) *TCPListener {
	return &TCPListener{network: n, handler: h}
}

// SetHandler installs the event handler.
func (l *TCPListener) SetHandler(h ListenerHandler) {
	l.handler = h
}

// IsListening reports whether the listener is accepting.
func (l *TCPListener) IsListening() bool { return l.listening }

// Addr returns the bound host and port. The port is the kernel-assigned one
// when Listen was called with port 0.
func (l *TCPListener) Addr() (string, int) { return l.host, l.port }

// Listen binds addr:port and starts listening. An empty addr binds every
// interface. Calling Listen on a listening listener does nothing.
func (l *TCPListener) Listen(addr string, port, backlog int) error {
	if l.listening {
		return nil
	}
	if l.network.closed {
		return newNetError("listen", socket.JoinHostPort(addr, port), ErrNetworkClosed)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if l.sock == nil {
		l.sock = socket.New(l.network.reactor)
		l.sock.SetHandler(socket.HandlerFunc(l.handleSocketEvent))
	}

	if err := l.open(addr, port, backlog); err != nil {
		l.sock.Close()
		return newNetError("listen", socket.JoinHostPort(addr, port), err)
	}

	host, boundPort, err := l.sock.LocalAddr()
	if err != nil {
		l.sock.Close()
		return newNetError("listen", socket.JoinHostPort(addr, port), err)
	}
	l.host, l.port = host, boundPort
	l.listening = true
	l.network.listeners.add(l)

	logrus.WithFields(logrus.Fields{
		"function": "TCPListener.Listen",
		"address":  l.host,
		"port":     l.port,
		"backlog":  backlog,
	}).Info("Listening")

	l.emit(ListenerEvent{Kind: ListenerEventStarted})
	return nil
}

func (l *TCPListener) open(addr string, port, backlog int) error {
	if err := l.sock.Create(socket.ProtocolTCP); err != nil {
		return err
	}
	if err := l.sock.SetNonBlocking(); err != nil {
		return err
	}
	if err := l.sock.SetReuseAddr(true); err != nil {
		return err
	}
	if err := l.sock.Bind(addr, port); err != nil {
		return err
	}
	return l.sock.Listen(backlog)
}

// doAccepted tries one accept into the pending slot. A new slot is prepared
// only after the previous one has been handed to a connection.
func (l *TCPListener) doAccepted() {
	if !l.listening {
		return
	}
	if l.pending == nil {
		l.pending = socket.New(l.network.reactor)
	}
	if _, err := l.sock.Accept(l.pending); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TCPListener.doAccepted",
			"port":     l.port,
			"error":    err.Error(),
		}).Warn("Accept failed")
	}
}

func (l *TCPListener) handleSocketEvent(ev socket.Event) error {
	if ev.Kind != socket.EventAccepted || ev.Peer == nil {
		return nil
	}
	l.pending = nil
	conn := l.network.adopt(ev.Peer)

	logrus.WithFields(logrus.Fields{
		"function": "TCPListener.handleSocketEvent",
		"port":     l.port,
		"peer":     conn.PeerAddress(),
	}).Debug("Accepted connection")

	l.emit(ListenerEvent{Kind: ListenerEventAccepted, Conn: conn})
	if conn.IsConnected() {
		conn.emit(ConnEvent{Kind: ConnEventConnected, OK: true})
	}
	return nil
}

// Stop closes the listening socket. Accepted connections are not affected.
func (l *TCPListener) Stop() {
	if !l.listening {
		return
	}
	l.listening = false
	l.sock.Close()
	l.network.listeners.remove(l)

	logrus.WithFields(logrus.Fields{
		"function": "TCPListener.Stop",
		"port":     l.port,
	}).Info("Listener stopped")

	l.emit(ListenerEvent{Kind: ListenerEventStopped})
}

func (l *TCPListener) emit(ev ListenerEvent) {
	if l.handler == nil {
		return
	}
	ev.Listener = l
	l.handler.HandleListenerEvent(ev)
}
