package transport

import "github.com/opd-ai/netcore/socket"

// ListenerSet holds the listening TCPListeners of a Network.
type ListenerSet struct {
	listeners []*TCPListener
}

func (s *ListenerSet) add(l *TCPListener) {
	for _, have := range s.listeners {
		if have == l {
			return
		}
	}
	s.listeners = append(s.listeners, l)
}

func (s *ListenerSet) remove(l *TCPListener) {
	for i, have := range s.listeners {
		if have == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of listening listeners.
func (s *ListenerSet) Len() int { return len(s.listeners) }

// Poll performs one accept attempt per listener. Listeners added or stopped
// by callbacks take effect on the next call.
func (s *ListenerSet) Poll() {
	snapshot := append([]*TCPListener(nil), s.listeners...)
	for _, l := range snapshot {
		l.doAccepted()
	}
}

// StopAll stops every listener.
func (s *ListenerSet) StopAll() {
	snapshot := append([]*TCPListener(nil), s.listeners...)
	for _, l := range snapshot {
		l.Stop()
	}
}

// ConnectionSet holds the TCPConnections of a Network.
type ConnectionSet struct {
	conns []*TCPConnection
}

func (s *ConnectionSet) add(c *TCPConnection) {
	s.conns = append(s.conns, c)
}

func (s *ConnectionSet) remove(c *TCPConnection) {
	for i, have := range s.conns {
		if have == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered connections.
func (s *ConnectionSet) Len() int { return len(s.conns) }

// Connections returns a snapshot of the registered connections.
func (s *ConnectionSet) Connections() []*TCPConnection {
	return append([]*TCPConnection(nil), s.conns...)
}

// Poll releases accepted connections whose socket has closed. Connections
// created with Network.NewConnection stay registered until released so
// they can reconnect.
func (s *ConnectionSet) Poll() {
	for _, c := range s.Connections() {
		if c.passive && c.State() == socket.StateDisconnected {
			c.Release()
		}
	}
}

// CloseAll releases every connection.
func (s *ConnectionSet) CloseAll() {
	for _, c := range s.Connections() {
		c.Release()
	}
}
