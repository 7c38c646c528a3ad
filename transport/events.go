package transport

// ConnEventKind identifies a TCPConnection event.
type ConnEventKind int

const (
	// ConnEventConnected reports the outcome of an active open. Accepted
	// connections get it with OK set right after ListenerEventAccepted, once
	// the listener handler had a chance to install a ConnHandler.
	ConnEventConnected ConnEventKind = iota + 1
	// ConnEventRecv delivers one complete package.
	ConnEventRecv
	// ConnEventSend confirms one package was handed to the kernel in full.
	ConnEventSend
	// ConnEventException reports an asynchronous socket or protocol error.
	ConnEventException
	// ConnEventDisconnected reports the connection was torn down by the peer or
	// by an error.
	ConnEventDisconnected
)

func (k ConnEventKind) String() string {
	switch k {
	case ConnEventConnected:
		return "connected"
	case ConnEventRecv:
		return "recv"
	case ConnEventSend:
		return "send"
	case ConnEventException:
		return "exception"
	case ConnEventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnEvent is the tagged record delivered to a ConnHandler.
//
// For ConnEventRecv, Payload aliases the receive buffer and is only valid
// until the handler returns. For ConnEventSend it never aliases connection
// buffers.
type ConnEvent struct {
	Kind    ConnEventKind
	Conn    *TCPConnection
	Seq     uint32
	Payload []byte
	OK      bool
	Err     error
}

// ConnHandler receives TCPConnection events on the polling goroutine.
type ConnHandler interface {
	HandleConnEvent(ev ConnEvent)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ev ConnEvent)

// HandleConnEvent calls f(ev).
func (f ConnHandlerFunc) HandleConnEvent(ev ConnEvent) { f(ev) }

// ListenerEventKind identifies a TCPListener event.
type ListenerEventKind int

const (
	ListenerEventStarted ListenerEventKind = iota + 1
	ListenerEventAccepted
	ListenerEventStopped
)

func (k ListenerEventKind) String() string {
	switch k {
	case ListenerEventStarted:
		return "started"
	case ListenerEventAccepted:
		return "accepted"
	case ListenerEventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ListenerEvent is delivered to a ListenerHandler. Conn is set for
// ListenerEventAccepted; install its handler before returning.
type ListenerEvent struct {
	Kind     ListenerEventKind
	Listener *TCPListener
	Conn     *TCPConnection
}

// ListenerHandler receives TCPListener events.
type ListenerHandler interface {
	HandleListenerEvent(ev ListenerEvent)
}

// ListenerHandlerFunc adapts a function to ListenerHandler.
type ListenerHandlerFunc func(ev ListenerEvent)

// HandleListenerEvent calls f(ev).
func (f ListenerHandlerFunc) HandleListenerEvent(ev ListenerEvent) { f(ev) }
