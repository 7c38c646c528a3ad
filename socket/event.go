package socket

// EventKind identifies which socket transition an Event reports.
type EventKind int

const (
	// EventAccepted is delivered to a listening socket; Peer is the new client.
	EventAccepted EventKind = iota + 1
	// EventConnected reports the outcome of a connect or accept in OK/Err.
	EventConnected
	// EventRecv means the socket is readable.
	EventRecv
	// EventSend means the socket is writable.
	EventSend
	// EventException reports exceptional readiness; Err holds the cause.
	EventException
	// EventDisconnected is delivered after the reactor has closed a broken socket.
	EventDisconnected
)

var eventKindNames = map[EventKind]string{
	EventAccepted:     "accepted",
	EventConnected:    "connected",
	EventRecv:         "recv",
	EventSend:         "send",
	EventException:    "exception",
	EventDisconnected: "disconnected",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is the single tagged record replacing per-slot socket callbacks.
type Event struct {
	Kind   EventKind
	Socket *Socket // socket the event is delivered to
	Peer   *Socket // accepted client, EventAccepted only
	OK     bool    // EventConnected only
	Err    error
}

// Handler receives every event of the sockets it is attached to.
// The returned error is only consulted for EventRecv and EventSend.
type Handler interface {
	HandleSocketEvent(ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev Event) error

// HandleSocketEvent calls f(ev).
func (f HandlerFunc) HandleSocketEvent(ev Event) error {
	return f(ev)
}
