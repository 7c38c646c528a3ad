// Package socket provides a minimal non-blocking socket primitive and a
// readiness Reactor that multiplexes every registered socket in one pass.
//
// # Architecture
//
// A Socket owns a single OS handle and moves through four states:
//
//	Disconnected -> Connecting -> Connected      (active open)
//	Disconnected -> Listening                    (passive open)
//	Listening    -> Accept(out) -> out Connected
//
// Sockets are created against an explicit Reactor instead of a process-wide
// registry. Reactor.PollEvents performs one poll(2) pass over the registered
// sockets and drives the state machine:
//
//	r := socket.NewReactor()
//	s := socket.New(r)
//	s.SetHandler(socket.HandlerFunc(func(ev socket.Event) error {
//	    switch ev.Kind {
//	    case socket.EventConnected:
//	        // ev.OK reports whether the connect finished cleanly
//	    case socket.EventRecv:
//	        // drain with s.Recv; a returned error tears the socket down
//	    }
//	    return nil
//	}))
//	_ = s.Create(socket.ProtocolTCP)
//	_ = s.SetNonBlocking()
//	_ = s.Connect("127.0.0.1", 5327)
//	for {
//	    r.PollEvents(10 * time.Millisecond)
//	}
//
// # Events
//
// The six callback slots of a classic socket wrapper (accepted, connected,
// recv, send, exception, disconnected) are folded into one tagged Event
// delivered to a single Handler. Only the error returned for EventRecv and
// EventSend is meaningful: it makes the reactor close the socket and then
// deliver EventDisconnected.
//
// # Error Handling
//
// Setup failures (create, bind, listen, connect) are returned synchronously and
// wrap the underlying errno with github.com/pkg/errors. Failures discovered
// during a poll pass are only ever reported through events. Would-block is not
// an error condition: Send and Recv report it as ErrWouldBlock or
// ErrNoBufferSpace, and IsTemporary classifies both.
//
// # Thread Safety
//
// A Reactor and its sockets belong to one goroutine. Every handler runs
// synchronously inside PollEvents or Accept, so no two handlers overlap.
package socket
