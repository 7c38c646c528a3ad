// Package transport frames NetPackages over non-blocking TCP sockets.
//
// # Wire Format
//
// Every package is an 8-byte header followed by the payload, all integers
// big-endian:
//
//	+--------+--------+----------------+---------------
//	| magic  | length |      seq       | payload ...
//	| uint16 | uint16 |     uint32     |
//	+--------+--------+----------------+---------------
//
// magic is always 12345 and length counts the header, so the largest
// payload is 65535-8 bytes.
//
// # Driving a Network
//
// A Network owns a socket reactor, the registered listeners and
// connections, and a timer service. Everything runs on the goroutine that
// calls Iterate:
//
//	net, err := transport.NewNetwork(transport.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer net.Close()
//
//	ln := net.NewListener(transport.ListenerHandlerFunc(func(ev transport.ListenerEvent) {
//	    if ev.Kind == transport.ListenerEventAccepted {
//	        ev.Conn.SetHandler(echo)
//	    }
//	}))
//	if err := ln.Listen("127.0.0.1", 5327, 0); err != nil {
//	    return err
//	}
//	for {
//	    if err := net.Iterate(); err != nil {
//	        return err
//	    }
//	}
//
// # Sending
//
// TCPConnection.Send writes straight to the socket when nothing older is
// buffered. Whatever the kernel refuses is kept in a bounded send buffer and
// flushed when the socket turns writable; a full buffer rejects the package
// with ErrSendBufferFull. ConnEventSend confirms each package once all of
// its bytes have been handed to the kernel, in submission order.
//
// # Receiving
//
// Each readable notification performs one read. Every complete package in
// the receive buffer is delivered as ConnEventRecv; a trailing partial
// package waits for the next read. A bad magic or impossible length tears the
// connection down.
package transport
