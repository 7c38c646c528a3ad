// Package netcore is an event-driven TCP networking core: non-blocking
// sockets multiplexed by readiness polling, length-prefixed NetPackage
// framing with bounded send and receive buffers, and a timer service whose
// callbacks run on the polling goroutine.
//
// # Getting Started
//
// Create a Core, start listeners or dial out, and drive the loop:
//
//	core, err := netcore.New(netcore.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Kill()
//
//	_, err = core.Listen("127.0.0.1", 5327, transport.ListenerHandlerFunc(
//	    func(ev transport.ListenerEvent) {
//	        if ev.Kind == transport.ListenerEventAccepted {
//	            ev.Conn.SetHandler(echo)
//	        }
//	    }))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for core.IsRunning() {
//	    core.Iterate()
//	    time.Sleep(core.IterationInterval())
//	}
//
// Run wraps the same loop and stops on context cancellation.
//
// # Packages
//
//   - [github.com/opd-ai/netcore/socket]: sockets and the readiness reactor
//   - [github.com/opd-ai/netcore/transport]: framing, listeners, connections
//   - [github.com/opd-ai/netcore/timer]: one-shot and repeating timers
//   - [github.com/opd-ai/netcore/limits]: package and buffer size limits
//   - [github.com/opd-ai/netcore/clock]: injectable time for tests
//
// # Threading
//
// Everything except the timer service's deadline goroutine runs on the
// goroutine that calls Iterate. Handlers may call back into the library,
// including Send, Disconnect, StartTimer and StopTimer.
package netcore
