// Package timer implements a cross-goroutine timer service: one background
// goroutine detects expired deadlines and queues them, and the host's main
// loop dispatches the queue through PollEvents.
//
// # Usage
//
//	svc := timer.NewService()
//	defer svc.Close()
//
//	id := svc.StartTimer(100*time.Millisecond, true, func(id timer.ID, elapsed time.Duration) {
//	    // runs on the goroutine that calls PollEvents
//	})
//
//	for running {
//	    svc.PollEvents()
//	    time.Sleep(10 * time.Millisecond)
//	}
//	_ = svc.StopTimer(id)
//
// # Reentrancy
//
// Callbacks may start and stop timers, including their own. Mutations requested
// while PollEvents is dispatching are staged and merged once the dispatch loop
// completes, so a timer started from a callback never fires within the same
// PollEvents call and a repeating timer that stops itself never fires again.
//
// # Thread Safety
//
// The deadline tree and staging lists are guarded by one mutex, the event
// queue by another. Neither is held while user callbacks run.
package timer
