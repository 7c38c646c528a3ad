package timer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore/clock"
)

// ID identifies a timer. InvalidID is never assigned.
type ID uint32

// InvalidID is the reserved "no timer" value.
const InvalidID ID = 0

// DefaultTick is how often the background goroutine checks deadlines.
const DefaultTick = 10 * time.Millisecond

// Callback runs on the dispatching goroutine. elapsed is the time since the
// timer was started or last fired.
type Callback func(id ID, elapsed time.Duration)

var (
	// ErrInvalidID indicates the reserved InvalidID was passed
	ErrInvalidID = errors.New("invalid timer id")

	// ErrNotFound indicates no live timer has the given id
	ErrNotFound = errors.New("timer not found")
)

// entry is one scheduled timer. Its position in the tree is keyed by
// (deadline, id), so an entry is always removed before its deadline changes.
type entry struct {
	id        ID
	deadline  int64 // ms on the service clock
	lastFired int64
	interval  int64
	callback  Callback
	repeat    bool
}

func entryLess(a, b *entry) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.id < b.id
}

// firedEvent is staged by the background goroutine for PollEvents.
type firedEvent struct {
	id       ID
	elapsed  time.Duration
	callback Callback
	alive    atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithTimeProvider replaces the system clock.
func WithTimeProvider(tp clock.TimeProvider) Option {
	return func(s *Service) {
		s.clock = clock.NewMonotonic(tp)
	}
}

// WithTick sets the deadline check period of the background goroutine.
func WithTick(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tick = d
		}
	}
}

// Service schedules one-shot and repeating timers.
type Service struct {
	clock *clock.Monotonic
	tick  time.Duration

	listMu     sync.Mutex
	timers     *btree.BTreeG[*entry]
	byID       map[ID]*entry
	toAdd      []*entry
	toDelete   []ID
	nextID     ID
	inCallback bool

	queueMu     sync.Mutex
	queue       *queue.Queue // of *firedEvent
	dispatching []*firedEvent

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService creates a Service and starts its background goroutine.
// Call Close to stop and join it.
func NewService(opts ...Option) *Service {
	s := newService(opts...)
	s.wg.Add(1)
	go s.run()

	logrus.WithFields(logrus.Fields{
		"function": "NewService",
		"tick":     s.tick.String(),
	}).Debug("Timer service started")
	return s
}

// newService builds a Service without starting the background goroutine.
func newService(opts ...Option) *Service {
	s := &Service{
		tick:  DefaultTick,
		byID:  make(map[ID]*entry),
		queue: queue.New(),
		stop:  make(chan struct{}),
	}
	s.timers = btree.NewG[*entry](8, entryLess)
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.NewMonotonic(nil)
	}
	return s
}

// StartTimer schedules cb to run interval from now, and every interval after
// that when repeat is set. A repeating timer never fires more often than once
// per millisecond.
func (s *Service) StartTimer(interval time.Duration, repeat bool, cb Callback) ID {
	now := s.clock.NowMillis()
	ms := interval.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if repeat && ms == 0 {
		ms = 1
	}

	s.listMu.Lock()
	defer s.listMu.Unlock()

	t := &entry{
		id:        s.allocateIDLocked(),
		deadline:  now + ms,
		lastFired: now,
		interval:  ms,
		callback:  cb,
		repeat:    repeat,
	}
	if s.inCallback {
		s.toAdd = append(s.toAdd, t)
	} else {
		s.insertLocked(t)
	}

	logrus.WithFields(logrus.Fields{
		"function": "StartTimer",
		"timer_id": t.id,
		"interval": interval.String(),
		"repeat":   repeat,
		"staged":   s.inCallback,
	}).Debug("Timer started")
	return t.id
}

// allocateIDLocked returns the next free id, wrapping past InvalidID.
func (s *Service) allocateIDLocked() ID {
	for {
		s.nextID++
		if s.nextID == InvalidID {
			continue
		}
		if _, used := s.byID[s.nextID]; used {
			continue
		}
		if s.stagedAddIndexLocked(s.nextID) >= 0 {
			continue
		}
		return s.nextID
	}
}

// StopTimer cancels a timer. An event already fired for it but not yet
// dispatched is discarded. It is safe to call from inside a callback,
// including the timer's own.
func (s *Service) StopTimer(id ID) error {
	if id == InvalidID {
		return ErrInvalidID
	}

	s.listMu.Lock()
	defer s.listMu.Unlock()

	killed := s.killEventsLocked(id)

	if s.inCallback {
		if i := s.stagedAddIndexLocked(id); i >= 0 {
			s.toAdd = append(s.toAdd[:i], s.toAdd[i+1:]...)
			return nil
		}
		if _, ok := s.byID[id]; ok {
			s.toDelete = append(s.toDelete, id)
			return nil
		}
	} else if s.removeLocked(id) {
		return nil
	}

	if killed {
		return nil
	}
	return ErrNotFound
}

func (s *Service) stagedAddIndexLocked(id ID) int {
	for i, t := range s.toAdd {
		if t.id == id {
			return i
		}
	}
	return -1
}

func (s *Service) insertLocked(t *entry) {
	s.byID[t.id] = t
	s.timers.ReplaceOrInsert(t)
}

func (s *Service) removeLocked(id ID) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	s.timers.Delete(t)
	delete(s.byID, id)
	return true
}

// killEventsLocked marks every undispatched event for id as dead. The caller
// holds listMu; queueMu is always taken after it.
func (s *Service) killEventsLocked(id ID) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	killed := false
	for i := 0; i < s.queue.Length(); i++ {
		ev := s.queue.Get(i).(*firedEvent)
		if ev.id == id && ev.alive.Swap(false) {
			killed = true
		}
	}
	for _, ev := range s.dispatching {
		if ev.id == id && ev.alive.Swap(false) {
			killed = true
		}
	}
	return killed
}

// run is the background goroutine.
func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.update()
		}
	}
}

// update moves every expired timer into the dispatch queue and re-inserts
// repeating ones at now + interval.
func (s *Service) update() {
	now := s.clock.NowMillis()

	s.listMu.Lock()
	defer s.listMu.Unlock()

	for {
		t, ok := s.timers.Min()
		if !ok || t.deadline > now {
			return
		}
		s.timers.DeleteMin()

		ev := &firedEvent{
			id:       t.id,
			elapsed:  time.Duration(now-t.lastFired) * time.Millisecond,
			callback: t.callback,
		}
		ev.alive.Store(true)

		if t.repeat {
			t.lastFired = now
			t.deadline = now + t.interval
			s.timers.ReplaceOrInsert(t)
		} else {
			delete(s.byID, t.id)
		}

		s.queueMu.Lock()
		s.queue.Add(ev)
		s.queueMu.Unlock()
	}
}

// PollEvents dispatches every queued event in firing order on the calling
// goroutine, then applies the timer additions and removals requested by the
// callbacks. It returns the number of callbacks invoked.
func (s *Service) PollEvents() int {
	s.queueMu.Lock()
	batch := make([]*firedEvent, 0, s.queue.Length())
	for s.queue.Length() > 0 {
		batch = append(batch, s.queue.Remove().(*firedEvent))
	}
	s.dispatching = batch
	s.queueMu.Unlock()

	s.listMu.Lock()
	s.inCallback = true
	s.listMu.Unlock()
	defer s.finishDispatch()

	fired := 0
	for _, ev := range batch {
		if !ev.alive.Load() {
			continue
		}
		ev.callback(ev.id, ev.elapsed)
		fired++
	}
	return fired
}

// finishDispatch merges the staging lists into the live tree.
func (s *Service) finishDispatch() {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	s.inCallback = false

	s.queueMu.Lock()
	s.dispatching = nil
	s.queueMu.Unlock()

	for _, id := range s.toDelete {
		s.removeLocked(id)
		// the background goroutine may have fired it again meanwhile
		s.killEventsLocked(id)
	}
	for _, t := range s.toAdd {
		s.insertLocked(t)
	}
	s.toDelete = s.toDelete[:0]
	s.toAdd = s.toAdd[:0]
}

// Len returns the number of scheduled timers, staged additions excluded.
func (s *Service) Len() int {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return len(s.byID)
}

// Pending returns the number of fired events awaiting PollEvents.
func (s *Service) Pending() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.Length()
}

// Close stops and joins the background goroutine. Queued events are kept
// and can still be dispatched. Close is idempotent.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		logrus.WithFields(logrus.Fields{
			"function": "Service.Close",
		}).Debug("Timer service stopped")
	})
}
