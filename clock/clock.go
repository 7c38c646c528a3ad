// Package clock supplies the monotonic millisecond clock consumed by the timer
// service and the transport layer.
//
// Production code uses RealTimeProvider. Tests inject a MockTimeProvider and
// advance it explicitly:
//
//	mock := clock.NewMockTimeProvider(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	svc := timer.NewService(timer.WithTimeProvider(mock))
//	mock.Advance(50 * time.Millisecond)
package clock

import (
	"sync"
	"time"
)

// TimeProvider abstracts the current time so deadline logic can be tested
// deterministically. Implementations must be safe for concurrent use.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using the system clock. Values
// returned by Now carry Go's monotonic reading, so differences between them are
// immune to wall-clock jumps.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// defaultTimeProvider is the package-level default used when no provider is set.
var defaultTimeProvider TimeProvider = RealTimeProvider{}

// SetDefaultTimeProvider sets the package-level default time provider.
// Pass nil to reset to the system clock.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	defaultTimeProvider = tp
}

// Get returns tp if non-nil, otherwise the package-level default.
func Get(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return defaultTimeProvider
}

// Monotonic converts a TimeProvider into a millisecond counter anchored at the
// moment it was created.
type Monotonic struct {
	tp    TimeProvider
	epoch time.Time
}

// NewMonotonic anchors a millisecond counter at tp.Now().
func NewMonotonic(tp TimeProvider) *Monotonic {
	tp = Get(tp)
	return &Monotonic{tp: tp, epoch: tp.Now()}
}

// NowMillis returns the milliseconds elapsed since the counter was anchored.
func (m *Monotonic) NowMillis() int64 {
	return m.tp.Now().Sub(m.epoch).Milliseconds()
}

// MockTimeProvider is a controllable clock for tests.
type MockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

// NewMockTimeProvider creates a MockTimeProvider starting at the given time.
func NewMockTimeProvider(start time.Time) *MockTimeProvider {
	return &MockTimeProvider{currentTime: start}
}

// Now returns the mock's current time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// Advance moves the mock time forward by d.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.currentTime = m.currentTime.Add(d)
	m.mu.Unlock()
}

// Set moves the mock time to t.
func (m *MockTimeProvider) Set(t time.Time) {
	m.mu.Lock()
	m.currentTime = t
	m.mu.Unlock()
}
