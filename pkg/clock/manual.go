package clock

import (
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when told to.
//
// With auto-advance enabled, NewTimer moves the clock forward by the timer
// duration and fires the timer immediately, so code that sleeps completes
// instantly while still observing the elapsed time.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	auto   bool
	timers []*manualTimer
	sleeps []time.Duration
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// SetAutoAdvance toggles auto-advance mode.
func (m *Manual) SetAutoAdvance(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auto = on
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and fires every timer that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advanceLocked(d)
}

// NewTimer creates a timer firing after d of manual time.
func (m *Manual) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sleeps = append(m.sleeps, d)
	t := &manualTimer{
		clock:    m,
		ch:       make(chan time.Time, 1),
		deadline: m.now.Add(d),
	}
	m.timers = append(m.timers, t)

	if m.auto || d <= 0 {
		if d > 0 {
			m.advanceLocked(d)
		} else {
			m.fireDueLocked()
		}
	}
	return t
}

// Sleeps returns every duration passed to NewTimer, in call order.
func (m *Manual) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.sleeps))
	copy(out, m.sleeps)
	return out
}

// PendingTimers returns the number of timers neither fired nor stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) advanceLocked(d time.Duration) {
	m.now = m.now.Add(d)
	m.fireDueLocked()
}

func (m *Manual) fireDueLocked() {
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.deadline.After(m.now) {
			t.ch <- m.now
			continue
		}
		kept = append(kept, t)
	}
	m.timers = kept
}

func (m *Manual) removeLocked(target *manualTimer) bool {
	for i, t := range m.timers {
		if t == target {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	clock    *Manual
	ch       chan time.Time
	deadline time.Time
}

func (t *manualTimer) C() <-chan time.Time { return t.ch }

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeLocked(t)
}
