// Package sched abstracts delayed task execution so reconnect and retry
// timing can be driven deterministically in tests.
package sched

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a scheduled task. Stop reports whether the task was
// cancelled before it ran.
type Timer interface {
	Stop() bool
}

// Scheduler schedules a function to run after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real returns a Scheduler backed by time.AfterFunc.
func Real() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Manual is a deterministic Scheduler for tests. Tasks fire only when the
// clock is advanced past their deadline, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending []*manualTimer
}

// NewManual creates a Manual scheduler starting at an arbitrary fixed time.
func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0)}
}

type manualTimer struct {
	owner    *Manual
	id       int
	deadline time.Time
	fn       func()
	stopped  bool
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc schedules fn to run once the clock advances by at least d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &manualTimer{owner: m, id: m.nextID, deadline: m.now.Add(d), fn: fn}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward and fires every due, unstopped task in
// deadline order. Tasks scheduled while firing are honored within the same
// advance if their deadline has already passed.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popDue()
		if t == nil {
			return
		}
		t.fn()
	}
}

// Pending returns the number of scheduled, unstopped tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) popDue() *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].deadline.Equal(m.pending[j].deadline) {
			return m.pending[i].id < m.pending[j].id
		}
		return m.pending[i].deadline.Before(m.pending[j].deadline)
	})

	for i, t := range m.pending {
		if t.stopped {
			continue
		}
		if !t.deadline.After(m.now) {
			t.stopped = true
			m.pending = append(m.pending[:i:i], m.pending[i+1:]...)
			return t
		}
		break
	}
	return nil
}
