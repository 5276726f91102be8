package sched

import (
	"testing"
	"time"
)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []string

	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	m.AfterFunc(3*time.Second, func() { order = append(order, "c") })

	m.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("after 2s expected [a b], got %v", order)
	}

	m.Advance(1 * time.Second)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("after 3s expected [a b c], got %v", order)
	}
}

func TestManual_StopPreventsFiring(t *testing.T) {
	m := NewManual()
	fired := false

	timer := m.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("first Stop should report cancellation")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report already stopped")
	}

	m.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped task must not fire")
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending tasks, got %d", m.Pending())
	}
}

func TestManual_TaskScheduledDuringAdvanceFires(t *testing.T) {
	m := NewManual()
	var fired []string

	m.AfterFunc(time.Second, func() {
		fired = append(fired, "outer")
		m.AfterFunc(0, func() { fired = append(fired, "inner") })
	})

	m.Advance(time.Second)
	if len(fired) != 2 || fired[1] != "inner" {
		t.Fatalf("expected inner task to fire in same advance, got %v", fired)
	}
}
