// Package clock provides the cancellable one-shot timers used for debounce
// and reconnect scheduling, plus a manually driven fake for tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled before it fires.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer already fired
	// or was already stopped.
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// System schedules callbacks on the runtime timer heap.
func System(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manual clock. Callbacks fire only when Advance moves the clock
// past their deadline, on the goroutine calling Advance.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	seq      int
	deadline time.Duration
	delay    time.Duration
	f        func()
	stopped  bool
	fired    bool
}

// NewFake returns a fake clock at time zero.
func NewFake() *Fake {
	return &Fake{}
}

// AfterFunc implements the AfterFunc signature on the fake clock.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, seq: c.seq, deadline: c.now + d, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Stop cancels the fake timer.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d and runs every callback whose
// deadline has been reached, in deadline order. Callbacks scheduled by
// other callbacks run too if they fall inside the window.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.deadline
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

func (c *Fake) nextDueLocked(target time.Duration) *fakeTimer {
	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		live = append(live, t)
		if t.deadline <= target {
			due = append(due, t)
		}
	}
	c.timers = live
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, in scheduling order.
func (c *Fake) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}
