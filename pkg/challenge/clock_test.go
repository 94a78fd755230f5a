package challenge

import (
	"sync"
	"time"
)

// fakeClock is a manual Scheduler and Clock. Timers fire synchronously, on
// the goroutine calling Advance, in due-time order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves time forward by d, firing every timer that falls due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Active returns how many timers are scheduled and neither fired nor stopped.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Started returns how many timers were ever scheduled.
func (c *fakeClock) Started() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// recorder is a Listener that keeps every event.
type recorder struct {
	mu        sync.Mutex
	progress  []Progress
	summaries []Summary
}

func (r *recorder) TaskInProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) AllTasksCompleted(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

func (r *recorder) Progress() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Progress, len(r.progress))
	copy(out, r.progress)
	return out
}

func (r *recorder) Completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}

// advances returns the kinds reported by CauseStart and CauseAdvance events.
func (r *recorder) advances() []Kind {
	var kinds []Kind
	for _, p := range r.Progress() {
		if p.Cause == CauseStart || p.Cause == CauseAdvance {
			kinds = append(kinds, p.Task.Kind)
		}
	}
	return kinds
}

func heldFor(k Kind) FaceMeasurement {
	switch k {
	case Smile:
		return FaceMeasurement{YawDegrees: 0, SmilingProbability: 0.9}
	case TurnLeft:
		return FaceMeasurement{YawDegrees: -20}
	default:
		return FaceMeasurement{YawDegrees: 0}
	}
}

func brokenFor(k Kind) FaceMeasurement {
	switch k {
	case Smile:
		return FaceMeasurement{YawDegrees: 0, SmilingProbability: 0.1}
	case TurnLeft:
		return FaceMeasurement{YawDegrees: 0}
	default:
		return FaceMeasurement{YawDegrees: 25}
	}
}
