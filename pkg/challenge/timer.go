package challenge

import "time"

// Timer is a single-shot timer handle.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler starts single-shot timers. Machine uses it for the debounce
// timer so tests can substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// RealScheduler schedules on the wall clock via time.AfterFunc.
type RealScheduler struct{}

// AfterFunc calls f in its own goroutine after d.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Now returns time.Now.
func (RealScheduler) Now() time.Time {
	return time.Now()
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(d time.Duration, f func()) Timer

// AfterFunc calls fn(d, f).
func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) Timer {
	return fn(d, f)
}
