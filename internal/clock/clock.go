// Package clock abstracts wall time and timers so the sync engine can be
// driven deterministically in tests.
package clock

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
//
// Timer callbacks run on a goroutine owned by the clock implementation and
// must not assume they run on the caller's goroutine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock backed by package time.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc implements Clock.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
