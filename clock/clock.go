// Package clock abstracts wall-clock time and timers so that session timers
// can be driven by a virtual clock in tests.
package clock

import "time"

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	// Stop prevents the callback from running. It reports false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Clock supplies the current time and schedules callbacks
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the Clock backed by the time package
type Real struct{}

// Now returns time.Now
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
