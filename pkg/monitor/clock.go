package monitor

import (
	"time"
)

// Clock is a source of timestamps comparable with filesystem modification
// times.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// systemClock implements Clock using the system clock.
type systemClock struct{}

// Now implements Clock.Now.
func (systemClock) Now() time.Time {
	return time.Now()
}
