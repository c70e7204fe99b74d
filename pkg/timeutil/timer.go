package timeutil

import (
	"time"
)

// StopAndDrainTimer stops a timer and performs a non-blocking drain on its
// channel. This allows a timer to be stopped and drained without any knowledge
// of its current state.
func StopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// WaitWithTimeout waits for done to be closed, giving up after timeout. It
// returns true if done was closed in time. A non-positive timeout only checks
// whether done is already closed.
func WaitWithTimeout(done <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer StopAndDrainTimer(timer)
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
