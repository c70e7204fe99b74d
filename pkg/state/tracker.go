package state

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackingTerminated indicates that tracking was terminated.
var ErrTrackingTerminated = errors.New("tracking terminated")

// Tracker provides index-based state tracking. Waiters block until the state
// index moves away from the index that they last observed.
type Tracker struct {
	// lock guards the remaining fields.
	lock sync.Mutex
	// index is the current state index.
	index uint64
	// terminated indicates whether or not tracking has been terminated.
	terminated bool
	// changed is closed (and replaced) whenever the index changes.
	changed chan struct{}
}

// NewTracker creates a new tracker instance with state index 1.
func NewTracker() *Tracker {
	return &Tracker{
		index:   1,
		changed: make(chan struct{}),
	}
}

// Terminate terminates tracking, waking all waiters. It is idempotent.
func (t *Tracker) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.terminated {
		t.terminated = true
		close(t.changed)
	}
}

// NotifyOfChange increments the state index and wakes waiters. It is a no-op
// once tracking has been terminated.
func (t *Tracker) NotifyOfChange() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.terminated {
		return
	}
	t.index++
	close(t.changed)
	t.changed = make(chan struct{})
}

// WaitForChange waits for the state index to differ from previousIndex. It
// returns the current index along with context.Canceled (or
// context.DeadlineExceeded) if the context is done first, or
// ErrTrackingTerminated if tracking was terminated.
func (t *Tracker) WaitForChange(ctx context.Context, previousIndex uint64) (uint64, error) {
	for {
		t.lock.Lock()
		index, terminated, changed := t.index, t.terminated, t.changed
		t.lock.Unlock()
		if terminated {
			return index, ErrTrackingTerminated
		} else if index != previousIndex {
			return index, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return index, ctx.Err()
		}
	}
}
