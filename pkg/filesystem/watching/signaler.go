package watching

import (
	"context"
	"sync"
)

// handleState is the queueing state for a single handle.
type handleState struct {
	// directory is the watched directory.
	directory string
	// pending is the list of events awaiting PollEvents.
	pending []Event
	// overflowed indicates that pending ends with an overflow event and that
	// further events are being dropped.
	overflowed bool
	// signaled indicates that the handle is either queued for or held by the
	// consumer and won't be queued again until it's re-armed.
	signaled bool
	// valid indicates whether or not the handle is still valid.
	valid bool
}

// signaler implements the queueing core shared by all backends. Backends
// translate native notifications into calls to deliver, overflow, and
// invalidate, and the signaler provides the register/wait/poll/rearm
// semantics of Primitive on top of them.
type signaler struct {
	// maximumPending is the per-handle pending event limit.
	maximumPending int
	// lock guards all fields below. Backends may hold it while performing
	// native registration so that events for a new handle can't arrive before
	// the handle's state exists.
	lock sync.Mutex
	// handles maps handles to their state.
	handles map[Handle]*handleState
	// ready is the FIFO queue of signaled handles awaiting the consumer.
	ready []Handle
	// failure records a fatal backend error.
	failure error
	// closed indicates whether or not the signaler has been closed.
	closed bool
	// wake is signaled when the ready queue becomes non-empty.
	wake chan struct{}
	// done is closed when the signaler is closed.
	done chan struct{}
}

// newSignaler creates a new signaler.
func newSignaler(maximumPending int) *signaler {
	return &signaler{
		maximumPending: maximumPending,
		handles:        make(map[Handle]*handleState),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// registerLocked records state for a handle. If the handle is already known
// and valid, its state is preserved. The caller must hold the lock.
func (s *signaler) registerLocked(handle Handle, directory string) {
	if state, ok := s.handles[handle]; ok && state.valid {
		state.directory = directory
		return
	}
	s.handles[handle] = &handleState{directory: directory, valid: true}
}

// signalLocked queues a handle for the consumer if it isn't already signaled.
// The caller must hold the lock.
func (s *signaler) signalLocked(handle Handle, state *handleState) {
	if state.signaled {
		return
	}
	state.signaled = true
	s.ready = append(s.ready, handle)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// appendLocked appends an event to a handle's pending list, applying
// coalescing and the pending limit. The caller must hold the lock.
func (s *signaler) appendLocked(state *handleState, event Event) {
	// Once overflowed, events are dropped until the pending list is polled.
	if state.overflowed {
		return
	}

	// Coalesce repeated modifications of the same entry.
	if n := len(state.pending); n > 0 && event.Kind == EventKindModify {
		if last := state.pending[n-1]; last.Kind == EventKindModify && last.Name == event.Name {
			return
		}
	}

	// Record the event, converting it to an overflow if the limit has been
	// reached.
	if event.Kind == EventKindOverflow || len(state.pending) >= s.maximumPending {
		state.pending = append(state.pending, Event{Kind: EventKindOverflow})
		state.overflowed = true
	} else {
		state.pending = append(state.pending, event)
	}
}

// deliverLocked delivers an event to a handle. Events for unknown or invalid
// handles are discarded. The caller must hold the lock.
func (s *signaler) deliverLocked(handle Handle, event Event) {
	state, ok := s.handles[handle]
	if !ok || !state.valid {
		return
	}
	s.appendLocked(state, event)
	s.signalLocked(handle, state)
}

// deliver delivers an event to a handle.
func (s *signaler) deliver(handle Handle, event Event) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.deliverLocked(handle, event)
}

// overflow delivers an overflow event to every valid handle. It's used when
// the native facility reports that its own queue overflowed, since there's no
// indication of which directories lost events.
func (s *signaler) overflow() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for handle, state := range s.handles {
		if state.valid {
			s.appendLocked(state, Event{Kind: EventKindOverflow})
			s.signalLocked(handle, state)
		}
	}
}

// invalidateLocked marks a handle as invalid and signals it so that the
// consumer observes the invalidation through Rearm. The caller must hold the
// lock.
func (s *signaler) invalidateLocked(handle Handle) {
	state, ok := s.handles[handle]
	if !ok || !state.valid {
		return
	}
	state.valid = false
	s.signalLocked(handle, state)
}

// invalidate marks a handle as invalid.
func (s *signaler) invalidate(handle Handle) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.invalidateLocked(handle)
}

// fail records a fatal backend error and wakes the consumer.
func (s *signaler) fail(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failure == nil {
		s.failure = err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WaitForSignaled implements Primitive.WaitForSignaled.
func (s *signaler) WaitForSignaled(ctx context.Context) (Handle, error) {
	for {
		// Check for a queued handle or a terminal condition.
		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			return 0, ErrWatchTerminated
		} else if s.failure != nil {
			err := s.failure
			s.lock.Unlock()
			return 0, err
		} else if len(s.ready) > 0 {
			handle := s.ready[0]
			s.ready = s.ready[1:]
			s.lock.Unlock()
			return handle, nil
		}
		s.lock.Unlock()

		// Wait for a change.
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.done:
			return 0, ErrWatchTerminated
		case <-s.wake:
		}
	}
}

// PollEvents implements Primitive.PollEvents.
func (s *signaler) PollEvents(handle Handle) []Event {
	s.lock.Lock()
	defer s.lock.Unlock()
	state, ok := s.handles[handle]
	if !ok {
		return nil
	}
	events := state.pending
	state.pending = nil
	state.overflowed = false
	return events
}

// Rearm implements Primitive.Rearm.
func (s *signaler) Rearm(handle Handle) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	state, ok := s.handles[handle]
	if !ok {
		return false
	} else if !state.valid {
		delete(s.handles, handle)
		return false
	}
	if len(state.pending) > 0 {
		s.ready = append(s.ready, handle)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	} else {
		state.signaled = false
	}
	return true
}

// directory returns the directory associated with a handle.
func (s *signaler) directory(handle Handle) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if state, ok := s.handles[handle]; ok {
		return state.directory, true
	}
	return "", false
}

// close marks the signaler as closed and wakes the consumer. It reports
// whether or not this call performed the closure.
func (s *signaler) close() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

// isClosedLocked indicates whether or not the signaler has been closed. The
// caller must hold the lock.
func (s *signaler) isClosedLocked() bool {
	return s.closed
}
