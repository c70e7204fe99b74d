package watching

import (
	"context"
	"testing"
	"time"
)

// newTestSignaler creates a signaler with a single registered handle.
func newTestSignaler(maximumPending int) *signaler {
	s := newSignaler(maximumPending)
	s.lock.Lock()
	s.registerLocked(1, "/root")
	s.lock.Unlock()
	return s
}

// waitForSignaledWithTimeout waits for a signaled handle with a short timeout.
func waitForSignaledWithTimeout(s *signaler) (Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.WaitForSignaled(ctx)
}

// TestSignalerBatching tests that a handle is signaled once per batch and that
// events delivered while signaled are retained in order.
func TestSignalerBatching(t *testing.T) {
	s := newTestSignaler(DefaultMaximumPendingEvents)

	// Deliver events and verify that the handle is signaled once.
	s.deliver(1, Event{Kind: EventKindCreate, Name: "a.xml"})
	s.deliver(1, Event{Kind: EventKindModify, Name: "a.xml"})
	if handle, err := waitForSignaledWithTimeout(s); err != nil {
		t.Fatal("unable to wait for signaled handle:", err)
	} else if handle != 1 {
		t.Fatal("unexpected handle signaled:", handle)
	}

	// Deliver an event while the handle is held by the consumer.
	s.deliver(1, Event{Kind: EventKindCreate, Name: "b.xml"})
	if events := s.PollEvents(1); len(events) != 3 {
		t.Fatal("unexpected event count:", len(events))
	} else if events[2].Name != "b.xml" {
		t.Error("events out of order")
	}

	// Verify that a deliver-before-rearm race doesn't lose the signal.
	s.deliver(1, Event{Kind: EventKindCreate, Name: "c.xml"})
	if !s.Rearm(1) {
		t.Fatal("handle unexpectedly invalid")
	}
	if handle, err := waitForSignaledWithTimeout(s); err != nil || handle != 1 {
		t.Fatal("handle not re-signaled after rearm with pending events:", err)
	}
	if events := s.PollEvents(1); len(events) != 1 || events[0].Name != "c.xml" {
		t.Error("unexpected events after re-signal:", events)
	}
	if !s.Rearm(1) {
		t.Fatal("handle unexpectedly invalid")
	}

	// Verify that nothing further is signaled.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.WaitForSignaled(ctx); err != context.DeadlineExceeded {
		t.Error("unexpected wait result on idle signaler:", err)
	}
}

// TestSignalerCoalescing tests that repeated modifications coalesce.
func TestSignalerCoalescing(t *testing.T) {
	s := newTestSignaler(DefaultMaximumPendingEvents)
	s.deliver(1, Event{Kind: EventKindModify, Name: "a.xml"})
	s.deliver(1, Event{Kind: EventKindModify, Name: "a.xml"})
	s.deliver(1, Event{Kind: EventKindModify, Name: "b.xml"})
	s.deliver(1, Event{Kind: EventKindModify, Name: "a.xml"})
	if events := s.PollEvents(1); len(events) != 3 {
		t.Error("unexpected event count after coalescing:", len(events))
	}
}

// TestSignalerPendingLimit tests that exceeding the pending limit produces a
// single trailing overflow event.
func TestSignalerPendingLimit(t *testing.T) {
	s := newTestSignaler(4)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		s.deliver(1, Event{Kind: EventKindCreate, Name: name})
	}
	events := s.PollEvents(1)
	if len(events) != 5 {
		t.Fatal("unexpected event count:", len(events))
	}
	if events[4].Kind != EventKindOverflow {
		t.Error("final event is not an overflow:", events[4].Kind)
	}

	// Verify that polling resets the overflow state.
	s.deliver(1, Event{Kind: EventKindCreate, Name: "h"})
	if events := s.PollEvents(1); len(events) != 1 || events[0].Name != "h" {
		t.Error("overflow state not reset by polling:", events)
	}
}

// TestSignalerGlobalOverflow tests that a global overflow signals every valid
// handle exactly once.
func TestSignalerGlobalOverflow(t *testing.T) {
	s := newTestSignaler(DefaultMaximumPendingEvents)
	s.lock.Lock()
	s.registerLocked(2, "/root/a")
	s.lock.Unlock()

	s.overflow()
	s.overflow()

	signaled := make(map[Handle]bool)
	for i := 0; i < 2; i++ {
		handle, err := waitForSignaledWithTimeout(s)
		if err != nil {
			t.Fatal("unable to wait for signaled handle:", err)
		}
		signaled[handle] = true
		if events := s.PollEvents(handle); len(events) != 1 || events[0].Kind != EventKindOverflow {
			t.Error("unexpected events for overflowed handle:", events)
		}
	}
	if !signaled[1] || !signaled[2] {
		t.Error("not every handle was signaled:", signaled)
	}
}

// TestSignalerInvalidation tests that invalidation signals the handle and
// causes Rearm to fail.
func TestSignalerInvalidation(t *testing.T) {
	s := newTestSignaler(DefaultMaximumPendingEvents)
	s.invalidate(1)
	if handle, err := waitForSignaledWithTimeout(s); err != nil || handle != 1 {
		t.Fatal("invalidated handle not signaled:", err)
	}
	if s.Rearm(1) {
		t.Error("rearm succeeded for invalidated handle")
	}

	// Events for the invalidated handle are discarded.
	s.deliver(1, Event{Kind: EventKindCreate, Name: "a.xml"})
	if events := s.PollEvents(1); len(events) != 0 {
		t.Error("events delivered to invalidated handle")
	}
}

// TestSignalerClose tests that closure unblocks a waiting consumer.
func TestSignalerClose(t *testing.T) {
	s := newTestSignaler(DefaultMaximumPendingEvents)
	result := make(chan error, 1)
	go func() {
		_, err := s.WaitForSignaled(context.Background())
		result <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if !s.close() {
		t.Fatal("initial close reported as redundant")
	}
	if s.close() {
		t.Error("repeated close not reported as redundant")
	}
	select {
	case err := <-result:
		if err != ErrWatchTerminated {
			t.Error("unexpected wait result after close:", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait not unblocked by close")
	}
}

// TestBackendUnmarshalText tests Backend text unmarshaling.
func TestBackendUnmarshalText(t *testing.T) {
	// Define test cases.
	testCases := []struct {
		text          string
		expected      Backend
		expectFailure bool
	}{
		{"", BackendDefault, false},
		{"default", BackendDefault, false},
		{"inotify", BackendInotify, false},
		{"fsnotify", BackendFSNotify, false},
		{"kqueue", BackendDefault, true},
	}

	// Process test cases.
	for _, testCase := range testCases {
		var backend Backend
		if err := backend.UnmarshalText([]byte(testCase.text)); err != nil {
			if !testCase.expectFailure {
				t.Errorf("unable to unmarshal text (%s): %s", testCase.text, err)
			}
		} else if testCase.expectFailure {
			t.Error("unmarshaling succeeded unexpectedly for text:", testCase.text)
		} else if backend != testCase.expected {
			t.Errorf("unmarshaled backend (%s) does not match expected (%s)", backend, testCase.expected)
		}
	}
}
