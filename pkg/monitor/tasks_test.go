package monitor

import (
	"context"
	"testing"
	"time"
)

// TestTaskPoolWait tests that waiting covers every submitted task.
func TestTaskPoolWait(t *testing.T) {
	pool := newTaskPool(nil)
	if !pool.wait(0) {
		t.Error("new pool not idle")
	}

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		pool.submit("test", func(_ context.Context) {
			<-release
		})
	}
	if pool.outstanding() != 3 {
		t.Error("unexpected outstanding count:", pool.outstanding())
	}
	if pool.wait(10 * time.Millisecond) {
		t.Error("wait succeeded with blocked tasks")
	}

	close(release)
	if !pool.wait(time.Second) {
		t.Fatal("wait failed after tasks released")
	}

	// The pool can be reused once idle.
	done := make(chan struct{})
	pool.submit("test", func(_ context.Context) {
		close(done)
	})
	<-done
	if !pool.wait(time.Second) {
		t.Error("wait failed for reused pool")
	}
}

// TestTaskPoolShutdown tests that shutdown refuses new tasks and cancels
// abandoned ones.
func TestTaskPoolShutdown(t *testing.T) {
	pool := newTaskPool(nil)
	cancelled := make(chan struct{})
	pool.submit("test", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	if abandoned := pool.shutdown(10 * time.Millisecond); abandoned != 1 {
		t.Error("unexpected abandoned task count:", abandoned)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("abandoned task not cancelled")
	}
	if pool.submit("test", func(_ context.Context) {}) {
		t.Error("submission accepted after shutdown")
	}
}
