package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/mutagen-io/pathwatch/pkg/logging"
	"github.com/mutagen-io/pathwatch/pkg/timeutil"
)

// taskPool runs reconciliation tasks, each in its own Goroutine. The pool is
// unbounded: tasks are walks of bounded subtrees and must never wait behind
// one another or behind the dispatch loop.
type taskPool struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// ctx is the context passed to tasks. It's cancelled when tasks are
	// abandoned.
	ctx context.Context
	// cancel cancels ctx.
	cancel context.CancelFunc
	// lock guards the fields below.
	lock sync.Mutex
	// closed indicates that no further tasks are accepted.
	closed bool
	// active is the number of running tasks.
	active int
	// idle is closed when active drops to zero. It's replaced when a task
	// starts on an idle pool.
	idle chan struct{}
}

// newTaskPool creates a new task pool.
func newTaskPool(logger *logging.Logger) *taskPool {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &taskPool{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}
}

// submit starts a task. It returns false if the pool no longer accepts tasks.
func (p *taskPool) submit(name string, task func(context.Context)) bool {
	// Record the task.
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		p.logger.Debugf("Discarding %s task after shutdown", name)
		return false
	}
	if p.active == 0 {
		p.idle = make(chan struct{})
	}
	p.active++
	p.lock.Unlock()

	// Run the task.
	go func() {
		defer p.done()
		task(p.ctx)
	}()
	return true
}

// done records the completion of a task.
func (p *taskPool) done() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.active--
	if p.active == 0 {
		close(p.idle)
	}
}

// outstanding returns the number of running tasks.
func (p *taskPool) outstanding() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.active
}

// wait waits up to timeout for the pool to become idle. It returns true if
// the pool was idle in time. Tasks submitted during the wait extend it.
func (p *taskPool) wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.lock.Lock()
		idle, active := p.idle, p.active
		p.lock.Unlock()
		if active == 0 {
			return true
		}
		if !timeutil.WaitWithTimeout(idle, time.Until(deadline)) {
			return false
		}
	}
}

// shutdown stops accepting tasks, waits up to timeout for running tasks, and
// then cancels the task context. It returns the number of tasks abandoned.
func (p *taskPool) shutdown(timeout time.Duration) int {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()
	defer p.cancel()
	if p.wait(timeout) {
		return 0
	}
	return p.outstanding()
}
