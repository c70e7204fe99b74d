package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
)

// scriptedPrimitive is an in-memory watching.Primitive whose events are
// injected by tests, which makes dispatch behavior deterministic.
type scriptedPrimitive struct {
	// lock guards the fields below.
	lock sync.Mutex
	// nextHandle is the next handle to issue.
	nextHandle watching.Handle
	// handles maps directories to handles.
	handles map[string]watching.Handle
	// pending maps handles to pending events.
	pending map[watching.Handle][]watching.Event
	// signaled tracks signaled handles.
	signaled map[watching.Handle]bool
	// invalid tracks invalidated handles.
	invalid map[watching.Handle]bool
	// failures is the set of directories whose registration fails.
	failures map[string]bool
	// beforeRegister, if set, is invoked before a directory is registered.
	beforeRegister func(directory string)
	// ready is the queue of signaled handles.
	ready chan watching.Handle
	// closed is closed by Close.
	closed chan struct{}
	// closeOnce guards closure of closed.
	closeOnce sync.Once
}

// newScriptedPrimitive creates a new scripted primitive.
func newScriptedPrimitive() *scriptedPrimitive {
	return &scriptedPrimitive{
		nextHandle: 1,
		handles:    make(map[string]watching.Handle),
		pending:    make(map[watching.Handle][]watching.Event),
		signaled:   make(map[watching.Handle]bool),
		invalid:    make(map[watching.Handle]bool),
		failures:   make(map[string]bool),
		ready:      make(chan watching.Handle, 4096),
		closed:     make(chan struct{}),
	}
}

// failRegistration causes registration of a directory to fail.
func (p *scriptedPrimitive) failRegistration(directory string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.failures[directory] = true
}

// Register implements watching.Primitive.Register.
func (p *scriptedPrimitive) Register(directory string) (watching.Handle, error) {
	p.lock.Lock()
	hook := p.beforeRegister
	p.lock.Unlock()
	if hook != nil {
		hook(directory)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	select {
	case <-p.closed:
		return 0, watching.ErrWatchTerminated
	default:
	}
	if p.failures[directory] {
		return 0, &os.PathError{Op: "watch", Path: directory, Err: os.ErrPermission}
	} else if info, err := os.Stat(directory); err != nil {
		return 0, err
	} else if !info.IsDir() {
		return 0, &os.PathError{Op: "watch", Path: directory, Err: os.ErrInvalid}
	}
	if handle, ok := p.handles[directory]; ok && !p.invalid[handle] {
		return handle, nil
	}
	handle := p.nextHandle
	p.nextHandle++
	p.handles[directory] = handle
	return handle, nil
}

// handle returns the handle for a directory.
func (p *scriptedPrimitive) handle(directory string) (watching.Handle, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	handle, ok := p.handles[directory]
	return handle, ok
}

// signalLocked queues a handle if it isn't already signaled. The caller must
// hold the lock.
func (p *scriptedPrimitive) signalLocked(handle watching.Handle) {
	if !p.signaled[handle] {
		p.signaled[handle] = true
		p.ready <- handle
	}
}

// emitToHandle injects an event for a handle, registered or not.
func (p *scriptedPrimitive) emitToHandle(handle watching.Handle, event watching.Event) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.pending[handle] = append(p.pending[handle], event)
	p.signalLocked(handle)
}

// emit injects an event for a registered directory. It reports whether or not
// the directory is registered.
func (p *scriptedPrimitive) emit(directory string, event watching.Event) bool {
	handle, ok := p.handle(directory)
	if !ok {
		return false
	}
	p.emitToHandle(handle, event)
	return true
}

// create creates a file on disk and injects the corresponding creation event.
func (p *scriptedPrimitive) create(path string) error {
	if err := os.WriteFile(path, []byte(filepath.Base(path)), 0600); err != nil {
		return err
	}
	p.emit(filepath.Dir(path), watching.Event{Kind: watching.EventKindCreate, Name: filepath.Base(path)})
	return nil
}

// mkdir creates a directory on disk and injects the corresponding creation
// event.
func (p *scriptedPrimitive) mkdir(path string) error {
	if err := os.Mkdir(path, 0700); err != nil {
		return err
	}
	p.emit(filepath.Dir(path), watching.Event{Kind: watching.EventKindCreate, Name: filepath.Base(path), Directory: true})
	return nil
}

// invalidate invalidates the handle for a directory.
func (p *scriptedPrimitive) invalidate(directory string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if handle, ok := p.handles[directory]; ok && !p.invalid[handle] {
		p.invalid[handle] = true
		p.signalLocked(handle)
	}
}

// invalidateAll invalidates every handle.
func (p *scriptedPrimitive) invalidateAll() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, handle := range p.handles {
		if !p.invalid[handle] {
			p.invalid[handle] = true
			p.signalLocked(handle)
		}
	}
}

// WaitForSignaled implements watching.Primitive.WaitForSignaled.
func (p *scriptedPrimitive) WaitForSignaled(ctx context.Context) (watching.Handle, error) {
	select {
	case <-p.closed:
		return 0, watching.ErrWatchTerminated
	default:
	}
	select {
	case handle := <-p.ready:
		return handle, nil
	case <-p.closed:
		return 0, watching.ErrWatchTerminated
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// PollEvents implements watching.Primitive.PollEvents.
func (p *scriptedPrimitive) PollEvents(handle watching.Handle) []watching.Event {
	p.lock.Lock()
	defer p.lock.Unlock()
	events := p.pending[handle]
	delete(p.pending, handle)
	return events
}

// Rearm implements watching.Primitive.Rearm.
func (p *scriptedPrimitive) Rearm(handle watching.Handle) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.invalid[handle] {
		return false
	}
	if len(p.pending[handle]) > 0 {
		p.ready <- handle
	} else {
		p.signaled[handle] = false
	}
	return true
}

// Close implements watching.Primitive.Close.
func (p *scriptedPrimitive) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
