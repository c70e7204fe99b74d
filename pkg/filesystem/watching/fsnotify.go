package watching

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/logging"
)

// fsnotifyPrimitive implements Primitive using fsnotify.
type fsnotifyPrimitive struct {
	*signaler
	// logger is the underlying logger.
	logger *logging.Logger
	// watcher is the underlying fsnotify watcher.
	watcher *fsnotify.Watcher
	// handles maps watched directories to their handles. It's guarded by the
	// signaler lock.
	handles map[string]Handle
	// nextHandle is the next handle to issue. It's guarded by the signaler
	// lock.
	nextHandle Handle
	// readerDone is closed when the reader Goroutine exits.
	readerDone chan struct{}
}

// newFSNotifyPrimitive creates a new fsnotify-based primitive.
func newFSNotifyPrimitive(options Options) (Primitive, error) {
	// Create the watcher.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create fsnotify watcher")
	}

	// Create the primitive.
	primitive := &fsnotifyPrimitive{
		signaler:   newSignaler(options.maximumPendingEvents()),
		logger:     options.Logger.Sublogger("fsnotify"),
		watcher:    watcher,
		handles:    make(map[string]Handle),
		nextHandle: 1,
		readerDone: make(chan struct{}),
	}

	// Start the reader.
	go primitive.read()

	// Success.
	return primitive, nil
}

// read is the reader Goroutine entry point. It exits when the watcher's
// channels are closed.
func (p *fsnotifyPrimitive) read() {
	defer close(p.readerDone)

	events, watchErrors := p.watcher.Events, p.watcher.Errors
	for events != nil || watchErrors != nil {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.process(event)
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				p.logger.Warnf("Event queue overflow")
				p.overflow()
			} else {
				p.logger.Warnf("Watch error: %v", err)
			}
		}
	}
}

// process translates a single fsnotify event.
func (p *fsnotifyPrimitive) process(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	// Determine the event kind. Removals and renames are only of interest if
	// they affect a watched directory.
	var kind EventKind
	var directory bool
	switch {
	case event.Has(fsnotify.Create):
		kind = EventKindCreate
		if info, err := os.Lstat(path); err == nil {
			directory = info.IsDir()
		}
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod):
		kind = EventKindModify
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		p.lock.Lock()
		if handle, ok := p.handles[path]; ok {
			delete(p.handles, path)
			p.logger.Debugf("Watch for %s invalidated", path)
			p.invalidateLocked(handle)
		}
		p.lock.Unlock()
		return
	default:
		return
	}

	// Deliver the event to the parent directory's handle.
	p.lock.Lock()
	defer p.lock.Unlock()
	if handle, ok := p.handles[filepath.Dir(path)]; ok {
		p.deliverLocked(handle, Event{Kind: kind, Name: filepath.Base(path), Directory: directory})
	}
}

// Register implements Primitive.Register.
func (p *fsnotifyPrimitive) Register(directory string) (Handle, error) {
	directory = filepath.Clean(directory)

	// Hold the signaler lock across watch creation so that the reader can't
	// drop events for the new watch before its handle is recorded.
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.isClosedLocked() {
		return 0, ErrWatchTerminated
	} else if handle, ok := p.handles[directory]; ok {
		return handle, nil
	}

	// fsnotify accepts files as well as directories, so enforce the directory
	// requirement here.
	if info, err := os.Stat(directory); err != nil {
		return 0, err
	} else if !info.IsDir() {
		return 0, &os.PathError{Op: "watch", Path: directory, Err: errors.New("not a directory")}
	}

	// Create the watch.
	if err := p.watcher.Add(directory); err != nil {
		return 0, &os.PathError{Op: "watch", Path: directory, Err: err}
	}
	handle := p.nextHandle
	p.nextHandle++
	p.handles[directory] = handle
	p.registerLocked(handle, directory)
	return handle, nil
}

// Close implements Primitive.Close.
func (p *fsnotifyPrimitive) Close() error {
	if !p.close() {
		return nil
	}
	err := p.watcher.Close()
	<-p.readerDone
	return err
}
