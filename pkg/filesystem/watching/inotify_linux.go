//go:build linux
// +build linux

package watching

import (
	"os"
	"strings"
	"unsafe"

	"github.com/pkg/errors"

	"golang.org/x/sys/unix"

	"github.com/mutagen-io/pathwatch/pkg/logging"
)

const (
	// inotifySupported indicates whether or not the inotify backend is
	// supported on the current platform.
	inotifySupported = true
	// defaultBackend is the backend selected by BackendDefault.
	defaultBackend = BackendInotify

	// inotifyWatchMask is the set of inotify events requested for each
	// directory. Only creation and modification are observed.
	inotifyWatchMask = unix.IN_CREATE | unix.IN_MOVED_TO |
		unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_CLOSE_WRITE |
		unix.IN_ONLYDIR
	// inotifyCreateMask is the set of inotify events translated to
	// EventKindCreate.
	inotifyCreateMask = unix.IN_CREATE | unix.IN_MOVED_TO
	// inotifyModifyMask is the set of inotify events translated to
	// EventKindModify.
	inotifyModifyMask = unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_CLOSE_WRITE
	// inotifyReadBufferSize is the size of the buffer used to read events. It
	// accommodates at least one event with a maximum-length name.
	inotifyReadBufferSize = 64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)
)

// inotifyPrimitive implements Primitive using inotify.
type inotifyPrimitive struct {
	*signaler
	// logger is the underlying logger.
	logger *logging.Logger
	// descriptor is the raw inotify file descriptor.
	descriptor int
	// file wraps descriptor. It's used for reads so that they park in the
	// runtime poller and are interrupted by Close.
	file *os.File
	// readerDone is closed when the reader Goroutine exits.
	readerDone chan struct{}
}

// newInotifyPrimitive creates a new inotify-based primitive.
func newInotifyPrimitive(options Options) (Primitive, error) {
	// Create the inotify instance in non-blocking mode so that os.NewFile
	// registers it with the runtime poller.
	descriptor, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize inotify")
	}

	// Create the primitive.
	primitive := &inotifyPrimitive{
		signaler:   newSignaler(options.maximumPendingEvents()),
		logger:     options.Logger.Sublogger("inotify"),
		descriptor: descriptor,
		file:       os.NewFile(uintptr(descriptor), "inotify"),
		readerDone: make(chan struct{}),
	}

	// Start the reader.
	go primitive.read()

	// Success.
	return primitive, nil
}

// read is the reader Goroutine entry point.
func (p *inotifyPrimitive) read() {
	defer close(p.readerDone)

	buffer := make([]byte, inotifyReadBufferSize)
	for {
		// Read the next batch of events. Closure of the file is the normal
		// termination path.
		count, err := p.file.Read(buffer)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			p.fail(errors.Wrap(err, "unable to read inotify events"))
			return
		} else if count < unix.SizeofInotifyEvent {
			p.fail(errors.New("short inotify read"))
			return
		}

		// Process events.
		for offset := 0; offset+unix.SizeofInotifyEvent <= count; {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buffer[offset]))
			nameStart := offset + unix.SizeofInotifyEvent
			nameEnd := nameStart + int(raw.Len)
			if nameEnd > count {
				p.fail(errors.New("truncated inotify event"))
				return
			}
			name := strings.TrimRight(string(buffer[nameStart:nameEnd]), "\x00")
			p.process(Handle(raw.Wd), raw.Mask, name)
			offset = nameEnd
		}
	}
}

// process translates a single inotify event.
func (p *inotifyPrimitive) process(handle Handle, mask uint32, name string) {
	// Handle queue overflow. inotify doesn't indicate which watches lost
	// events, so every handle is signaled.
	if mask&unix.IN_Q_OVERFLOW != 0 {
		p.logger.Warnf("Event queue overflow")
		p.overflow()
		return
	}

	// Handle watch removal, which occurs when the directory is deleted or its
	// filesystem is unmounted.
	if mask&unix.IN_IGNORED != 0 {
		if directory, ok := p.directory(handle); ok {
			p.logger.Debugf("Watch for %s invalidated", directory)
		}
		p.invalidate(handle)
		return
	}

	// Ignore events on the directory itself.
	if name == "" {
		return
	}

	// Translate the event.
	directory := mask&unix.IN_ISDIR != 0
	if mask&inotifyCreateMask != 0 {
		p.deliver(handle, Event{Kind: EventKindCreate, Name: name, Directory: directory})
	} else if mask&inotifyModifyMask != 0 {
		p.deliver(handle, Event{Kind: EventKindModify, Name: name, Directory: directory})
	}
}

// Register implements Primitive.Register.
func (p *inotifyPrimitive) Register(directory string) (Handle, error) {
	// Hold the signaler lock across watch creation so that the reader can't
	// deliver events for the new watch before its state exists. inotify
	// returns the existing descriptor when a directory is already watched.
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.isClosedLocked() {
		return 0, ErrWatchTerminated
	}
	wd, err := unix.InotifyAddWatch(p.descriptor, directory, inotifyWatchMask)
	if err != nil {
		return 0, &os.PathError{Op: "inotify_add_watch", Path: directory, Err: err}
	}
	handle := Handle(wd)
	p.registerLocked(handle, directory)
	return handle, nil
}

// Close implements Primitive.Close.
func (p *inotifyPrimitive) Close() error {
	if !p.close() {
		return nil
	}
	err := p.file.Close()
	<-p.readerDone
	return err
}
