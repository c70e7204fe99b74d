package watching

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/logging"
)

var (
	// ErrWatchTerminated indicates that a primitive has been closed.
	ErrWatchTerminated = errors.New("watch terminated")
)

const (
	// DefaultMaximumPendingEvents is the default per-handle limit on pending
	// events before an overflow is signaled for the handle.
	DefaultMaximumPendingEvents = 512
)

// Handle identifies a directory registration with a primitive. Handles are
// only meaningful to the primitive that issued them.
type Handle uint64

// EventKind identifies the kind of a change event.
type EventKind uint8

const (
	// EventKindCreate indicates that an entry was created in (or moved into)
	// the watched directory.
	EventKindCreate EventKind = iota
	// EventKindModify indicates that an entry's content or metadata changed.
	EventKindModify
	// EventKindOverflow indicates that an unknown number of events were lost.
	// Overflow events carry no name.
	EventKindOverflow
)

// String provides a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventKindCreate:
		return "CREATE"
	case EventKindModify:
		return "MODIFY"
	case EventKindOverflow:
		return "OVERFLOW"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Event is a single change event within a watched directory.
type Event struct {
	// Kind is the event kind.
	Kind EventKind
	// Name is the base name of the affected entry. It is empty for overflow
	// events.
	Name string
	// Directory indicates whether or not the affected entry is a directory.
	Directory bool
}

// Primitive is the interface implemented by native directory change
// notification facilities. Each registered directory is watched
// non-recursively. Events are queued per handle, and a handle with pending
// events is signaled at most once until it is re-armed, so a single consumer
// can process each directory's events as a batch in delivery order.
//
// Register may be called concurrently with the other methods, but
// WaitForSignaled, PollEvents, and Rearm are intended for a single consumer.
type Primitive interface {
	// Register starts watching a directory and returns its handle. Registering
	// a directory that's already watched returns the existing handle.
	Register(directory string) (Handle, error)
	// WaitForSignaled blocks until a handle has pending events or has been
	// invalidated. It returns ErrWatchTerminated once the primitive is closed
	// and the context's error if the context is cancelled.
	WaitForSignaled(ctx context.Context) (Handle, error)
	// PollEvents removes and returns the pending events for a handle.
	PollEvents(handle Handle) []Event
	// Rearm returns a signaled handle to the armed state. If events arrived
	// since the handle was signaled, the handle is immediately signaled again.
	// It returns false if the handle is no longer valid, in which case the
	// handle won't be signaled again.
	Rearm(handle Handle) bool
	// Close terminates watching and releases all resources. It unblocks any
	// pending call to WaitForSignaled.
	Close() error
}

// Options configures a primitive.
type Options struct {
	// MaximumPendingEvents is the maximum number of events queued per handle
	// before the handle is marked as overflowed. If zero, then
	// DefaultMaximumPendingEvents is used.
	MaximumPendingEvents int
	// Logger is the logger to use. It may be nil.
	Logger *logging.Logger
}

// maximumPendingEvents returns the effective pending event limit.
func (o *Options) maximumPendingEvents() int {
	if o.MaximumPendingEvents > 0 {
		return o.MaximumPendingEvents
	}
	return DefaultMaximumPendingEvents
}

// NewPrimitive creates a primitive using the specified backend.
func NewPrimitive(backend Backend, options Options) (Primitive, error) {
	if backend == BackendDefault {
		backend = defaultBackend
	}
	switch backend {
	case BackendInotify:
		return newInotifyPrimitive(options)
	case BackendFSNotify:
		return newFSNotifyPrimitive(options)
	default:
		return nil, errors.Errorf("unsupported backend: %s", backend)
	}
}
