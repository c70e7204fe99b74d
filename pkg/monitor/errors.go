package monitor

import (
	"os"

	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
	"github.com/mutagen-io/pathwatch/pkg/logging"
)

var (
	// ErrRunning indicates that an operation isn't permitted once the monitor
	// has started running.
	ErrRunning = errors.New("monitor running")
	// ErrShutdown indicates that the monitor has been shut down.
	ErrShutdown = errors.New("monitor shut down")
	// ErrDuplicatePattern indicates that a pattern was already registered.
	ErrDuplicatePattern = errors.New("pattern already registered")
	// ErrShutdownTimeout indicates that reconciliation tasks were still
	// running when the shutdown timeout expired and have been abandoned.
	ErrShutdownTimeout = errors.New("reconciliation tasks abandoned at shutdown")
)

// RegistrationError indicates that a directory couldn't be registered with
// the primitive. The directory's subtree is left unwatched.
type RegistrationError struct {
	// Directory is the directory that failed to register.
	Directory string
	// Err is the underlying error.
	Err error
}

// Error implements error.Error.
func (e *RegistrationError) Error() string {
	return "unable to register " + e.Directory + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// WalkError indicates an I/O failure during a discovery or reconciliation
// walk. The affected branch of the walk is abandoned.
type WalkError struct {
	// Path is the path at which the walk failed.
	Path string
	// Err is the underlying error.
	Err error
}

// Error implements error.Error.
func (e *WalkError) Error() string {
	return "unable to walk " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *WalkError) Unwrap() error {
	return e.Err
}

// logContained logs an error that is contained to a single directory or
// branch. Entries that vanished and registrations refused after shutdown are
// routine and only logged at debug level.
func logContained(logger *logging.Logger, err error) {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, watching.ErrWatchTerminated) {
		logger.Debugf("%v", err)
	} else {
		logger.Warnf("%v", err)
	}
}
