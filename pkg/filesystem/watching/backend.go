package watching

import (
	"github.com/pkg/errors"
)

// Backend identifies a primitive implementation.
type Backend uint8

const (
	// BackendDefault selects the preferred backend for the platform: inotify
	// on Linux and fsnotify elsewhere.
	BackendDefault Backend = iota
	// BackendInotify selects the inotify backend. It is only supported on
	// Linux.
	BackendInotify
	// BackendFSNotify selects the portable fsnotify backend.
	BackendFSNotify
)

// IsDefault indicates whether or not the backend is BackendDefault.
func (b Backend) IsDefault() bool {
	return b == BackendDefault
}

// Supported indicates whether or not the backend is supported on the current
// platform.
func (b Backend) Supported() bool {
	switch b {
	case BackendDefault, BackendFSNotify:
		return true
	case BackendInotify:
		return inotifySupported
	default:
		return false
	}
}

// String returns the backend's name.
func (b Backend) String() string {
	switch b {
	case BackendDefault:
		return "default"
	case BackendInotify:
		return "inotify"
	case BackendFSNotify:
		return "fsnotify"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Backend) UnmarshalText(textBytes []byte) error {
	switch text := string(textBytes); text {
	case "", "default":
		*b = BackendDefault
	case "inotify":
		*b = BackendInotify
	case "fsnotify":
		*b = BackendFSNotify
	default:
		return errors.Errorf("unknown backend specification: %s", text)
	}
	return nil
}
