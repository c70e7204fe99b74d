//go:build !linux
// +build !linux

package watching

import (
	"errors"
)

const (
	// inotifySupported indicates whether or not the inotify backend is
	// supported on the current platform.
	inotifySupported = false
	// defaultBackend is the backend selected by BackendDefault.
	defaultBackend = BackendFSNotify
)

// newInotifyPrimitive returns an error on platforms without inotify.
func newInotifyPrimitive(_ Options) (Primitive, error) {
	return nil, errors.New("inotify not supported on this platform")
}
