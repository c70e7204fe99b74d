package monitor

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/mutagen-io/pathwatch/pkg/filesystem"
	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
)

// registry tracks the directories registered with the primitive. It's
// mutated only by Register (before the dispatch loop starts) and by the
// dispatch loop, but it's read concurrently for diagnostics.
type registry struct {
	// lock guards the fields below.
	lock sync.RWMutex
	// directories maps handles to directories.
	directories map[watching.Handle]string
	// handles maps directories to handles.
	handles map[string]watching.Handle
}

// newRegistry creates a new empty registry.
func newRegistry() *registry {
	return &registry{
		directories: make(map[watching.Handle]string),
		handles:     make(map[string]watching.Handle),
	}
}

// add records a registration. It reports whether the registration is new,
// which is the case unless the directory was already registered under the
// same handle. A handle can move to a new directory if its directory was
// renamed, and a directory can move to a new handle if it was replaced.
func (r *registry) add(handle watching.Handle, directory string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if previous, ok := r.handles[directory]; ok && previous == handle {
		return false
	}
	if previous, ok := r.directories[handle]; ok && r.handles[previous] == handle {
		delete(r.handles, previous)
	}
	r.directories[handle] = directory
	r.handles[directory] = handle
	return true
}

// lookup returns the directory for a handle.
func (r *registry) lookup(handle watching.Handle) (string, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	directory, ok := r.directories[handle]
	return directory, ok
}

// registered indicates whether or not a directory is registered.
func (r *registry) registered(directory string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.handles[directory]
	return ok
}

// retire removes a handle's registration and returns the number of
// registrations that remain.
func (r *registry) retire(handle watching.Handle) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	if directory, ok := r.directories[handle]; ok {
		delete(r.directories, handle)
		if r.handles[directory] == handle {
			delete(r.handles, directory)
		}
	}
	return len(r.directories)
}

// count returns the number of active registrations.
func (r *registry) count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.directories)
}

// list returns the registered directories in sorted order.
func (r *registry) list() []string {
	r.lock.RLock()
	result := make([]string, 0, len(r.handles))
	for directory := range r.handles {
		result = append(result, directory)
	}
	r.lock.RUnlock()
	sort.Strings(result)
	return result
}

// registerDirectory registers a single directory with the primitive, records
// it, and classifies it against the specified targets. For each target whose
// scope includes the directory, a registration reconciliation task is
// scheduled if the registration is new or if force is set. It returns false
// if the directory couldn't be registered.
func (m *Monitor) registerDirectory(directory string, targets []*target, force bool) bool {
	// Register with the primitive.
	handle, err := m.primitive.Register(directory)
	if err != nil {
		logContained(m.registrationLogger, &RegistrationError{Directory: directory, Err: err})
		return false
	}
	registeredAt := m.clock.Now()
	fresh := m.registry.add(handle, directory)
	if fresh {
		m.registrationLogger.Tracef("REGISTER %s (handle %d)", directory, handle)
	}

	// Classify the directory and schedule reconciliation.
	for _, t := range targets {
		if !t.matcher.MatchScope(directory) {
			continue
		}
		t.scope.Add(directory)
		if fresh || force {
			t := t
			m.schedule("registration", func(ctx context.Context) {
				m.reconcileRegistration(ctx, directory, registeredAt, t)
			})
		}
	}
	return true
}

// registerTree walks the tree rooted at root and registers every directory
// in pre-order. Each directory is registered before it's listed, so an entry
// created after the listing is observed by the live watch and an entry
// created before it is observed by the walk or by reconciliation. Directories
// that fail to register have their subtrees skipped.
func (m *Monitor) registerTree(ctx context.Context, root string, targets []*target, force bool) {
	filesystem.Walk(ctx, root, filesystem.Visitor{
		Directory: func(directory string, _ os.FileInfo) bool {
			return m.registerDirectory(directory, targets, force)
		},
		Error: func(path string, err error) {
			logContained(m.registrationLogger, &WalkError{Path: path, Err: err})
		},
	})
}

// Registrations returns the number of active directory registrations.
func (m *Monitor) Registrations() int {
	return m.registry.count()
}

// Directories returns the registered directories in sorted order.
func (m *Monitor) Directories() []string {
	return m.registry.list()
}
