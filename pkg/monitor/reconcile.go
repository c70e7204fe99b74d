package monitor

import (
	"context"
	"os"
	"time"

	"github.com/mutagen-io/pathwatch/pkg/filesystem"
)

const (
	// DefaultRegistrationThreshold is the default tolerance added to a
	// directory's registration time when recovering files that predate the
	// registration. It compensates for filesystems that truncate modification
	// times to whole seconds.
	DefaultRegistrationThreshold = 1250 * time.Millisecond
	// DefaultOverflowThreshold is the default tolerance applied to both edges
	// of an overflow window.
	DefaultOverflowThreshold = 1500 * time.Millisecond
)

// TimeWindow is the span of time during which events may have been lost.
type TimeWindow struct {
	// Start is the time of the last event processed before the loss.
	Start time.Time
	// End is the time at which the loss was detected.
	End time.Time
}

// Admits indicates whether or not a modification time lies within the
// window once both edges are widened by tolerance.
func (w TimeWindow) Admits(modificationTime time.Time, tolerance time.Duration) bool {
	return !modificationTime.Before(w.Start.Add(-tolerance)) &&
		!modificationTime.After(w.End.Add(tolerance))
}

// reconcileRegistration recovers files in directory's in-scope subtree that
// may have been created or modified before the directory's watch became
// effective.
func (m *Monitor) reconcileRegistration(ctx context.Context, directory string, registeredAt time.Time, t *target) {
	cutoff := registeredAt.Add(m.registrationThreshold)
	found := m.reconcile(ctx, directory, t, func(modificationTime time.Time) bool {
		return modificationTime.Before(cutoff)
	})
	m.reconcileLogger.Tracef("REGISTER %s for %s: %d matches", directory, t.pattern, found)
}

// reconcileOverflow recovers files in directory's in-scope subtree that were
// modified during an overflow window.
func (m *Monitor) reconcileOverflow(ctx context.Context, directory string, window TimeWindow, t *target) {
	found := m.reconcile(ctx, directory, t, func(modificationTime time.Time) bool {
		return window.Admits(modificationTime, m.overflowThreshold)
	})
	m.reconcileLogger.Debugf("OVERFLOW %s for %s [%s, %s]: %d matches",
		directory, t.pattern,
		window.Start.Format(time.RFC3339Nano), window.End.Format(time.RFC3339Nano),
		found,
	)
}

// reconcile walks root, descending only into directories in the target's
// scope set, and reports every regular file or symbolic link whose name
// matches and whose modification time is admitted. The root itself must be
// in scope. It returns the number of files reported.
func (m *Monitor) reconcile(ctx context.Context, root string, t *target, admit func(time.Time) bool) int {
	var found int
	err := filesystem.Walk(ctx, root, filesystem.Visitor{
		Directory: func(directory string, _ os.FileInfo) bool {
			return t.scope.Contains(directory)
		},
		File: func(path string, info os.FileInfo) {
			mode := info.Mode()
			if !mode.IsRegular() && mode&os.ModeSymlink == 0 {
				return
			}
			if admit(info.ModTime()) && t.matcher.MatchName(info.Name()) {
				m.report(t, path)
				found++
			}
		},
		Error: func(path string, err error) {
			logContained(m.reconcileLogger, &WalkError{Path: path, Err: err})
		},
	})
	if err != nil {
		m.reconcileLogger.Debugf("Reconciliation of %s abandoned: %v", root, err)
	}
	return found
}
