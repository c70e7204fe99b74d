package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
)

// Statistics are counters describing a monitor's activity.
type Statistics struct {
	// Events is the number of create and modify events processed.
	Events uint64 `yaml:"events"`
	// Overflows is the number of overflow events processed.
	Overflows uint64 `yaml:"overflows"`
	// Reconciliations is the number of reconciliation tasks scheduled.
	Reconciliations uint64 `yaml:"reconciliations"`
	// Matches is the number of matches reported, including repeats that the
	// sink may suppress.
	Matches uint64 `yaml:"matches"`
	// Registrations is the number of active directory registrations.
	Registrations int `yaml:"registrations"`
	// Outstanding is the number of running reconciliation tasks.
	Outstanding int `yaml:"outstanding"`
}

// counters holds the atomically updated fields of Statistics. It's allocated
// separately to guarantee 64-bit alignment.
type counters struct {
	events          uint64
	overflows       uint64
	reconciliations uint64
	matches         uint64
}

// run is the dispatch loop. It's the sole consumer of the primitive. It
// returns nil when the context is cancelled, when the primitive is closed,
// or when every registration has been retired.
func (m *Monitor) run(ctx context.Context) error {
	// Exit immediately if nothing was registered.
	if m.registry.count() == 0 {
		m.dispatchLogger.Debugf("No registrations, exiting")
		return nil
	}

	for {
		// Wait for a signaled handle. This is the only blocking call in the
		// loop, and interruption here is the normal shutdown path.
		handle, err := m.primitive.WaitForSignaled(ctx)
		if err != nil {
			if err == watching.ErrWatchTerminated || contextDone(ctx, err) {
				m.dispatchLogger.Debugf("Dispatch loop interrupted")
				return nil
			}
			return errors.Wrap(err, "unable to wait for events")
		}

		// Look up the handle's directory. Unknown handles are drained and
		// re-armed so that they can't wedge the primitive.
		directory, ok := m.registry.lookup(handle)
		if !ok {
			m.dispatchLogger.Warnf("Received events for unknown handle %d", handle)
			m.primitive.PollEvents(handle)
			m.primitive.Rearm(handle)
			continue
		}

		// Process events in delivery order.
		for _, event := range m.primitive.PollEvents(handle) {
			m.process(ctx, directory, event)
		}

		// Re-arm the handle, retiring it if it's no longer valid.
		if !m.primitive.Rearm(handle) {
			remaining := m.registry.retire(handle)
			m.dispatchLogger.Debugf("Retired %s (%d registrations remain)", directory, remaining)
			if remaining == 0 {
				m.dispatchLogger.Infof("All registrations retired")
				return nil
			}
		}
	}
}

// contextDone indicates whether err is the error of a done context.
func contextDone(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err == ctx.Err()
}

// process processes a single event for a directory.
func (m *Monitor) process(ctx context.Context, directory string, event watching.Event) {
	now := m.clock.Now()

	// Handle overflow by scheduling reconciliation of the window between the
	// last processed event and now.
	if event.Kind == watching.EventKindOverflow {
		atomic.AddUint64(&m.counters.overflows, 1)
		window := TimeWindow{Start: m.lastProcessed, End: now}
		m.dispatchLogger.Warnf("OVERFLOW in %s, reconciling %s",
			directory, window.End.Sub(window.Start).Round(time.Millisecond),
		)
		for _, t := range m.targets {
			if !t.scope.Contains(directory) {
				continue
			}
			t := t
			m.schedule("overflow", func(ctx context.Context) {
				m.reconcileOverflow(ctx, directory, window, t)
			})
		}
		m.discoverSubdirectories(ctx, directory)
		return
	}

	// Record the event time. This is updated per event so that a subsequent
	// overflow window starts right after the last event actually observed.
	atomic.AddUint64(&m.counters.events, 1)
	m.lastProcessed = now
	path := filepath.Join(directory, event.Name)
	m.dispatchLogger.Tracef("PROCESS %s %s", event.Kind, path)

	// Test the event against every target. A match against one target never
	// suppresses the others. Live events for directories are matched like
	// any other entry.
	for _, t := range m.targets {
		if t.scope.Contains(directory) && t.matcher.MatchName(event.Name) {
			m.report(t, path)
		}
	}

	// Register new directories, along with their contents, since they may
	// arrive populated.
	if event.Directory && event.Kind == watching.EventKindCreate {
		m.registerTree(ctx, path, m.targets, false)
	}
}

// discoverSubdirectories registers any unregistered subdirectories of a
// directory. Creation events for directories can be lost to an overflow, and
// reconciliation never registers directories, so the loop rescans the
// directory's immediate children itself.
func (m *Monitor) discoverSubdirectories(ctx context.Context, directory string) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		logContained(m.dispatchLogger, &WalkError{Path: directory, Err: err})
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdirectory := filepath.Join(directory, entry.Name())
		if !m.registry.registered(subdirectory) {
			m.dispatchLogger.Debugf("Discovered unregistered directory %s", subdirectory)
			m.registerTree(ctx, subdirectory, m.targets, false)
		}
	}
}

// report reports a match to the sink.
func (m *Monitor) report(t *target, path string) {
	atomic.AddUint64(&m.counters.matches, 1)
	m.sink.Add(t.pattern, path, t.payload)
}

// schedule submits a reconciliation task to the pool.
func (m *Monitor) schedule(kind string, task func(context.Context)) {
	if m.tasks.submit(kind, task) {
		atomic.AddUint64(&m.counters.reconciliations, 1)
	}
}

// Statistics returns a snapshot of the monitor's counters.
func (m *Monitor) Statistics() Statistics {
	return Statistics{
		Events:          atomic.LoadUint64(&m.counters.events),
		Overflows:       atomic.LoadUint64(&m.counters.overflows),
		Reconciliations: atomic.LoadUint64(&m.counters.reconciliations),
		Matches:         atomic.LoadUint64(&m.counters.matches),
		Registrations:   m.registry.count(),
		Outstanding:     m.tasks.outstanding(),
	}
}
