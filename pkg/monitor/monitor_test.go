package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
	"github.com/mutagen-io/pathwatch/pkg/pattern"
)

const (
	// testTimeout bounds every wait in these tests.
	testTimeout = 10 * time.Second
)

// manualClock is a Clock controlled by the test.
type manualClock struct {
	// lock guards now.
	lock sync.Mutex
	// now is the current time.
	now time.Time
}

// Now implements Clock.Now.
func (c *manualClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// set sets the current time.
func (c *manualClock) set(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = now
}

// newTestMonitor creates a monitor backed by a scripted primitive. The monitor
// is shut down when the test completes.
func newTestMonitor(t *testing.T, root string, options Options) (*Monitor, *scriptedPrimitive, *Collector) {
	t.Helper()
	primitive := newScriptedPrimitive()
	options.Primitive = primitive
	collector := NewCollector()
	m, err := New(root, collector, options)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Shutdown(testTimeout)
	})
	return m, primitive, collector
}

// start runs the monitor's dispatch loop in the background and returns a
// channel that receives the loop's result.
func start(t *testing.T, m *Monitor) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	result := make(chan error, 1)
	go func() {
		result <- m.Run(ctx)
	}()
	return result
}

// glob creates a glob pattern rooted at root.
func glob(root, suffix string) pattern.Pattern {
	return pattern.Pattern{Syntax: pattern.SyntaxGlob, Path: filepath.ToSlash(root) + suffix}
}

// waitForCount waits until the collector has count matches for p.
func waitForCount(t *testing.T, collector *Collector, p pattern.Pattern, count int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, collector.WaitForCount(ctx, p, count),
		"timed out waiting for %d matches of %s (have %d)", count, p, collector.Count(p),
	)
}

// settle waits for outstanding reconciliation tasks.
func settle(t *testing.T, m *Monitor) {
	t.Helper()
	require.True(t, m.Wait(testTimeout), "reconciliation tasks did not complete")
}

// TestMonitorSiblingFiles tests that creating ten .xml files alongside ten
// .txt files yields exactly the ten .xml files.
func TestMonitorSiblingFiles(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	for i := 1; i <= 10; i++ {
		require.NoError(t, primitive.create(filepath.Join(root, fmt.Sprintf("%d.xml", i))))
		require.NoError(t, primitive.create(filepath.Join(root, fmt.Sprintf("%d.txt", i))))
	}

	waitForCount(t, collector, xml, 10)
	settle(t, m)
	assert.Equal(t, 10, collector.Count(xml))
	assert.Equal(t, 10, collector.Len())
	for _, path := range collector.Paths(xml) {
		assert.Equal(t, ".xml", filepath.Ext(path))
	}
}

// createNestedTree creates ten top-level directories, each containing ten
// directories suffixed with A and one suffixed with B. Every leaf directory
// contains files 1 through 10, with every third file being a .txt file.
func createNestedTree(t *testing.T, root string) {
	t.Helper()
	for i := 0; i < 10; i++ {
		for j := 0; j < 11; j++ {
			suffix := "A"
			if j == 10 {
				suffix = "B"
			}
			directory := filepath.Join(root, fmt.Sprintf("d%d", i), fmt.Sprintf("x%d%s", j, suffix))
			require.NoError(t, os.MkdirAll(directory, 0700))
			for k := 1; k <= 10; k++ {
				extension := "xml"
				if k%3 == 0 {
					extension = "txt"
				}
				name := filepath.Join(directory, fmt.Sprintf("%d.%s", k, extension))
				require.NoError(t, os.WriteFile(name, nil, 0600))
			}
		}
	}
}

// TestMonitorNestedWildcards tests scope matching with nested wildcards over
// a tree of 1000 files in 100 A-suffixed directories.
func TestMonitorNestedWildcards(t *testing.T) {
	root := t.TempDir()
	createNestedTree(t, root)

	m, primitive, collector := newTestMonitor(t, root, Options{})
	txt := glob(root, "/**/*A/*.txt")
	require.NoError(t, m.Register(txt, nil))
	settle(t, m)

	// Pre-existing files are recovered by registration reconciliation.
	assert.Equal(t, 100*(10/3), collector.Count(txt))
	assert.Equal(t, 1+10+110, m.Registrations())

	// Files in a directory created while running are reported too.
	start(t, m)
	directory := filepath.Join(root, "d0", "liveA")
	require.NoError(t, primitive.mkdir(directory))
	for k := 1; k <= 10; k++ {
		extension := "xml"
		if k%3 == 0 {
			extension = "txt"
		}
		require.NoError(t, primitive.create(filepath.Join(directory, fmt.Sprintf("%d.%s", k, extension))))
	}
	waitForCount(t, collector, txt, 101*(10/3))
	settle(t, m)
	assert.Equal(t, 101*(10/3), collector.Count(txt))
}

// TestMonitorOverflow tests that files created without events on a separate
// Goroutine are recovered once an overflow is signaled.
func TestMonitorOverflow(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	// Create files without delivering events.
	var group sync.WaitGroup
	group.Add(1)
	go func() {
		defer group.Done()
		for i := 1; i <= 5; i++ {
			assert.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("%d.xml", i)), nil, 0600))
		}
	}()
	group.Wait()
	assert.Equal(t, 0, collector.Count(xml))

	// Signal an overflow.
	require.True(t, primitive.emit(root, watching.Event{Kind: watching.EventKindOverflow}))
	waitForCount(t, collector, xml, 5)
	assert.Equal(t, uint64(1), m.Statistics().Overflows)
}

// TestMonitorOverflowWindow tests the boundaries of the overflow window and
// that the window starts at the last processed event.
func TestMonitorOverflowWindow(t *testing.T) {
	root := t.TempDir()
	start0 := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	clock := &manualClock{now: start0}
	m, primitive, collector := newTestMonitor(t, root, Options{Clock: clock})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	// Process a live event, which moves the window's start.
	clock.set(start0.Add(30 * time.Minute))
	live := filepath.Join(root, "live.xml")
	require.NoError(t, primitive.create(live))
	waitForCount(t, collector, xml, 1)

	// Create files with known modification times and no events.
	times := map[string]time.Time{
		"early.xml":      start0.Add(10 * time.Minute),
		"edge-start.xml": start0.Add(30*time.Minute - time.Second),
		"inside.xml":     start0.Add(45 * time.Minute),
		"edge-end.xml":   start0.Add(time.Hour + time.Second),
		"late.xml":       start0.Add(time.Hour + 2*time.Second),
	}
	for name, modificationTime := range times {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, nil, 0600))
		require.NoError(t, os.Chtimes(path, modificationTime, modificationTime))
	}

	// Signal an overflow an hour after the live event.
	clock.set(start0.Add(time.Hour))
	require.True(t, primitive.emit(root, watching.Event{Kind: watching.EventKindOverflow}))
	waitForCount(t, collector, xml, 4)
	settle(t, m)

	expected := []string{
		filepath.Join(root, "edge-end.xml"),
		filepath.Join(root, "edge-start.xml"),
		filepath.Join(root, "inside.xml"),
		live,
	}
	assert.Equal(t, expected, collector.Paths(xml))
}

// TestMonitorRegistrationRace tests that a file created in a new directory
// before the directory's watch is established is still reported.
func TestMonitorRegistrationRace(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/**/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	// Create a file inside the new directory just before it's registered. No
	// event is ever delivered for it.
	directory := filepath.Join(root, "new")
	race := filepath.Join(directory, "race.xml")
	primitive.lock.Lock()
	primitive.beforeRegister = func(path string) {
		if path == directory {
			assert.NoError(t, os.WriteFile(race, nil, 0600))
		}
	}
	primitive.lock.Unlock()
	require.NoError(t, primitive.mkdir(directory))

	waitForCount(t, collector, xml, 1)
	assert.Equal(t, []string{race}, collector.Paths(xml))
	assert.Contains(t, m.Directories(), directory)
}

// TestMonitorRegistrationThreshold tests that registration reconciliation only
// admits files modified before the registration time plus the threshold.
func TestMonitorRegistrationThreshold(t *testing.T) {
	root := t.TempDir()
	registeredAt := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	times := map[string]time.Time{
		"old.xml":    registeredAt.Add(-time.Hour),
		"within.xml": registeredAt.Add(time.Second),
		"after.xml":  registeredAt.Add(2 * time.Second),
	}
	for name, modificationTime := range times {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, nil, 0600))
		require.NoError(t, os.Chtimes(path, modificationTime, modificationTime))
	}

	m, _, collector := newTestMonitor(t, root, Options{Clock: &manualClock{now: registeredAt}})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)

	assert.Equal(t, []string{
		filepath.Join(root, "old.xml"),
		filepath.Join(root, "within.xml"),
	}, collector.Paths(xml))
}

// TestMonitorIdempotence tests that repeated reports of a file yield a single
// result.
func TestMonitorIdempotence(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "1.xml")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	modify := watching.Event{Kind: watching.EventKindModify, Name: "1.xml"}
	primitive.emit(root, watching.Event{Kind: watching.EventKindCreate, Name: "1.xml"})
	primitive.emit(root, modify)
	primitive.emit(root, modify)
	require.Eventually(t, func() bool {
		return m.Statistics().Matches >= 4
	}, testTimeout, 10*time.Millisecond)

	assert.Equal(t, 1, collector.Len())
	assert.Equal(t, []string{path}, collector.Paths(xml))
}

// TestMonitorMultiplePatterns tests that every matching pattern produces its
// own result with its own payload.
func TestMonitorMultiplePatterns(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	tens := pattern.Pattern{
		Syntax: pattern.SyntaxRegex,
		Path:   regexp.QuoteMeta(filepath.ToSlash(root)) + `/1[0-9]*\.xml`,
	}
	require.NoError(t, m.Register(xml, "all"))
	require.NoError(t, m.Register(tens, map[string]string{"queue": "tens"}))
	assert.Equal(t, ErrDuplicatePattern, m.Register(xml, "again"))
	settle(t, m)
	start(t, m)

	for _, name := range []string{"1.xml", "10.xml", "2.xml", "1.txt"} {
		require.NoError(t, primitive.create(filepath.Join(root, name)))
	}
	waitForCount(t, collector, xml, 3)
	waitForCount(t, collector, tens, 2)
	settle(t, m)

	for _, result := range collector.Results() {
		switch result.Pattern {
		case xml:
			assert.Equal(t, "all", result.Payload)
		case tens:
			assert.Equal(t, map[string]string{"queue": "tens"}, result.Payload)
		default:
			t.Error("unexpected pattern in results:", result.Pattern)
		}
	}
	assert.Equal(t, 5, collector.Len())
}

// TestMonitorInvalidPattern tests that an invalid pattern only fails its own
// registration.
func TestMonitorInvalidPattern(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	err := m.Register(pattern.Pattern{Syntax: pattern.SyntaxGlob, Path: "no-separator"}, nil)
	assert.True(t, pattern.IsInvalidPattern(err))
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	start(t, m)

	require.NoError(t, primitive.create(filepath.Join(root, "1.xml")))
	waitForCount(t, collector, xml, 1)
}

// TestMonitorRetirement tests that the dispatch loop exits once every handle
// has been retired.
func TestMonitorRetirement(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0700))
	m, primitive, _ := newTestMonitor(t, root, Options{})
	require.NoError(t, m.Register(glob(root, "/*.xml"), nil))
	require.Equal(t, 2, m.Registrations())
	result := start(t, m)

	primitive.invalidate(filepath.Join(root, "sub"))
	require.Eventually(t, func() bool {
		return m.Registrations() == 1
	}, testTimeout, 10*time.Millisecond)

	primitive.invalidateAll()
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("dispatch loop did not exit after all handles retired")
	}
	assert.Equal(t, 0, m.Registrations())
}

// TestMonitorRegistrationFailure tests that a directory that fails to
// register has its subtree skipped while its siblings are registered.
func TestMonitorRegistrationFailure(t *testing.T) {
	root := t.TempDir()
	for _, directory := range []string{"a", "b/c"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, directory), 0700))
	}
	m, primitive, _ := newTestMonitor(t, root, Options{})
	primitive.failRegistration(filepath.Join(root, "b"))
	require.NoError(t, m.Register(glob(root, "/**/*.xml"), nil))
	assert.Equal(t, []string{root, filepath.Join(root, "a")}, m.Directories())
}

// TestMonitorUnknownHandle tests that events for unknown handles don't stall
// the dispatch loop.
func TestMonitorUnknownHandle(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	start(t, m)

	primitive.emitToHandle(999, watching.Event{Kind: watching.EventKindCreate, Name: "ghost.xml"})
	require.NoError(t, primitive.create(filepath.Join(root, "1.xml")))
	waitForCount(t, collector, xml, 1)
	assert.Equal(t, 1, collector.Len())
}

// TestMonitorDirectoryEvents tests that a live directory creation is matched
// by name and registered, while directories found by reconciliation are not
// reported.
func TestMonitorDirectoryEvents(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "existing.xml")
	require.NoError(t, os.Mkdir(existing, 0700))
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	bundle := filepath.Join(root, "bundle.xml")
	marker := filepath.Join(root, "marker.xml")
	require.NoError(t, primitive.mkdir(bundle))
	require.NoError(t, primitive.create(marker))
	waitForCount(t, collector, xml, 2)
	settle(t, m)
	assert.Equal(t, []string{bundle, marker}, collector.Paths(xml))
	assert.Contains(t, m.Directories(), bundle)
	assert.Contains(t, m.Directories(), existing)
}

// TestMonitorOverflowDiscovery tests that a directory whose creation event
// was lost to an overflow is registered and reconciled.
func TestMonitorOverflowDiscovery(t *testing.T) {
	root := t.TempDir()
	m, primitive, collector := newTestMonitor(t, root, Options{})
	xml := glob(root, "/**/*.xml")
	require.NoError(t, m.Register(xml, nil))
	settle(t, m)
	start(t, m)

	lost := filepath.Join(root, "lost")
	require.NoError(t, os.Mkdir(lost, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(lost, "1.xml"), nil, 0600))
	require.True(t, primitive.emit(root, watching.Event{Kind: watching.EventKindOverflow}))

	waitForCount(t, collector, xml, 1)
	assert.Contains(t, m.Directories(), lost)
}

// TestMonitorLifecycle tests lifecycle errors and shutdown interruption.
func TestMonitorLifecycle(t *testing.T) {
	root := t.TempDir()
	m, _, _ := newTestMonitor(t, root, Options{})
	xml := glob(root, "/*.xml")
	require.NoError(t, m.Register(xml, nil))
	result := start(t, m)

	require.Eventually(t, func() bool {
		return m.Register(glob(root, "/*.txt"), nil) == ErrRunning
	}, testTimeout, 10*time.Millisecond)
	assert.Equal(t, ErrRunning, m.Run(context.Background()))

	require.NoError(t, m.Shutdown(testTimeout))
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("dispatch loop not interrupted by shutdown")
	}
	assert.NoError(t, m.Shutdown(testTimeout))
	assert.Equal(t, ErrShutdown, m.Register(glob(root, "/*.log"), nil))
}

// TestMonitorShutdownTimeout tests that tasks outliving the shutdown timeout
// are cancelled and reported.
func TestMonitorShutdownTimeout(t *testing.T) {
	root := t.TempDir()
	m, _, _ := newTestMonitor(t, root, Options{})

	cancelled := make(chan struct{})
	m.schedule("blocking", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	assert.False(t, m.Wait(10*time.Millisecond))
	assert.Equal(t, ErrShutdownTimeout, m.Shutdown(10*time.Millisecond))
	select {
	case <-cancelled:
	case <-time.After(testTimeout):
		t.Fatal("abandoned task not cancelled")
	}
	assert.Equal(t, ErrShutdown, m.Run(context.Background()))
}

// TestMonitorCreateRoot tests that a missing root is created on request.
func TestMonitorCreateRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing", "root")
	m, _, _ := newTestMonitor(t, root, Options{CreateRoot: true})
	require.NoError(t, m.Register(glob(root, "/*.xml"), nil))
	assert.Equal(t, []string{root}, m.Directories())
}

// TestMonitorNativeBackend exercises the engine against the platform's native
// backend, creating nested directories and files as fast as possible so that
// many files land in directories before their watches are established.
func TestMonitorNativeBackend(t *testing.T) {
	root := t.TempDir()
	collector := NewCollector()
	m, err := New(root, collector, Options{})
	require.NoError(t, err)
	defer m.Shutdown(testTimeout)

	xml := glob(root, "/**/*A/*.xml")
	require.NoError(t, m.Register(xml, "payload"))
	start(t, m)

	for i := 0; i < 5; i++ {
		directory := filepath.Join(root, fmt.Sprintf("d%d", i), fmt.Sprintf("x%dA", i))
		require.NoError(t, os.MkdirAll(directory, 0700))
		for j := 0; j < 10; j++ {
			require.NoError(t, os.WriteFile(filepath.Join(directory, fmt.Sprintf("%d.xml", j)), nil, 0600))
			require.NoError(t, os.WriteFile(filepath.Join(directory, fmt.Sprintf("%d.txt", j)), nil, 0600))
		}
	}

	waitForCount(t, collector, xml, 50)
	settle(t, m)
	assert.Equal(t, 50, collector.Len())
	for _, result := range collector.Results() {
		assert.Equal(t, "payload", result.Payload)
	}
}

// TestMonitorMatcherCache tests that monitors compile patterns through their
// own cache unless one is supplied, in which case it can be shared.
func TestMonitorMatcherCache(t *testing.T) {
	root := t.TempDir()
	xml := glob(root, "/*.xml")

	// Monitors sharing a cache compile a common pattern once.
	shared := pattern.NewCache(pattern.DefaultCacheSize)
	first, _, _ := newTestMonitor(t, root, Options{MatcherCache: shared})
	second, _, _ := newTestMonitor(t, root, Options{MatcherCache: shared})
	require.NoError(t, first.Register(xml, nil))
	require.NoError(t, second.Register(xml, nil))
	require.NoError(t, second.Register(glob(root, "/*.txt"), nil))
	assert.Equal(t, 2, shared.Len())

	// A monitor without a supplied cache leaves the shared one untouched.
	private, _, _ := newTestMonitor(t, root, Options{})
	require.NoError(t, private.Register(glob(root, "/*.log"), nil))
	assert.Equal(t, 2, shared.Len())
	assert.NotSame(t, shared, private.matchers)
}
