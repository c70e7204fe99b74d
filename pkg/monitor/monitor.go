package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
	"github.com/mutagen-io/pathwatch/pkg/identifier"
	"github.com/mutagen-io/pathwatch/pkg/logging"
	"github.com/mutagen-io/pathwatch/pkg/pattern"
)

// Options configures a monitor.
type Options struct {
	// Backend selects the primitive backend. It's ignored if Primitive is set.
	Backend watching.Backend
	// MaximumPendingEvents is the per-directory pending event limit passed to
	// the primitive. If zero, the primitive's default is used.
	MaximumPendingEvents int
	// Primitive, if non-nil, is used instead of creating a primitive. The
	// monitor takes ownership of it.
	Primitive watching.Primitive
	// RegistrationThreshold is the tolerance used by registration
	// reconciliation. If zero, DefaultRegistrationThreshold is used.
	RegistrationThreshold time.Duration
	// OverflowThreshold is the tolerance used by overflow reconciliation. If
	// zero, DefaultOverflowThreshold is used.
	OverflowThreshold time.Duration
	// CreateRoot indicates that the root should be created if it doesn't
	// exist.
	CreateRoot bool
	// Clock is the time source. If nil, the system clock is used.
	Clock Clock
	// MatcherCache is the cache used to compile patterns. It may be shared
	// with other monitors. If nil, the monitor creates its own.
	MatcherCache *pattern.Cache
	// Logger is the parent logger. It may be nil.
	Logger *logging.Logger
}

// target is a registered pattern along with its derived state.
type target struct {
	// pattern is the registered pattern.
	pattern pattern.Pattern
	// matcher is the compiled pattern.
	matcher *pattern.Matcher
	// payload is the registered payload.
	payload interface{}
	// scope is the set of directories in the pattern's scope.
	scope *ScopeSet
}

// Monitor watches a directory tree for files matching one or more patterns.
// Patterns are registered with Register, after which Run consumes events
// until the monitor is shut down or every watched directory disappears.
type Monitor struct {
	// counters tracks activity.
	counters *counters
	// identifier is the monitor identifier.
	identifier string
	// root is the absolute path of the watched root.
	root string
	// sink receives matches.
	sink Sink
	// matchers caches compiled patterns.
	matchers *pattern.Cache
	// clock is the time source.
	clock Clock
	// registrationThreshold is the registration reconciliation tolerance.
	registrationThreshold time.Duration
	// overflowThreshold is the overflow reconciliation tolerance.
	overflowThreshold time.Duration
	// logger is the monitor logger.
	logger *logging.Logger
	// registrationLogger is the logger for registration.
	registrationLogger *logging.Logger
	// dispatchLogger is the logger for the dispatch loop.
	dispatchLogger *logging.Logger
	// reconcileLogger is the logger for reconciliation tasks.
	reconcileLogger *logging.Logger
	// primitive is the native notification primitive.
	primitive watching.Primitive
	// registry tracks directory registrations.
	registry *registry
	// tasks runs reconciliation tasks.
	tasks *taskPool
	// lock guards running, shutdown, and writes to targets.
	lock sync.Mutex
	// running indicates that Run has been invoked.
	running bool
	// shutdown indicates that Shutdown has been invoked.
	shutdown bool
	// targets are the registered patterns. It's only written before the
	// dispatch loop starts.
	targets []*target
	// lastProcessed is the time at which the last create or modify event was
	// processed, or the time of the first registration if no event has been
	// processed. It's only accessed by Register and the dispatch loop.
	lastProcessed time.Time
}

// New creates a new monitor for the tree rooted at root, reporting matches to
// sink. Failure to create the primitive is the only error. An inaccessible
// root is logged when patterns are registered and leaves the monitor with
// nothing to watch.
func New(root string, sink Sink, options Options) (*Monitor, error) {
	// Validate the sink.
	if sink == nil {
		return nil, errors.New("nil sink")
	}

	// Normalize the root.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to compute absolute root path")
	}

	// Create the root if requested.
	if options.CreateRoot {
		if err := os.MkdirAll(root, 0700); err != nil {
			return nil, errors.Wrap(err, "unable to create root")
		}
	}

	// Generate an identifier.
	id, err := identifier.New(identifier.PrefixMonitor)
	if err != nil {
		return nil, errors.Wrap(err, "unable to generate monitor identifier")
	}

	// Set up logging.
	logger := options.Logger.Sublogger("monitor")

	// Create the primitive.
	primitive := options.Primitive
	if primitive == nil {
		primitive, err = watching.NewPrimitive(options.Backend, watching.Options{
			MaximumPendingEvents: options.MaximumPendingEvents,
			Logger:               logger.Sublogger("watching"),
		})
		if err != nil {
			return nil, errors.Wrap(err, "unable to create watch primitive")
		}
	}

	// Apply defaults.
	clock := options.Clock
	if clock == nil {
		clock = systemClock{}
	}
	registrationThreshold := options.RegistrationThreshold
	if registrationThreshold == 0 {
		registrationThreshold = DefaultRegistrationThreshold
	}
	overflowThreshold := options.OverflowThreshold
	if overflowThreshold == 0 {
		overflowThreshold = DefaultOverflowThreshold
	}
	matchers := options.MatcherCache
	if matchers == nil {
		matchers = pattern.NewCache(pattern.DefaultCacheSize)
	}

	// Success.
	return &Monitor{
		counters:              &counters{},
		identifier:            id,
		root:                  root,
		sink:                  sink,
		matchers:              matchers,
		clock:                 clock,
		registrationThreshold: registrationThreshold,
		overflowThreshold:     overflowThreshold,
		logger:                logger,
		registrationLogger:    logger.Sublogger("registry"),
		dispatchLogger:        logger.Sublogger("dispatch"),
		reconcileLogger:       logger.Sublogger("reconcile"),
		primitive:             primitive,
		registry:              newRegistry(),
		tasks:                 newTaskPool(logger.Sublogger("tasks")),
	}, nil
}

// Identifier returns the monitor's identifier.
func (m *Monitor) Identifier() string {
	return m.identifier
}

// Root returns the absolute path of the watched root.
func (m *Monitor) Root() string {
	return m.root
}

// Register registers a pattern along with an opaque payload that accompanies
// each of its matches. It compiles the pattern, registers every directory
// under the root, and schedules reconciliation for the directories in the
// pattern's scope. It must be called before Run. An invalid pattern yields an
// *pattern.InvalidPatternError and doesn't affect other registrations.
func (m *Monitor) Register(p pattern.Pattern, payload interface{}) error {
	// Compile the pattern.
	matcher, err := m.matchers.Compile(p)
	if err != nil {
		return err
	}

	// Record the target.
	m.lock.Lock()
	if m.shutdown {
		m.lock.Unlock()
		return ErrShutdown
	} else if m.running {
		m.lock.Unlock()
		return ErrRunning
	}
	for _, existing := range m.targets {
		if existing.pattern == p {
			m.lock.Unlock()
			return ErrDuplicatePattern
		}
	}
	t := &target{pattern: p, matcher: matcher, payload: payload, scope: newScopeSet()}
	m.targets = append(m.targets, t)
	if m.lastProcessed.IsZero() {
		m.lastProcessed = m.clock.Now()
	}
	m.lock.Unlock()

	// Register the tree for this target. Directories registered for earlier
	// targets keep their handles, but they're still classified and reconciled
	// for this one.
	m.logger.Debugf("Registering %s under %s", p, m.root)
	m.registerTree(context.Background(), m.root, []*target{t}, true)
	m.logger.Debugf("Registered %d directories, %d in scope of %s", m.registry.count(), t.scope.Len(), p)

	// Success.
	return nil
}

// Run runs the dispatch loop until the context is cancelled, the monitor is
// shut down, or every watched directory has been retired. Those conditions
// all return nil. A non-nil error indicates that the primitive failed.
func (m *Monitor) Run(ctx context.Context) error {
	m.lock.Lock()
	if m.shutdown {
		m.lock.Unlock()
		return ErrShutdown
	} else if m.running {
		m.lock.Unlock()
		return ErrRunning
	}
	m.running = true
	m.lock.Unlock()

	m.logger.Infof("Monitor %s watching %s (%d directories, %d patterns)",
		m.identifier, m.root, m.registry.count(), len(m.targets),
	)
	return m.run(ctx)
}

// Wait waits up to timeout for outstanding reconciliation tasks to complete.
// It returns false if tasks were still running when the timeout expired.
func (m *Monitor) Wait(timeout time.Duration) bool {
	return m.tasks.wait(timeout)
}

// Shutdown closes the primitive, which interrupts Run, and then waits up to
// timeout for reconciliation tasks. Tasks still running after the timeout are
// cancelled and abandoned, in which case ErrShutdownTimeout is returned.
// Subsequent calls return nil.
func (m *Monitor) Shutdown(timeout time.Duration) error {
	m.lock.Lock()
	if m.shutdown {
		m.lock.Unlock()
		return nil
	}
	m.shutdown = true
	m.lock.Unlock()

	// Interrupt the dispatch loop.
	if err := m.primitive.Close(); err != nil {
		m.logger.Warnf("Unable to close watch primitive: %v", err)
	}

	// Wait for reconciliation tasks.
	if abandoned := m.tasks.shutdown(timeout); abandoned > 0 {
		m.logger.Warnf("Abandoned %d reconciliation tasks", abandoned)
		return ErrShutdownTimeout
	}
	return nil
}
