package configuration

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/encoding"
	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
	"github.com/mutagen-io/pathwatch/pkg/logging"
	"github.com/mutagen-io/pathwatch/pkg/monitor"
	"github.com/mutagen-io/pathwatch/pkg/pattern"
)

const (
	// DefaultShutdownTimeout is the default amount of time that outstanding
	// reconciliation tasks are given to complete at shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// PatternRegistration is a pattern along with the payload that's reported with
// its matches.
type PatternRegistration struct {
	// Pattern is the pattern specification.
	Pattern pattern.Pattern `yaml:"pattern"`
	// Payload is an opaque value reported with each match.
	Payload interface{} `yaml:"payload,omitempty"`
}

// Configuration is the top-level configuration object.
type Configuration struct {
	// Root is the directory tree to watch.
	Root string `yaml:"root"`
	// Backend is the native notification backend.
	Backend watching.Backend `yaml:"backend"`
	// CreateRoot indicates that the root should be created if it's missing.
	CreateRoot bool `yaml:"createRoot"`
	// Logging contains logging configuration.
	Logging struct {
		// Level is the log level.
		Level logging.Level `yaml:"level"`
	} `yaml:"logging"`
	// Watching contains native watching configuration.
	Watching struct {
		// MaximumPendingEvents is the per-directory pending event limit.
		MaximumPendingEvents int `yaml:"maximumPendingEvents"`
	} `yaml:"watching"`
	// Reconciliation contains reconciliation configuration.
	Reconciliation struct {
		// RegistrationThreshold is the registration reconciliation tolerance.
		RegistrationThreshold Duration `yaml:"registrationThreshold"`
		// OverflowThreshold is the overflow reconciliation tolerance.
		OverflowThreshold Duration `yaml:"overflowThreshold"`
		// ShutdownTimeout bounds the wait for outstanding tasks at shutdown.
		ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	} `yaml:"reconciliation"`
	// Patterns are the patterns to register.
	Patterns []PatternRegistration `yaml:"patterns"`
}

// Default returns a configuration populated with default values.
func Default() *Configuration {
	result := &Configuration{}
	result.Logging.Level = logging.LevelInfo
	result.Watching.MaximumPendingEvents = watching.DefaultMaximumPendingEvents
	result.Reconciliation.RegistrationThreshold = Duration(monitor.DefaultRegistrationThreshold)
	result.Reconciliation.OverflowThreshold = Duration(monitor.DefaultOverflowThreshold)
	result.Reconciliation.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	return result
}

// Load loads a configuration from the specified path. Values not specified in
// the file retain their defaults. If the path doesn't exist, the default
// configuration is returned.
func Load(path string) (*Configuration, error) {
	// Create the default configuration.
	result := Default()

	// Load the file on top of the defaults.
	if err := encoding.LoadAndUnmarshalYAML(path, result); err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}

	// Success.
	return result, nil
}

// EnsureValid ensures that the configuration is valid.
func (c *Configuration) EnsureValid() error {
	// A nil configuration is not valid.
	if c == nil {
		return errors.New("nil configuration")
	}

	// Verify the root.
	if c.Root == "" {
		return errors.New("empty root")
	} else if !filepath.IsAbs(c.Root) {
		return errors.Errorf("root is not absolute: %s", c.Root)
	}

	// Verify the backend.
	if !c.Backend.Supported() {
		return errors.Errorf("unsupported backend: %s", c.Backend)
	}

	// Verify watching parameters.
	if c.Watching.MaximumPendingEvents < 0 {
		return errors.New("negative maximum pending event count")
	}

	// Verify that there's something to watch. Individual patterns are
	// validated when they're registered.
	if len(c.Patterns) == 0 {
		return errors.New("no patterns specified")
	}

	// Success.
	return nil
}

// MonitorOptions converts the configuration into monitor options using the
// specified parent logger and matcher cache.
func (c *Configuration) MonitorOptions(logger *logging.Logger, cache *pattern.Cache) monitor.Options {
	return monitor.Options{
		Backend:               c.Backend,
		MaximumPendingEvents:  c.Watching.MaximumPendingEvents,
		RegistrationThreshold: time.Duration(c.Reconciliation.RegistrationThreshold),
		OverflowThreshold:     time.Duration(c.Reconciliation.OverflowThreshold),
		CreateRoot:            c.CreateRoot,
		MatcherCache:          cache,
		Logger:                logger,
	}
}

// RegisterPatterns registers the configured patterns with a monitor. Invalid
// and duplicate patterns only affect their own registration: they're passed
// to warn (which may be nil) and skipped. Any other registration failure is
// returned. It returns the number of patterns registered.
func (c *Configuration) RegisterPatterns(m *monitor.Monitor, warn func(error)) (int, error) {
	var registered int
	for _, registration := range c.Patterns {
		err := m.Register(registration.Pattern, registration.Payload)
		if err == nil {
			registered++
			continue
		} else if errors.Is(err, monitor.ErrDuplicatePattern) {
			err = errors.Wrapf(err, "pattern %s ignored", registration.Pattern)
		} else if !pattern.IsInvalidPattern(err) {
			return registered, errors.Wrapf(err, "unable to register pattern %s", registration.Pattern)
		}
		if warn != nil {
			warn(err)
		}
	}
	return registered, nil
}
