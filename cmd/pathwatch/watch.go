package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mutagen-io/pathwatch/cmd"
	"github.com/mutagen-io/pathwatch/pkg/configuration"
	"github.com/mutagen-io/pathwatch/pkg/encoding"
	"github.com/mutagen-io/pathwatch/pkg/logging"
	"github.com/mutagen-io/pathwatch/pkg/monitor"
	"github.com/mutagen-io/pathwatch/pkg/pattern"
)

const (
	// statusInterval is the interval at which the status line is refreshed.
	statusInterval = time.Second
)

// resultsDocument is the structure written to the results file.
type resultsDocument struct {
	// Monitor is the monitor identifier.
	Monitor string `yaml:"monitor"`
	// Root is the watched root.
	Root string `yaml:"root"`
	// Statistics are the monitor's final statistics.
	Statistics monitor.Statistics `yaml:"statistics"`
	// Results are the matches, sorted by pattern and path.
	Results []monitor.Result `yaml:"results"`
}

// loadWatchConfiguration loads the configuration file (if any) and applies
// command line overrides.
func loadWatchConfiguration(flags *pflag.FlagSet, arguments []string) (*configuration.Configuration, error) {
	// Load the configuration file. An explicitly specified file must exist.
	c := configuration.Default()
	if path := watchConfiguration.configuration; path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "unable to access configuration file")
		}
		var err error
		if c, err = configuration.Load(path); err != nil {
			return nil, errors.Wrap(err, "unable to load configuration")
		}
	}

	// Apply overrides.
	if len(arguments) == 1 {
		c.Root = arguments[0]
	}
	if flags.Changed("backend") {
		if err := c.Backend.UnmarshalText([]byte(watchConfiguration.backend)); err != nil {
			return nil, errors.Wrap(err, "invalid backend")
		}
	}
	if flags.Changed("log-level") {
		if err := c.Logging.Level.UnmarshalText([]byte(watchConfiguration.logLevel)); err != nil {
			return nil, errors.Wrap(err, "invalid log level")
		}
	}
	if flags.Changed("shutdown-timeout") {
		if watchConfiguration.shutdownTimeout < 0 {
			return nil, errors.New("negative shutdown timeout")
		}
		c.Reconciliation.ShutdownTimeout = configuration.Duration(watchConfiguration.shutdownTimeout)
	}
	if watchConfiguration.createRoot {
		c.CreateRoot = true
	}
	for _, specification := range watchConfiguration.patterns {
		p, err := pattern.Parse(specification)
		if err != nil {
			cmd.Warning(err.Error())
			continue
		}
		c.Patterns = append(c.Patterns, configuration.PatternRegistration{Pattern: p})
	}

	// Normalize the root.
	if c.Root != "" {
		root, err := filepath.Abs(c.Root)
		if err != nil {
			return nil, errors.Wrap(err, "unable to compute absolute root path")
		}
		c.Root = root
	}

	// Validate the result.
	if err := c.EnsureValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// Success.
	return c, nil
}

// watchMain is the entry point for the watch command.
func watchMain(command *cobra.Command, arguments []string) error {
	// Validate arguments.
	if len(arguments) > 1 {
		return errors.New("multiple roots specified")
	}

	// Compute the configuration.
	c, err := loadWatchConfiguration(command.Flags(), arguments)
	if err != nil {
		return err
	}

	// Create the logger.
	logger := logging.NewLogger(c.Logging.Level, os.Stderr)

	// Set up signal handling before creating any watching infrastructure so
	// that termination during setup is handled smoothly.
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)

	// Create a status line printer and a sink that prints matches as they
	// arrive while collecting them for the summary. The forwarding callback
	// may be invoked concurrently by reconciliation tasks.
	statusLine := cmd.NewStatusLinePrinter(true)
	collector := monitor.NewCollector()
	matchColor := color.New(color.FgGreen)
	var printLock sync.Mutex
	sink := monitor.NewForwarder(func(result monitor.Result) {
		collector.Add(result.Pattern, result.Path, result.Payload)
		printLock.Lock()
		statusLine.Clear()
		matchColor.Fprintf(color.Output, "%s", result.Path)
		fmt.Fprintf(color.Output, "\t%s\n", result.Pattern)
		printLock.Unlock()
	})

	// Create the monitor.
	cache := pattern.NewCache(pattern.DefaultCacheSize)
	m, err := monitor.New(c.Root, sink, c.MonitorOptions(logger, cache))
	if err != nil {
		return errors.Wrap(err, "unable to create monitor")
	}
	shutdownTimeout := time.Duration(c.Reconciliation.ShutdownTimeout)

	// Register patterns. Invalid and duplicate patterns are only worth a
	// warning, but at least one pattern has to be registered.
	registered, err := c.RegisterPatterns(m, func(err error) {
		cmd.Warning(err.Error())
	})
	if err == nil && registered == 0 {
		err = errors.New("no valid patterns")
	}
	if err != nil {
		m.Shutdown(shutdownTimeout)
		return err
	}

	// Run the monitor in the background.
	start := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrors := make(chan error, 1)
	go func() {
		runErrors <- m.Run(ctx)
	}()

	// Refresh the status line periodically until the run terminates.
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	var runErr error
	var signalled os.Signal
WaitLoop:
	for {
		select {
		case <-ticker.C:
			statistics := m.Statistics()
			printLock.Lock()
			statusLine.Print(fmt.Sprintf("%s: %s directories, %s events, %s matches",
				m.Identifier(),
				humanize.Comma(int64(statistics.Registrations)),
				humanize.Comma(int64(statistics.Events)),
				humanize.Comma(int64(collector.Len())),
			))
			printLock.Unlock()
		case signalled = <-signalTermination:
			cancel()
			runErr = <-runErrors
			break WaitLoop
		case runErr = <-runErrors:
			break WaitLoop
		}
	}
	printLock.Lock()
	statusLine.Clear()
	printLock.Unlock()

	// Shut down the monitor.
	if err := m.Shutdown(shutdownTimeout); errors.Is(err, monitor.ErrShutdownTimeout) {
		cmd.Warning("reconciliation tasks abandoned at shutdown")
	} else if err != nil {
		return errors.Wrap(err, "unable to shut down monitor")
	}

	// Print a summary.
	statistics := m.Statistics()
	if signalled != nil {
		fmt.Fprintf(os.Stderr, "Terminated by signal: %s\n", signalled)
	} else if runErr == nil {
		fmt.Fprintln(os.Stderr, "No directories left to watch")
	}
	fmt.Fprintf(os.Stderr, "Watched %s for %s: %s events, %s overflows, %s reconciliations, %s matches\n",
		m.Root(),
		time.Since(start).Round(time.Millisecond),
		humanize.Comma(int64(statistics.Events)),
		humanize.Comma(int64(statistics.Overflows)),
		humanize.Comma(int64(statistics.Reconciliations)),
		humanize.Comma(int64(collector.Len())),
	)

	// Write results if requested.
	if path := watchConfiguration.output; path != "" {
		document := &resultsDocument{
			Monitor:    m.Identifier(),
			Root:       m.Root(),
			Statistics: statistics,
			Results:    collector.Results(),
		}
		if err := encoding.MarshalAndSaveYAML(path, document); err != nil {
			return errors.Wrap(err, "unable to save results")
		}
		if info, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Saved %d results to %s (%s)\n",
				len(document.Results), path, humanize.Bytes(uint64(info.Size())),
			)
		}
	}

	// Report primitive failure.
	if runErr != nil {
		return errors.Wrap(runErr, "watching failed")
	}

	// Success.
	return nil
}

// watchCommand is the watch command.
var watchCommand = &cobra.Command{
	Use:          "watch [<root>]",
	Short:        "Watch a directory tree and print matching files",
	Run:          cmd.Mainify(watchMain),
	SilenceUsage: true,
}

// watchConfiguration stores configuration for the watch command.
var watchConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
	// patterns are pattern specifications to register in addition to those in
	// the configuration file.
	patterns []string
	// configuration is the path to a configuration file.
	configuration string
	// backend is the native notification backend.
	backend string
	// logLevel is the log level.
	logLevel string
	// output is the path to which results are written at exit.
	output string
	// shutdownTimeout bounds the wait for reconciliation tasks at exit.
	shutdownTimeout time.Duration
	// createRoot indicates that the root should be created if missing.
	createRoot bool
}

func init() {
	// Grab a handle for the command line flags.
	flags := watchCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&watchConfiguration.help, "help", "h", false, "Show help information")

	// Wire up flags. Patterns use a string array rather than a string slice
	// because glob alternations contain commas.
	flags.StringArrayVarP(&watchConfiguration.patterns, "pattern", "p", nil, "Register a pattern (glob:<path> or regex:<path>)")
	flags.StringVarP(&watchConfiguration.configuration, "config", "c", "", "Load configuration from the specified YAML file")
	flags.StringVar(&watchConfiguration.backend, "backend", "", "Specify the native notification backend (default|inotify|fsnotify)")
	flags.StringVar(&watchConfiguration.logLevel, "log-level", "", "Specify the log level (disabled|error|warn|info|debug|trace)")
	flags.StringVarP(&watchConfiguration.output, "output", "o", "", "Write results to the specified YAML file at exit")
	flags.DurationVar(&watchConfiguration.shutdownTimeout, "shutdown-timeout", configuration.DefaultShutdownTimeout, "Specify how long to wait for reconciliation tasks at exit")
	flags.BoolVar(&watchConfiguration.createRoot, "create-root", false, "Create the root directory if it doesn't exist")
}
