package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"

	"github.com/mutagen-io/pathwatch/pkg/pathwatch"
)

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything. Subloggers share the output
// and level of the logger from which they were derived. It is safe for
// concurrent usage.
type Logger struct {
	// level is the maximum level that will be emitted.
	level Level
	// prefix is any prefix specified for the logger.
	prefix string
	// output is the underlying line-oriented logger.
	output *log.Logger
}

// NewLogger creates a new root logger that writes to the specified output at
// the specified level. Color escape sequences in warnings and errors are
// controlled by the fatih/color package, which disables them automatically if
// standard output isn't a terminal.
func NewLogger(level Level, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		output: log.New(output, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// RootLogger is the default root logger. It writes to standard error at the
// info level, or at the debug level if debugging is enabled via the
// environment (see the pathwatch package).
var RootLogger = NewLogger(defaultLevel(), os.Stderr)

// defaultLevel computes the level for RootLogger.
func defaultLevel() Level {
	if pathwatch.DebugEnabled {
		return LevelDebug
	}
	return LevelInfo
}

// Sublogger creates a new sublogger with the specified name.
func (l *Logger) Sublogger(name string) *Logger {
	// If the logger is nil, then the sublogger will be as well.
	if l == nil {
		return nil
	}

	// Compute the new prefix.
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	// Create the new logger.
	return &Logger{
		level:  l.level,
		prefix: prefix,
		output: l.output,
	}
}

// Level returns the logger's level. A nil logger reports LevelDisabled.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

// enabled returns whether or not messages at the specified level are emitted.
func (l *Logger) enabled(level Level) bool {
	return l != nil && level != LevelDisabled && level <= l.level
}

// write is the internal logging method.
func (l *Logger) write(line string) {
	// Add a prefix if necessary.
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}

	// Log. Output is only ever invoked from the exported methods, so a
	// calldepth of 3 attributes the line to their caller.
	l.output.Output(3, line)
}

// Errorf logs a failure with an error prefix and red color.
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.write(color.RedString("Error: "+format, v...))
	}
}

// Warnf logs a contained failure with a warning prefix and yellow color.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.write(color.YellowString("Warning: "+format, v...))
	}
}

// Infof logs basic execution information with semantics equivalent to
// fmt.Printf.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.write(fmt.Sprintf(format, v...))
	}
}

// Debugf logs advanced execution information with semantics equivalent to
// fmt.Printf.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.write(fmt.Sprintf(format, v...))
	}
}

// Tracef logs low-level execution information with semantics equivalent to
// fmt.Printf.
func (l *Logger) Tracef(format string, v ...interface{}) {
	if l.enabled(LevelTrace) {
		l.write(fmt.Sprintf(format, v...))
	}
}
