package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// StatusLinePrinter provides printing facilities for a dynamically updating
// status line in the console. It supports colorized printing. If its output is
// not a terminal, it prints nothing.
type StatusLinePrinter struct {
	// output is the color-aware output stream.
	output io.Writer
	// enabled indicates whether or not the output is a terminal.
	enabled bool
	// nonEmpty indicates whether or not the printer has printed any non-empty
	// content to the status line.
	nonEmpty bool
}

// NewStatusLinePrinter creates a status line printer. If useStandardError is
// true, then the printer writes to standard error instead of standard output.
func NewStatusLinePrinter(useStandardError bool) *StatusLinePrinter {
	file, output := os.Stdout, color.Output
	if useStandardError {
		file, output = os.Stderr, color.Error
	}
	return &StatusLinePrinter{
		output:  output,
		enabled: isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd()),
	}
}

// Enabled indicates whether or not the printer's output is a terminal.
func (p *StatusLinePrinter) Enabled() bool {
	return p.enabled
}

// Print prints a message to the status line, overwriting any existing content.
// Messages are truncated and padded to a platform-dependent width so that
// carriage return wipes remove all previous content.
func (p *StatusLinePrinter) Print(message string) {
	if !p.enabled {
		return
	}
	fmt.Fprintf(p.output, statusLineFormat, message)
	p.nonEmpty = true
}

// Clear clears any content on the status line and moves the cursor back to the
// beginning of the line.
func (p *StatusLinePrinter) Clear() {
	if !p.enabled || !p.nonEmpty {
		return
	}
	fmt.Fprintf(p.output, statusLineClearFormat, "")
	p.nonEmpty = false
}
