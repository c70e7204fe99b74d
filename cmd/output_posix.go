//go:build !windows
// +build !windows

package cmd

const (
	// statusLineFormat is the format string to use for status line printing.
	// Content is truncated and padded to 80 characters, the width of a VT100
	// terminal.
	statusLineFormat = "\r%-80.80s"
	// statusLineClearFormat is the format string to use for clearing the
	// status line. It returns the cursor to the beginning of the line.
	statusLineClearFormat = statusLineFormat + "\r"
)
