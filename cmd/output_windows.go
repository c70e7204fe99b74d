package cmd

const (
	// statusLineFormat is the format string to use for status line printing.
	// Content is limited to 79 characters because carriage return wipes stop
	// working once the last column of a console line has been written.
	statusLineFormat = "\r%-79.79s"
	// statusLineClearFormat is the format string to use for clearing the
	// status line. It returns the cursor to the beginning of the line.
	statusLineClearFormat = statusLineFormat + "\r"
)
