package cmd

import (
	"os"
	"syscall"
)

// TerminationSignals are those signals which pathwatch considers to be
// requesting termination of a watch. SIGTERM is emulated on Windows for console
// close, logoff, and shutdown events.
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}
