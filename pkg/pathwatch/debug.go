package pathwatch

import (
	"os"
)

// DebugEnabled controls whether or not debugging is enabled for pathwatch. It
// is set automatically based on the PATHWATCH_DEBUG environment variable.
var DebugEnabled bool

func init() {
	// Check whether or not debugging should be enabled.
	DebugEnabled = os.Getenv("PATHWATCH_DEBUG") == "1"
}
