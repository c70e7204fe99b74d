package pathwatch

import (
	"fmt"
)

const (
	// VersionMajor represents the current major version of pathwatch.
	VersionMajor = 0
	// VersionMinor represents the current minor version of pathwatch.
	VersionMinor = 3
	// VersionPatch represents the current patch version of pathwatch.
	VersionPatch = 0
	// VersionTag represents a tag to be appended to the version string. It must
	// not contain spaces. If empty, no tag is appended to the version string.
	VersionTag = "dev"
)

// Version provides a stringified version of the current pathwatch version.
var Version string

func init() {
	// Compute the stringified version.
	if VersionTag != "" {
		Version = fmt.Sprintf("%d.%d.%d-%s", VersionMajor, VersionMinor, VersionPatch, VersionTag)
	} else {
		Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
	}
}
