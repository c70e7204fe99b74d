package identifier

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mutagen-io/pathwatch/pkg/encoding"
)

const (
	// PrefixMonitor is the prefix used for monitor identifiers.
	PrefixMonitor = "mntr"

	// requiredPrefixLength is the required length for identifier prefixes.
	requiredPrefixLength = 4
)

// New generates a new collision-resistant identifier with the specified prefix.
// The prefix must consist of exactly four lowercase ASCII letters. The random
// component is a version 4 UUID encoded in Base62.
func New(prefix string) (string, error) {
	// Validate the prefix.
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("incorrect prefix length")
	}
	for _, r := range prefix {
		if r < 'a' || r > 'z' {
			return "", errors.New("invalid prefix character")
		}
	}

	// Create the random value.
	random, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "unable to generate random value")
	}

	// Encode the random value.
	return prefix + "_" + encoding.EncodeBase62(random[:]), nil
}

// IsValid determines whether or not a string is a valid identifier with the
// specified prefix.
func IsValid(value, prefix string) bool {
	body := strings.TrimPrefix(value, prefix+"_")
	if body == value || body == "" {
		return false
	}
	decoded, err := encoding.DecodeBase62(body)
	return err == nil && len(decoded) == len(uuid.UUID{})
}
