package configuration

import (
	"time"

	"github.com/pkg/errors"
)

// Duration is a time.Duration value that supports unmarshalling from
// human-friendly string representations (such as "1.5s" or "250ms"). It can be
// cast to a time.Duration value.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (d *Duration) UnmarshalText(textBytes []byte) error {
	// Parse the value.
	value, err := time.ParseDuration(string(textBytes))
	if err != nil {
		return errors.Wrap(err, "invalid duration")
	} else if value < 0 {
		return errors.New("negative duration")
	}

	// Store the value.
	*d = Duration(value)

	// Success.
	return nil
}
