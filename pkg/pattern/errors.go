package pattern

import (
	"github.com/pkg/errors"
)

// InvalidPatternError indicates that a pattern could not be parsed or
// compiled.
type InvalidPatternError struct {
	// Specification is the pattern in specification form.
	Specification string
	// Reason describes the problem.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements error.Error.
func (e *InvalidPatternError) Error() string {
	if e.Err != nil {
		return "invalid pattern \"" + e.Specification + "\": " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid pattern \"" + e.Specification + "\": " + e.Reason
}

// Unwrap returns the underlying error.
func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// IsInvalidPattern indicates whether or not an error (or any error that it
// wraps) is an InvalidPatternError.
func IsInvalidPattern(err error) bool {
	var target *InvalidPatternError
	return errors.As(err, &target)
}
