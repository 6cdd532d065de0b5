package domain

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks problems that must be fixed before a run can start:
// no usable credentials, no ID column, an empty or unknown column selection,
// an out-of-range batch size or a prompt template missing protected placeholders.
var ErrConfiguration = errors.New("configuration error")

// ConfigErrorf formats a message and wraps it with ErrConfiguration.
func ConfigErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
