package db

import (
	"errors"
	"fmt"
)

// ErrValidation marks a caller fault detected before any I/O.
var ErrValidation = errors.New("validation failed")

// ErrDiagnosticsUnavailable is matched by every *DiagnosticsError.
var ErrDiagnosticsUnavailable = errors.New("diagnostics unavailable")

// DataAccessError wraps a driver failure raised while running op.
type DataAccessError struct {
	Dialect Dialect
	Op      string
	Err     error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Dialect, e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// DiagnosticsError wraps a driver failure raised by a diagnostics query.
type DiagnosticsError struct {
	Dialect Dialect
	Err     error
}

func (e *DiagnosticsError) Error() string {
	return fmt.Sprintf("diagnostics unavailable (%s): %v", e.Dialect, e.Err)
}

func (e *DiagnosticsError) Unwrap() error { return e.Err }

func (e *DiagnosticsError) Is(target error) bool {
	return target == ErrDiagnosticsUnavailable
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
