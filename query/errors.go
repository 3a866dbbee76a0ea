package query

import (
	"errors"
	"fmt"
)

// ErrArgument matches every *ArgumentError with errors.Is.
var ErrArgument = errors.New("argument error")

// ArgumentError reports a malformed call: conflicting projections, a bad
// page number, a wrong argument count to a dynamic finder and so on.
type ArgumentError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Is reports whether target is ErrArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrArgument
}

func argumentError(op, format string, args ...any) *ArgumentError {
	return &ArgumentError{Op: op, Message: fmt.Sprintf(format, args...)}
}
