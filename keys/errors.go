package keys

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is matched by errors.Is for every InvalidKeyError.
	ErrInvalidKey = errors.New("invalid key")
	// ErrMissingKey is matched by errors.Is for every MissingKeyError.
	ErrMissingKey = errors.New("missing key")
)

// InvalidKeyError is returned when a key cannot be registered. It is a
// definition-time error and should not be retried.
type InvalidKeyError struct {
	Model  string
	Key    string
	Reason string
}

// Error implements the error interface.
func (e *InvalidKeyError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("invalid key %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid key %q on %s: %s", e.Key, e.Model, e.Reason)
}

// Is reports whether target is ErrInvalidKey.
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// MissingKeyError is returned when a static-key model reads or writes a key
// that was never declared.
type MissingKeyError struct {
	Model string
	Key   string
}

// Error implements the error interface.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("key %q is not declared on %s", e.Key, e.Model)
}

// Is reports whether target is ErrMissingKey.
func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingKey
}
