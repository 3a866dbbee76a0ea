package model

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/mgo.v2/bson"

	"github.com/goliatone/go-odm/query"
)

var (
	// ErrDocumentNotFound matches every *NotFoundError with errors.Is.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNoMethod matches every *NoMethodError with errors.Is.
	ErrNoMethod = errors.New("undefined method")
	// ErrDetached is returned by Document persistence methods on a value
	// that was not built by a Model.
	ErrDetached = errors.New("document is not bound to a model")
	// ErrValidation matches every *ValidationError with errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrArgument is query.ErrArgument, re-exported for callers that only
	// import model.
	ErrArgument = query.ErrArgument
)

// ArgumentError is query.ArgumentError.
type ArgumentError = query.ArgumentError

// NotFoundError is returned by the strict finders when one or more
// requested documents do not exist.
type NotFoundError struct {
	Model    string
	IDs      []any
	Criteria bson.M
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	switch {
	case len(e.IDs) > 0:
		ids := make([]string, len(e.IDs))
		for i, id := range e.IDs {
			ids[i] = fmt.Sprint(id)
		}
		return fmt.Sprintf("%s not found with id(s) %s", e.Model, strings.Join(ids, ", "))
	case len(e.Criteria) > 0:
		return fmt.Sprintf("%s not found matching %v", e.Model, e.Criteria)
	}
	return fmt.Sprintf("%s not found", e.Model)
}

// Is reports whether target is ErrDocumentNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrDocumentNotFound
}

// NoMethodError is returned by Call when a name is neither a scope, a
// registered method nor a dynamic finder.
type NoMethodError struct {
	Model string
	Name  string
}

// Error implements the error interface.
func (e *NoMethodError) Error() string {
	return fmt.Sprintf("undefined method %q for %s", e.Name, e.Model)
}

// Is reports whether target is ErrNoMethod.
func (e *NoMethodError) Is(target error) bool {
	return target == ErrNoMethod
}

// ValidationError carries the per-key failures of a save.
type ValidationError struct {
	Model  string
	Errors validation.Errors
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is invalid: %s", e.Model, e.Errors.Error())
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap exposes the ozzo validation errors.
func (e *ValidationError) Unwrap() error {
	return e.Errors
}
