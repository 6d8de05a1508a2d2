package gincerbos

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotRegistered is returned when the plugin middleware did not run
	// for the current request.
	ErrNotRegistered = errors.New("gincerbos: plugin is not registered on this engine")

	// ErrNoResourceLoader is returned when the hook has no loader to tell it
	// which resource and action a request targets.
	ErrNoResourceLoader = errors.New("gincerbos: resource loader is not configured")

	// ErrInvalidConfig indicates an unusable plugin configuration.
	ErrInvalidConfig = errors.New("gincerbos: invalid config")

	// ErrInvalidUser indicates request user data that cannot be turned into a principal.
	ErrInvalidUser = errors.New("gincerbos: cannot derive principal from user")
)

// CheckError describes a failed authorization check.
type CheckError struct {
	Kind   string
	ID     string
	Action string
	Err    error
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return fmt.Sprintf("gincerbos: check %s on %s:%s: %v", e.Action, e.Kind, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckError) Unwrap() error {
	return e.Err
}
