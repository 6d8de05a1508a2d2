package cerbos

import (
	"errors"
	"fmt"
)

// Sentinel errors for the Cerbos client.
var (
	// ErrInvalidPrincipal indicates a principal without id or roles.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrInvalidResource indicates a resource without kind or id.
	ErrInvalidResource = errors.New("invalid resource")

	// ErrInvalidAction indicates an empty action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidConfig indicates an unusable client configuration.
	ErrInvalidConfig = errors.New("invalid cerbos config")

	// ErrRemote indicates Cerbos answered with an error.
	ErrRemote = errors.New("cerbos returned an error")

	// ErrUnavailable indicates Cerbos could not be reached.
	ErrUnavailable = errors.New("cerbos unavailable")

	// ErrMissingResult indicates the response had no entry for a requested resource.
	ErrMissingResult = errors.New("cerbos response is missing a resource result")

	// ErrNoAdminCredentials indicates an admin call without credentials.
	ErrNoAdminCredentials = errors.New("admin credentials are not configured")
)

// RemoteError is an error answer from Cerbos. StatusCode is set for the
// HTTP transport and Code (a gRPC status code name) for gRPC.
type RemoteError struct {
	Transport  string
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cerbos %s error %s: %s", e.Transport, e.Code, e.Message)
	}
	return fmt.Sprintf("cerbos %s error %d: %s", e.Transport, e.StatusCode, e.Message)
}

// Is reports ErrRemote for every remote error.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// UnavailableError wraps a transport failure.
type UnavailableError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("cerbos at %s unavailable: %v", e.Target, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Is reports ErrUnavailable for every unavailable error.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}
