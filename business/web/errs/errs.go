// Package errs provides the error types shared by the ledger web handlers.
package errs

import (
	"errors"
	"net/http"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context. The message of a trusted error
// is safe to show to the client.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (te *Trusted) Error() string {
	return te.Err.Error()
}

// Unwrap provides access to the wrapped error.
func (te *Trusted) Unwrap() error {
	return te.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var te *Trusted
	return errors.As(err, &te)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var te *Trusted
	if !errors.As(err, &te) {
		return nil
	}
	return te
}

// =============================================================================

// Mapping associates a sentinel error with the status it is reported with.
type Mapping struct {
	Err    error
	Status int
}

// Translate returns a trusted error for the first mapping the error matches.
// Errors that match nothing are returned unchanged and end up reported as
// internal errors.
func Translate(err error, mappings ...Mapping) error {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			return NewTrusted(err, m.Status)
		}
	}
	return err
}

// NotFound is a convenience mapping for the errors reported as a 404.
func NotFound(err error) Mapping {
	return Mapping{Err: err, Status: http.StatusNotFound}
}

// Conflict is a convenience mapping for the errors reported as a 409.
func Conflict(err error) Mapping {
	return Mapping{Err: err, Status: http.StatusConflict}
}
