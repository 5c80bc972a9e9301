// Package apperrors defines the error taxonomy shared by the gateway, the job
// state machine and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports a rejected submission or request field. It is
// raised before any record is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a missing data source or analysis.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError returns a NotFoundError for the given resource and id.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// GatewayErrorKind classifies a failed remote call.
type GatewayErrorKind string

const (
	GatewayNetwork GatewayErrorKind = "network"
	GatewayStatus  GatewayErrorKind = "status"
	GatewayTimeout GatewayErrorKind = "timeout"
)

// GatewayError is returned by every failed call to the remote analysis
// service. StatusCode is zero unless Kind is GatewayStatus.
type GatewayError struct {
	Op         string
	Kind       GatewayErrorKind
	StatusCode int
	Detail     string
	Err        error
}

func (e *GatewayError) Error() string {
	detail := e.Detail
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	switch e.Kind {
	case GatewayStatus:
		return fmt.Sprintf("external API error: %s returned %d: %s", e.Op, e.StatusCode, detail)
	case GatewayTimeout:
		return fmt.Sprintf("external API error: %s timed out: %s", e.Op, detail)
	default:
		return fmt.Sprintf("external API error: %s: %s", e.Op, detail)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is or wraps a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AsGateway returns the GatewayError wrapped by err, if any.
func AsGateway(err error) (*GatewayError, bool) {
	var g *GatewayError
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}
