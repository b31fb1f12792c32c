package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested item was not found.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest indicates that the data store rejected the request as malformed.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates that the request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates that the request is not allowed for the caller.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates that an item with the same identity already exists.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that the data store is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInternalError indicates an internal data store error.
	ErrInternalError = errors.New("internal error")

	// ErrInvalidFormat indicates that a payload could not be decoded into the item type.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidInput indicates that caller supplied parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// HTTPError is the transport error family raised by data clients.
// errors.Is matches the sentinel that corresponds to StatusCode.
type HTTPError struct {
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *HTTPError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's status code.
func (e *HTTPError) Is(target error) bool {
	s := statusSentinel(e.StatusCode)
	return s != nil && s == target
}

func statusSentinel(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	}
	if code >= 500 && code < 600 {
		return ErrInternalError
	}
	return nil
}

// FormatError reports that a payload could not be deserialized into the item type.
type FormatError struct {
	// Target names the type or payload that failed to decode.
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("invalid format: cannot decode %s", e.Target)
	}
	return fmt.Sprintf("invalid format: cannot decode %s: %v", e.Target, e.Cause)
}

// Unwrap returns the underlying decoding error.
func (e *FormatError) Unwrap() error {
	return e.Cause
}

// Is matches ErrInvalidFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewNotFoundError creates a 404 HTTPError for an item of a collection.
func NewNotFoundError(collection, id string) *HTTPError {
	return NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s not found: %s", collection, id))
}

// NewConflictError creates a 409 HTTPError for a duplicate item id.
func NewConflictError(collection, id string) *HTTPError {
	return NewHTTPError(http.StatusConflict, fmt.Sprintf("%s already exists: %s", collection, id))
}

// NewBadRequestError creates a 400 HTTPError.
func NewBadRequestError(message string) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message)
}

// NewForbiddenError creates a 403 HTTPError.
func NewForbiddenError(message string) *HTTPError {
	return NewHTTPError(http.StatusForbidden, message)
}

// NewFormatError creates a new FormatError.
func NewFormatError(target string, cause error) *FormatError {
	return &FormatError{
		Target: target,
		Cause:  cause,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// AsHTTPError returns the HTTPError in err's chain, if any.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
