package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error so callers can decide how to react without
// inspecting messages.
type ErrorClass string

const (
	// ErrorClassValidation indicates the desired resource or the requested
	// operation failed a local check. Nothing was sent to the remote.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound indicates the remote object does not exist. The
	// reconciler treats this as an outcome, not a failure.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassVersionConflict indicates the configuration version used to
	// open or commit a transaction is stale. Retryable with freshly read state.
	ErrorClassVersionConflict ErrorClass = "version_conflict"

	// ErrorClassValidationFailed indicates the remote rejected the proposed
	// configuration at commit. Never retryable.
	ErrorClassValidationFailed ErrorClass = "validation_failed"

	// ErrorClassTransport indicates a network failure, a timeout or a
	// malformed response.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassAPI indicates a well formed non-2xx response.
	ErrorClassAPI ErrorClass = "api"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the identity of the resource involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// StatusCode is the HTTP status returned by the remote, if any.
	StatusCode int `json:"status_code,omitempty"`

	// Body is the raw response body returned by the remote, if any.
	Body string `json:"body,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new local validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassNotFound,
		Message: message,
		Code:    ErrCodeNotFound,
		Err:     err,
	}
}

// NewVersionConflictError creates a new version conflict error.
func NewVersionConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassVersionConflict,
		Message: message,
		Code:    ErrCodeVersionConflict,
		Err:     err,
	}
}

// NewValidationFailedError creates a new remote validation error.
func NewValidationFailedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidationFailed,
		Message: message,
		Code:    ErrCodeRemoteRejected,
		Err:     err,
	}
}

// NewTransportError creates a new transport error.
func NewTransportError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransport,
		Message: message,
		Code:    ErrCodeTransport,
		Err:     err,
	}
}

// NewAPIError creates a new API error.
func NewAPIError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAPI,
		Message: message,
		Code:    ErrCodeAPI,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithStatus records the remote HTTP status and response body.
func (e *EngineError) WithStatus(status int, body string) *EngineError {
	e.StatusCode = status
	e.Body = body
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or "" when err is not an EngineError.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsValidation returns true if the error is a local validation error.
func IsValidation(err error) bool {
	return ClassOf(err) == ErrorClassValidation
}

// IsNotFound returns true if the error reports a missing remote object.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsVersionConflict returns true if the error reports a stale version.
func IsVersionConflict(err error) bool {
	return ClassOf(err) == ErrorClassVersionConflict
}

// IsValidationFailed returns true if the remote rejected a commit.
func IsValidationFailed(err error) bool {
	return ClassOf(err) == ErrorClassValidationFailed
}

// IsTransport returns true if the error is a network level failure.
func IsTransport(err error) bool {
	return ClassOf(err) == ErrorClassTransport
}

// IsAPI returns true if the error is a non-2xx API response.
func IsAPI(err error) bool {
	return ClassOf(err) == ErrorClassAPI
}

// IsRetryable returns true if the caller may retry the whole operation.
// Version conflicts must be retried from freshly read state.
func IsRetryable(err error) bool {
	return IsVersionConflict(err) || IsTransport(err)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeVersionConflict   = "VERSION_CONFLICT"
	ErrCodeRemoteRejected    = "REMOTE_VALIDATION_FAILED"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeAPI               = "API_ERROR"
	ErrCodePolicyDenied      = "POLICY_DENIED"
)
