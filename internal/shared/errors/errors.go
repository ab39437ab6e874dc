package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeDomain           ErrorType = "DOMAIN_ERROR"
	ErrorTypeValidation       ErrorType = "VALIDATION_ERROR"
	ErrorTypeTransport        ErrorType = "TRANSPORT_ERROR"
	ErrorTypeMalformedEvent   ErrorType = "MALFORMED_EVENT_ERROR"
	ErrorTypeResync           ErrorType = "RESYNC_ERROR"
	ErrorTypeMutationRejected ErrorType = "MUTATION_REJECTED_ERROR"
	ErrorTypeNotFound         ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeInternal         ErrorType = "INTERNAL_ERROR"
)

// Common application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidInput   = errors.New("invalid input")
)

// Sync-layer errors
var (
	ErrMalformedEvent        = errors.New("malformed change event")
	ErrUnknownEntityKind     = errors.New("unknown entity kind")
	ErrUnknownChangeKind     = errors.New("unknown change kind")
	ErrSessionClosed         = errors.New("sync session closed")
	ErrSessionAlreadyActive  = errors.New("sync session already active")
	ErrStaleView             = errors.New("view is stale pending resync")
	ErrFeedDisconnected      = errors.New("change feed disconnected")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrEntityNotFound        = errors.New("entity not found")
	ErrMutationRejected      = errors.New("mutation rejected by data store")
	ErrImmutableOwner        = errors.New("owner_id is write-once")
	ErrSubscriptionDuplicate = errors.New("subscription already open for entity kind")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

// NewDomainError creates a domain-specific error
func NewDomainError(message string) *AppError {
	return NewAppError(ErrorTypeDomain, message, http.StatusBadRequest)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewTransportError creates a transport error. Transport failures are recovered by
// reconnect and resync; they surface to callers only as a reconnecting state.
func NewTransportError(message string) *AppError {
	return NewAppError(ErrorTypeTransport, message, http.StatusServiceUnavailable)
}

// NewMalformedEventError creates an error for an unclassifiable feed payload
func NewMalformedEventError(message string) *AppError {
	return NewAppError(ErrorTypeMalformedEvent, message, http.StatusBadRequest)
}

// NewResyncError creates an error for a failed post-reconnect full fetch
func NewResyncError(message string) *AppError {
	return NewAppError(ErrorTypeResync, message, http.StatusServiceUnavailable)
}

// NewMutationRejectedError creates a recoverable error for a rejected store mutation
func NewMutationRejectedError(message string) *AppError {
	return NewAppError(ErrorTypeMutationRejected, message, http.StatusConflict)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// Helper functions for common error scenarios

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrorTypeNotFound
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrConversationNotFound)
}

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrorTypeTransport
	}
	return errors.Is(err, ErrFeedDisconnected)
}

// IsMalformedEvent checks if an error is a malformed event error
func IsMalformedEvent(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrorTypeMalformedEvent
	}
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUnknownChangeKind) || errors.Is(err, ErrUnknownEntityKind)
}

// IsResync checks if an error is a resync error
func IsResync(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrorTypeResync
	}
	return errors.Is(err, ErrStaleView)
}

// IsMutationRejected checks if an error is a rejected mutation
func IsMutationRejected(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrorTypeMutationRejected
	}
	return errors.Is(err, ErrMutationRejected)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == ErrorTypeValidation
	}
	return false
}
