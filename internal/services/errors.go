package services

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTOTPRequired       = errors.New("two-factor code required")
	ErrInvalidTOTP        = errors.New("invalid two-factor code")
	ErrUnauthenticated    = errors.New("not authenticated")
)

// ValidationError represents a validation failure with suggestions
type ValidationError struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("%s: %s. Suggestions: %v", e.Field, e.Message, e.Suggestions)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, suggestions []string) *ValidationError {
	return &ValidationError{
		Field:       field,
		Message:     message,
		Suggestions: suggestions,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}

// ConflictError represents a resource conflict (e.g., already exists)
type ConflictError struct {
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

// NewConflictError creates a new conflict error
func NewConflictError(resource, message string) *ConflictError {
	return &ConflictError{
		Resource: resource,
		Message:  message,
	}
}

// IsConflictError checks if an error is a ConflictError
func IsConflictError(err error) (*ConflictError, bool) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr, true
	}
	return nil, false
}

// ServiceError is a rejection from persistence or an external provider.
// Message is shown to the caller verbatim.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err, keeping its message for the caller
func NewServiceError(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Message: err.Error(), Err: err}
}

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) (*ServiceError, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}

// PartialWorkflowError reports that a later step of a multi-step workflow failed after an
// earlier step committed. It is never folded into success or full failure.
type PartialWorkflowError struct {
	Completed string
	Failed    string
	Err       error
}

func (e *PartialWorkflowError) Error() string {
	return fmt.Sprintf("%s succeeded but %s failed: %v", e.Completed, e.Failed, e.Err)
}

func (e *PartialWorkflowError) Unwrap() error {
	return e.Err
}

// IsPartialWorkflowError checks if an error is a PartialWorkflowError
func IsPartialWorkflowError(err error) (*PartialWorkflowError, bool) {
	var partialErr *PartialWorkflowError
	if errors.As(err, &partialErr) {
		return partialErr, true
	}
	return nil, false
}

// Session callback error codes carried back to the sign-in surface
const (
	SessionErrorCallback   = "auth_callback_error"
	SessionErrorNoSession  = "no_session"
	SessionErrorUnexpected = "unexpected_error"
)

// SessionError means an auth callback could not establish a session
type SessionError struct {
	Code string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session error %s: %v", e.Code, e.Err)
	}
	return "session error " + e.Code
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsSessionError checks if an error is a SessionError
func IsSessionError(err error) (*SessionError, bool) {
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr, true
	}
	return nil, false
}

// AccountLockedError is returned while sign-in is blocked after repeated failures
type AccountLockedError struct {
	Until string
}

func (e *AccountLockedError) Error() string {
	return "account is temporarily locked until " + e.Until
}
