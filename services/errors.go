package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeCredits      ErrorType = "credits"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// Error codes surfaced to API clients for credit failures
const (
	CodeInsufficientCredits     = "INSUFFICIENT_CREDITS"
	CodePlatformCreditsDepleted = "PLATFORM_CREDITS_DEPLETED"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Treat them as read-only sentinels for errors.Is;
// use the constructors below when details are attached.

var (
	ErrUserCreditsNotFound = NewDomainError(ErrorTypeNotFound, "user credits not found", nil)
	ErrProviderNotFound    = NewDomainError(ErrorTypeNotFound, "provider not found", nil)
	ErrPoolNotFound        = NewDomainError(ErrorTypeNotFound, "credit pool not found", nil)

	ErrInvalidInput           = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidEnhancementType = NewDomainError(ErrorTypeValidation, "invalid enhancement type", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	ErrCreditsExhausted = NewDomainError(ErrorTypeCredits, "credits exhausted", nil)

	ErrConcurrentUpdate = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	ErrInternal              = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrNoProvidersConfigured = NewDomainError(ErrorTypeInternal, "no enhancement providers configured", nil)

	ErrProviderUnavailable = NewDomainError(ErrorTypeExternal, "enhancement provider unavailable", nil)
)

// NewInsufficientCreditsError reports a user who cannot pay for an enhancement from their own balance
func NewInsufficientCreditsError(message string, balance, required int) *DomainError {
	return NewDomainError(ErrorTypeCredits, message, nil).
		WithDetail("code", CodeInsufficientCredits).
		WithDetail("current_balance", balance).
		WithDetail("required", required)
}

// NewPlatformCreditsDepletedError reports an exhausted platform credit pool
func NewPlatformCreditsDepletedError(provider string, err error) *DomainError {
	return NewDomainError(ErrorTypeCredits, "Platform credits depleted. Please contact support.", err).
		WithDetail("code", CodePlatformCreditsDepleted).
		WithDetail("provider", provider)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsCreditsError checks if an error reports exhausted or insufficient credits
func IsCreditsError(err error) bool {
	return GetErrorType(err) == ErrorTypeCredits
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
