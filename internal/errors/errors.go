// Package errors provides the categorized error taxonomy for the wallet
// analytics pipeline.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/GoofyComponent/GoofyChain/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryExplorer represents block-explorer provider errors
	CategoryExplorer ErrorCategory = "explorer"
	// CategoryPricing represents price-service provider errors
	CategoryPricing ErrorCategory = "pricing"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
)

// Stable error codes surfaced to callers.
const (
	CodeFetchFailed         = "FETCH_FAILED"
	CodePriceUnavailable    = "PRICE_UNAVAILABLE"
	CodePersistenceConflict = "PERSISTENCE_CONFLICT"
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeNotFound            = "NOT_FOUND"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewFetchFailedError wraps a ledger fetch failure. The whole fetch is
// aborted on any page error, so no partial ledger ever reaches the caller.
func NewFetchFailedError(address string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryExplorer,
		StatusCode: http.StatusBadGateway,
		Code:       CodeFetchFailed,
		Message:    fmt.Sprintf("failed to fetch transaction history for %s", address),
		Cause:      cause,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewPriceUnavailableError wraps an exhausted historical price lookup.
// Price failures are fatal to the reconstruction, never skippable.
func NewPriceUnavailableError(dayUnix int64, currency string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPricing,
		StatusCode: http.StatusBadGateway,
		Code:       CodePriceUnavailable,
		Message:    fmt.Sprintf("historical price unavailable for day %d in %s", dayUnix, currency),
		Cause:      cause,
		Details: map[string]interface{}{
			"day":      dayUnix,
			"currency": currency,
		},
	}
}

// NewPersistenceConflictError wraps an unexpected duplicate-key violation
// during upsert. This indicates a logic bug in the match-by-hash step.
func NewPersistenceConflictError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodePersistenceConflict,
		Message:    fmt.Sprintf("unexpected persistence conflict during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err carries the given stable error code.
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable. Explorer and pricing
// failures have already exhausted their local retries by the time they are
// surfaced, so only database and transient system errors remain retryable
// at the caller level.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
