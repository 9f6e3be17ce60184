// Package errors provides the categorized error taxonomy used across the
// sync and categorization subsystem.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/household-ledger/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryCredential represents credential decryption or format failures
	CategoryCredential ErrorCategory = "credential"
	// CategoryAuthRequired represents provider credential/token rejections
	CategoryAuthRequired ErrorCategory = "auth_required"
	// CategoryProvider represents transient provider faults
	CategoryProvider ErrorCategory = "provider"
	// CategoryImport represents failures persisting or categorizing one transaction
	CategoryImport ErrorCategory = "import"
	// CategoryLock represents processing-lock conflicts
	CategoryLock ErrorCategory = "lock"
	// CategoryNotFound represents absent entities. Entities belonging to
	// another household also read as not found, so a response never
	// confirms they exist.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryValidation represents invalid caller input
	CategoryValidation ErrorCategory = "validation"
	// CategorySystem represents programming or environment faults
	CategorySystem ErrorCategory = "system"
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

// NewCredentialError creates a credential error. Fatal for the affected
// connection's sync attempt only; the batch continues.
func NewCredentialError(connectionID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCredential,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "CREDENTIAL_ERROR",
		Message:    fmt.Sprintf("failed to decrypt credentials for connection %s", connectionID),
		Cause:      cause,
		Details: map[string]interface{}{
			"connectionId": connectionID,
		},
	}
}

// NewAuthRequiredError creates an auth-required error. The affected
// connection is deactivated until the user re-authenticates.
func NewAuthRequiredError(connectionID, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthRequired,
		StatusCode: http.StatusUnauthorized,
		Code:       "AUTH_REQUIRED",
		Message:    message,
		Details: map[string]interface{}{
			"connectionId": connectionID,
		},
	}
}

// NewTransientProviderError creates a transient provider error. The
// connection stays active and is retried on the next cycle.
func NewTransientProviderError(providerTag string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_TRANSIENT",
		Message:    fmt.Sprintf("temporary provider error: %s", providerTag),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": providerTag,
		},
	}
}

// NewImportError creates an import error for a single transaction
func NewImportError(externalID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryImport,
		StatusCode: http.StatusInternalServerError,
		Code:       "IMPORT_ERROR",
		Message:    fmt.Sprintf("failed to import transaction %s", externalID),
		Cause:      cause,
		Details: map[string]interface{}{
			"externalId": externalID,
		},
	}
}

// NewLockConflictError creates a lock conflict error. Callers treat it as
// a skip, not a failure.
func NewLockConflictError(transactionID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryLock,
		StatusCode: http.StatusConflict,
		Code:       "LOCK_CONFLICT",
		Message:    fmt.Sprintf("transaction %s is already being processed", transactionID),
		Details: map[string]interface{}{
			"transactionId": transactionID,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewValidationError creates an invalid parameter error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
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

	return NewInternalError("unexpected error", err)
}

// IsAuthRequired reports whether an error indicates the connection needs
// interactive re-authentication
func IsAuthRequired(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryAuthRequired
}

// IsLockConflict reports whether an error is a processing-lock conflict
func IsLockConflict(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryLock
}

// IsNotFound reports whether an error is a not-found rejection
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// IsRetryable determines if an error is safe to retry on a later cycle
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryImport:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
