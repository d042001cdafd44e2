// Package errors provides structured error types for sysview.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components, and map onto the error
// types of the DynamoDB wire protocol.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by how they surface to callers.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryConflict   ErrorCategory = "CONFLICT"
	ErrCategoryAccess     ErrorCategory = "ACCESS"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeReservedNamespace    = "RESERVED_NAMESPACE"
	CodeInvalidTableName     = "INVALID_TABLE_NAME"
	CodeInvalidKeySchema     = "INVALID_KEY_SCHEMA"
	CodeInvalidCursor        = "INVALID_CURSOR"
	CodeInvalidKeyCondition  = "INVALID_KEY_CONDITION"
	CodeInvalidProjection    = "INVALID_PROJECTION"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeInvalidParameter     = "INVALID_PARAMETER"
	CodeUnknownOperation     = "UNKNOWN_OPERATION"
	CodeSerialization        = "SERIALIZATION"

	// Not-found codes
	CodeResourceNotFound = "RESOURCE_NOT_FOUND"

	// Conflict codes
	CodeTableExists = "TABLE_EXISTS"

	// Access codes
	CodeAccessDenied = "ACCESS_DENIED"

	// Catalog codes
	CodeCatalogReadFailed  = "CATALOG_READ_FAILED"
	CodeCatalogWriteFailed = "CATALOG_WRITE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DynamoDB error type names as they appear in the "__type" field.
const (
	AWSValidation       = "ValidationException"
	AWSNotFound         = "ResourceNotFoundException"
	AWSResourceInUse    = "ResourceInUseException"
	AWSAccessDenied     = "AccessDeniedException"
	AWSInternalError    = "InternalServerError"
	AWSUnknownOperation = "UnknownOperationException"
	AWSSerialization    = "SerializationException"
)

// SysviewError is the structured error type used throughout the system.
type SysviewError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SysviewError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SysviewError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SysviewError) Is(target error) bool {
	var t *SysviewError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SysviewError.
func New(category ErrorCategory, code, message string) *SysviewError {
	return &SysviewError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SysviewError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SysviewError {
	return &SysviewError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SysviewError) WithDetails(details map[string]interface{}) *SysviewError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SysviewError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SysviewError.
func GetCategory(err error) ErrorCategory {
	var se *SysviewError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SysviewError.
func GetCode(err error) string {
	var se *SysviewError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// AWSType maps an error chain onto the DynamoDB error type reported to clients.
// Errors that are not SysviewErrors are internal server errors.
func AWSType(err error) string {
	var se *SysviewError
	if !errors.As(err, &se) {
		return AWSInternalError
	}
	switch se.Category {
	case ErrCategoryValidation:
		switch se.Code {
		case CodeUnknownOperation:
			return AWSUnknownOperation
		case CodeSerialization:
			return AWSSerialization
		}
		return AWSValidation
	case ErrCategoryNotFound:
		return AWSNotFound
	case ErrCategoryConflict:
		return AWSResourceInUse
	case ErrCategoryAccess:
		return AWSAccessDenied
	default:
		return AWSInternalError
	}
}

// ClientMessage returns the message shown to API clients. Causes are never
// included so that internal details stay in the server log.
func ClientMessage(err error) string {
	var se *SysviewError
	if errors.As(err, &se) {
		return se.Message
	}
	return "internal server error"
}

// isRetryable determines if an error code is retryable.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryCatalog && code == CodeCatalogReadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SysviewError {
	return New(ErrCategoryValidation, code, message)
}

func NewNotFoundError(message string) *SysviewError {
	return New(ErrCategoryNotFound, CodeResourceNotFound, message)
}

func NewConflictError(code, message string) *SysviewError {
	return New(ErrCategoryConflict, code, message)
}

func NewAccessDeniedError(message string) *SysviewError {
	return New(ErrCategoryAccess, CodeAccessDenied, message)
}

func NewCatalogError(code, message string, cause error) *SysviewError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewInternalError(message string, cause error) *SysviewError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
