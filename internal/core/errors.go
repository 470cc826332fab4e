package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input, path escape
	ErrCatNotFound   ErrorCategory = "not_found"  // Snapshot/manifest/document missing
	ErrCatDivergence ErrorCategory = "divergence" // Live content changed since baseline
	ErrCatRace       ErrorCategory = "race"       // Content changed during restore
	ErrCatQuota      ErrorCategory = "quota"      // Snapshot storage limit reached
	ErrCatSecret     ErrorCategory = "secret"     // Secret scanner matched content
	ErrCatLock       ErrorCategory = "lock"       // Lock acquisition failed/timed out
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrInvalidArgument creates a validation error.
func ErrInvalidArgument(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrDivergenceDetected reports that a document's live content no longer
// matches the hash recorded when the integration was applied. Recoverable
// by rerunning with force.
func ErrDivergenceDetected(document, wantHash, gotHash string) *DomainError {
	return &DomainError{
		Category:  ErrCatDivergence,
		Code:      CodeDivergenceDetected,
		Message:   fmt.Sprintf("document %s has diverged from recorded state", document),
		Retryable: false,
		Details: map[string]interface{}{
			"document":      document,
			"expected_hash": wantHash,
			"actual_hash":   gotHash,
		},
	}
}

// ErrRaceDetected reports a concurrent writer during the restore critical
// section. Never overridable by force.
func ErrRaceDetected(document string) *DomainError {
	return &DomainError{
		Category:  ErrCatRace,
		Code:      CodeRaceDetected,
		Message:   fmt.Sprintf("document %s changed during restore", document),
		Retryable: false,
		Details: map[string]interface{}{
			"document": document,
		},
	}
}

// ErrQuotaExceeded creates a quota error.
func ErrQuotaExceeded(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatQuota,
		Code:      CodeQuotaExceeded,
		Message:   message,
		Retryable: false,
	}
}

// ErrSecretDetected reports a secret scanner match. Fatal to the commit
// step only, not to snapshot creation.
func ErrSecretDetected(document, pattern string) *DomainError {
	return &DomainError{
		Category:  ErrCatSecret,
		Code:      CodeSecretDetected,
		Message:   fmt.Sprintf("potential secret detected in %s", document),
		Retryable: false,
		Details: map[string]interface{}{
			"document": document,
			"pattern":  pattern,
		},
	}
}

// ErrLockTimeout creates a lock timeout error.
func ErrLockTimeout(resource string) *DomainError {
	return &DomainError{
		Category:  ErrCatLock,
		Code:      CodeLockTimeout,
		Message:   fmt.Sprintf("timed out waiting for lock on %s", resource),
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeNotFound             = "NOT_FOUND"
	CodeDivergenceDetected   = "DIVERGENCE_DETECTED"
	CodeRaceDetected         = "RACE_DETECTED"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeSecretDetected       = "SECRET_DETECTED"
	CodeLockTimeout          = "LOCK_TIMEOUT"
	CodePathEscape           = "PATH_ESCAPE"
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeNoSnapshotAvailable  = "NO_SNAPSHOT_AVAILABLE"
	CodeManifestCorrupted    = "MANIFEST_CORRUPTED"
	CodeManifestInconsistent = "MANIFEST_INCONSISTENT"
	CodeSnapshotsDisabled    = "SNAPSHOTS_DISABLED"
)
