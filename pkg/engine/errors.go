package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for propagation and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassParse indicates malformed file content. File-scoped: the
	// whole file is rejected.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassValidation indicates a well-formed descriptor with an
	// invalid or missing required attribute. Resource-scoped.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates an optimistic-version mismatch or a
	// concurrent modification. Recoverable by re-fetching and retrying.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassStore indicates an underlying resource-store operation
	// failed. Recorded per item during apply, never aborting the batch.
	ErrorClassStore ErrorClass = "store"

	// ErrorClassPermanent indicates a non-recoverable error such as an
	// unknown resource type or invalid argument.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes for programmatic handling.
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyExists   = "ALREADY_EXISTS"
	ErrCodeVersionMismatch = "VERSION_MISMATCH"
	ErrCodeDuplicateKey    = "DUPLICATE_KEY"
	ErrCodeApplyInFlight   = "APPLY_IN_FLIGHT"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeValidation      = "VALIDATION"
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

	// Resource is the natural key that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewParseError creates a new file-scoped parse error.
func NewParseError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassParse, Message: message, Err: err}
}

// NewValidationError creates a new resource-scoped validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewStoreError creates a new store error.
func NewStoreError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassStore, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource attaches the offending natural key.
func (e *EngineError) WithResource(naturalKey string) *EngineError {
	e.Resource = naturalKey
	return e
}

// WithOperation attaches the operation being performed.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode attaches an error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Class, true
	}
	return "", false
}

// IsParse returns true if the error is a parse error.
func IsParse(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassParse
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsConflict returns true if the error is a conflict error.
func IsConflict(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConflict
}

// IsStore returns true if the error is a store error.
func IsStore(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassStore
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeNotFound
	}
	return false
}

// IsRetryable returns true if re-fetching state and retrying may succeed.
func IsRetryable(err error) bool {
	return IsConflict(err)
}
