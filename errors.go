package chfdw

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error. Configuration errors are user facing;
// internal errors are invariant violations and abort the current operation.
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeCatalog       ErrorType = "catalog"
)

// Error codes
const (
	ErrCodeInvalidEngineOption = "INVALID_ENGINE_OPTION"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
	ErrCodeCatalogLookupFailed = "CATALOG_LOOKUP_FAILED"
	ErrCodeCatalogQueryFailed  = "CATALOG_QUERY_FAILED"
	ErrCodeCacheCorrupted      = "CACHE_CORRUPTED"
	ErrCodeRelationNotFound    = "RELATION_NOT_FOUND"
	ErrCodeSnapshotFailed      = "SNAPSHOT_FAILED"
)

// ErrNotFound is returned (wrapped) by Catalog implementations when an object does not exist.
var ErrNotFound = errors.New("catalog object not found")

// FDWError is the error type returned by the metadata resolver.
type FDWError struct {
	Type     ErrorType      `json:"type"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Relation Oid            `json:"relation,omitempty"`
	Field    string         `json:"field,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FDWError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Relation != InvalidOid {
		return fmt.Sprintf("[%s:%s] relation %d: %s", e.Type, e.Code, e.Relation, msg)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] option '%s': %s", e.Type, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *FDWError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to the error
func (e *FDWError) WithDetail(key string, value any) *FDWError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *FDWError) WithCause(cause error) *FDWError {
	e.Cause = cause
	return e
}

// WithRelation attaches the relation the error is about
func (e *FDWError) WithRelation(relID Oid) *FDWError {
	e.Relation = relID
	return e
}

// WithField attaches the option key the error is about
func (e *FDWError) WithField(field string) *FDWError {
	e.Field = field
	return e
}

// NewFDWError creates a new error
func NewFDWError(errorType ErrorType, code, message string) *FDWError {
	return &FDWError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewConfigurationError creates an error for a malformed option or setting.
func NewConfigurationError(code, field, message string) *FDWError {
	return &FDWError{
		Type:    ErrorTypeConfiguration,
		Code:    code,
		Message: message,
		Field:   field,
	}
}

// NewInternalError creates an invariant violation error.
func NewInternalError(code, message string, cause error) *FDWError {
	return &FDWError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewCatalogError wraps a failed catalog read.
func NewCatalogError(message string, cause error) *FDWError {
	return &FDWError{
		Type:    ErrorTypeCatalog,
		Code:    ErrCodeCatalogQueryFailed,
		Message: message,
		Cause:   cause,
	}
}

// IsConfigurationError reports whether err is a user-facing configuration error.
func IsConfigurationError(err error) bool {
	return hasErrorType(err, ErrorTypeConfiguration)
}

// IsInvariantViolation reports whether err signals corrupted state or an impossible catalog answer.
func IsInvariantViolation(err error) bool {
	return hasErrorType(err, ErrorTypeInternal)
}

// ErrorCode returns the code of the outermost FDWError in err's chain, or "".
func ErrorCode(err error) string {
	var fe *FDWError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func hasErrorType(err error, t ErrorType) bool {
	var fe *FDWError
	if errors.As(err, &fe) {
		return fe.Type == t
	}
	return false
}
