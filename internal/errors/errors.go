// Package errors provides structured error handling for ipscanner operations.
// It defines error codes, error types, and helpers for telling user-facing
// configuration failures apart from per-host network failures.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Network and scanning errors.
	CodeNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	CodeHostUnreachable    ErrorCode = "HOST_UNREACHABLE"
	CodePortClosed         ErrorCode = "PORT_CLOSED"
	CodeScanFailed         ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid      ErrorCode = "TARGET_INVALID"
	CodeScanInProgress     ErrorCode = "SCAN_IN_PROGRESS"
	CodePingerUnavailable  ErrorCode = "PINGER_UNAVAILABLE"

	// File system errors.
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission  ErrorCode = "FILE_PERMISSION"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"
)

// Short labels carried by user errors.
const (
	LabelInvalidAddress    = "invalid_address"
	LabelMixedFamilies     = "mixed_families"
	LabelInvalidPorts      = "invalid_ports"
	LabelPingerUnavailable = "pinger_unavailable"
	LabelScanInProgress    = "scan_in_progress"
	LabelUnknownFetcher    = "unknown_fetcher"
	LabelStartFailed       = "start_failed"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WrapScanError wraps an existing error as a scan error. Callers set Target
// when the failure concerns one host.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// UserError is a failure the caller can fix by changing its input: a bad
// address, a bad port list, a scan that is already running. It is reported
// with a short label instead of a stack of causes.
type UserError struct {
	Code    ErrorCode
	Label   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Label, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Label, e.Message)
}

// Unwrap returns the underlying error.
func (e *UserError) Unwrap() error {
	return e.Cause
}

// NewUserError creates a configuration-class user error.
func NewUserError(label, message string) *UserError {
	return &UserError{
		Code:    CodeConfiguration,
		Label:   label,
		Message: message,
	}
}

// WrapUserError wraps an existing error as a user error with the given code.
func WrapUserError(code ErrorCode, label, message string, err error) *UserError {
	return &UserError{
		Code:    code,
		Label:   label,
		Message: message,
		Cause:   err,
	}
}

// IsUserError reports whether err, or anything it wraps, is a *UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return stderrors.As(err, &ue)
}

// UserLabel returns the label of the first *UserError in the chain, or "".
func UserLabel(err error) string {
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue.Label
	}
	return ""
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
// The outermost coded error in the chain wins.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *ScanError:
			return e.Code
		case *ConfigError:
			return e.Code
		case *UserError:
			return e.Code
		}
		err = stderrors.Unwrap(err)
	}
	return CodeUnknown
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	code := GetCode(err)
	switch code {
	case CodePermission, CodeConfiguration, CodePingerUnavailable:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidAddress creates a user error for an address that does not parse.
func ErrInvalidAddress(addr string, err error) *UserError {
	return WrapUserError(CodeConfiguration, LabelInvalidAddress,
		fmt.Sprintf("malformed IP address %q", addr), err)
}

// ErrMixedFamilies creates a user error for a range whose ends differ in family.
func ErrMixedFamilies(start, end string) *UserError {
	return NewUserError(LabelMixedFamilies,
		fmt.Sprintf("%s and %s are not of the same address family", start, end))
}

// ErrInvalidPorts creates a user error for a malformed port specification.
func ErrInvalidPorts(spec string, err error) *UserError {
	return WrapUserError(CodeConfiguration, LabelInvalidPorts,
		fmt.Sprintf("invalid port specification %q", spec), err)
}

// ErrScanInProgress creates a user error for a start request while busy.
func ErrScanInProgress(state string) *UserError {
	return &UserError{
		Code:    CodeScanInProgress,
		Label:   LabelScanInProgress,
		Message: "previous scan is not finished (state " + state + ")",
	}
}

// ErrUnknownFetcher creates a user error for a fetcher name that is not registered.
func ErrUnknownFetcher(name string) *UserError {
	return NewUserError(LabelUnknownFetcher, fmt.Sprintf("unknown fetcher %q", name))
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
