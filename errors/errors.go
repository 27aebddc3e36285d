// Package errors provides domain-specific error types and error handling utilities
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific error type
type ErrorCode int

const (
	// Common error codes
	ErrUnknown ErrorCode = iota
	ErrNotFound
	ErrInvalidInput
	ErrConfiguration
	ErrConnection
	ErrTimeout

	// Identity and transport error codes
	ErrCredential
	ErrExecution
	ErrDecode
	ErrAuthentication
	ErrProtocolDecode

	// Driver error codes
	ErrUnsupported
	ErrFirmwareUpdate
)

var codeNames = map[ErrorCode]string{
	ErrUnknown:        "unknown",
	ErrNotFound:       "not found",
	ErrInvalidInput:   "invalid input",
	ErrConfiguration:  "configuration",
	ErrConnection:     "connection",
	ErrTimeout:        "timeout exceeded",
	ErrCredential:     "credential",
	ErrExecution:      "execution",
	ErrDecode:         "decode",
	ErrAuthentication: "authentication",
	ErrProtocolDecode: "protocol decode",
	ErrUnsupported:    "unsupported operation",
	ErrFirmwareUpdate: "firmware update",
}

// String returns a short human-readable name for the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a domain-specific error with context
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message provides human-readable error details
	Message string

	// Op describes the operation that failed
	Op string

	// Cause is the underlying error that triggered this one
	Cause error

	// Context holds additional error context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements the errors.Is interface
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithOp adds an operation name to the error
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:  GetCode(err),
			Op:    op,
			Cause: err,
		}
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      op,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext adds context to the error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:    GetCode(err),
			Cause:   err,
			Context: context,
		}
	}

	newContext := make(map[string]interface{}, len(e.Context)+len(context))
	for k, v := range e.Context {
		newContext[k] = v
	}
	for k, v := range context {
		newContext[k] = v
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      e.Op,
		Cause:   e.Cause,
		Context: newContext,
	}
}

// New creates a new Error
func New(code ErrorCode, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Unsupported reports a verb that the given vendor driver does not implement.
func Unsupported(verb, vendor string) error {
	return &Error{
		Code:    ErrUnsupported,
		Message: fmt.Sprintf("%s is not supported by the %s driver", verb, vendor),
		Op:      verb,
		Context: map[string]interface{}{"vendor": vendor},
	}
}

// GetCode returns the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// GetContext returns the error context
func GetContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// Is reports whether any error in err's chain carries the given code
func Is(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

// IsNotFound returns true if the error is a not found error
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}

// IsTimeout returns true if the error is a timeout error
func IsTimeout(err error) bool {
	return Is(err, ErrTimeout)
}

// IsUnsupported returns true if the driver does not implement the verb
func IsUnsupported(err error) bool {
	return Is(err, ErrUnsupported)
}

// IsCredential returns true if the target identity could not be resolved
func IsCredential(err error) bool {
	return Is(err, ErrCredential)
}

// IsAuthentication returns true if a vendor session could not be established
func IsAuthentication(err error) bool {
	return Is(err, ErrAuthentication)
}

// IsFatal returns true for errors that must stop processing of the current
// target: lost identity, lost authentication or an aborted firmware run.
func IsFatal(err error) bool {
	code := GetCode(err)
	return code == ErrCredential ||
		code == ErrAuthentication ||
		code == ErrFirmwareUpdate ||
		code == ErrTimeout
}
