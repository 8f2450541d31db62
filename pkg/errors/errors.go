// Package errors provides structured error types for tikzserve.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the batch compiler and the render service
//   - Machine-readable error codes for programmatic handling (HTTP status mapping)
//   - Toolchain diagnostics carried alongside a short user-facing message
//
// # Error Codes
//
// Render failures are split by where they happened:
//   - COMPILE_FAILURE: the TeX compiler rejected the input
//   - CONVERSION_FAILURE: the post-compile converter (pdftocairo, pdf2svg, dvisvgm) failed
//   - TIMEOUT: the wall-clock render budget was exceeded
//   - UNKNOWN_FORMAT: the requested output format is not registered
//   - STORAGE_FAILURE: the cache directory could not be read or written
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnknownFormat, "unknown format %q", name)
//	if errors.Is(err, errors.ErrCodeUnknownFormat) {
//	    // Reject the request
//	}
//
//	// Attach compiler output
//	err := errors.WithDiagnostic(errors.ErrCodeCompile, diag, "pdflatex exited with %d", code)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeUnknownFormat Code = "UNKNOWN_FORMAT"

	// Toolchain errors
	ErrCodeCompile    Code = "COMPILE_FAILURE"
	ErrCodeConversion Code = "CONVERSION_FAILURE"
	ErrCodeTimeout    Code = "TIMEOUT"

	// Cache errors
	ErrCodeStorage Code = "STORAGE_FAILURE"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code       Code   // Machine-readable error code
	Message    string // Human-readable message
	Diagnostic string // Trimmed toolchain output, if any
	Cause      error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WithDiagnostic creates a new Error carrying toolchain diagnostic text.
func WithDiagnostic(code Code, diagnostic string, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Diagnostic: diagnostic,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Diagnostic returns the text a user needs to fix a failed render: the
// toolchain diagnostic when one was captured, the user message otherwise.
func Diagnostic(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Diagnostic != "" {
		return e.Diagnostic
	}
	return UserMessage(err)
}
