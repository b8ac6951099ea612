// Package errors provides structured error types for the luam registry.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across CLI and API
//   - Machine-readable error codes for programmatic handling
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Resolution failures map onto a fixed taxonomy:
//   - PACKAGE_NOT_FOUND, VERSION_NOT_FOUND: the registry has no such package or release
//   - MALFORMED_RANGE: a declared or requested range does not parse as semver
//   - UNSATISFIABLE_DEPENDENCY: no preinstalled, resolved or published version matches an edge
//   - CYCLIC_DEPENDENCY: the resolved graph contains a cycle
//   - STORAGE_UNAVAILABLE: a store kept failing after retries were exhausted
//   - REQUEST_MALFORMED: required request fields are missing or unsafe
//
// # Usage
//
//	err := errors.New(errors.ErrCodePackageNotFound, "package %s not found", name)
//	if errors.Is(err, errors.ErrCodePackageNotFound) {
//	    // Handle missing package
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeStorageUnavailable, origErr, "fetch %s@%s", name, v)
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input errors
	ErrCodeRequestMalformed Code = "REQUEST_MALFORMED"
	ErrCodeMalformedRange   Code = "MALFORMED_RANGE"

	// Resolution errors
	ErrCodePackageNotFound         Code = "PACKAGE_NOT_FOUND"
	ErrCodeVersionNotFound         Code = "VERSION_NOT_FOUND"
	ErrCodeUnsatisfiableDependency Code = "UNSATISFIABLE_DEPENDENCY"
	ErrCodeCyclicDependency        Code = "CYCLIC_DEPENDENCY"

	// Storage errors
	ErrCodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	ErrCodeTimeout            Code = "TIMEOUT"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
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

// Is reports whether err has the given error code.
// Only the outermost *Error in the chain is consulted, so a re-coded
// error is classified by its newest code.
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

// UnsatisfiableError describes a dependency edge that nothing could satisfy.
type UnsatisfiableError struct {
	Dependent string // name@version declaring the edge; empty for the root request
	Name      string
	Range     string
}

func (e *UnsatisfiableError) Error() string {
	if e.Dependent == "" {
		return fmt.Sprintf("no version of %s satisfies %q", e.Name, e.Range)
	}
	return fmt.Sprintf("%s requires %s %q but no version satisfies it", e.Dependent, e.Name, e.Range)
}

// Unsatisfiable builds an UNSATISFIABLE_DEPENDENCY error for the given edge.
func Unsatisfiable(dependent, name, rng string) *Error {
	cause := &UnsatisfiableError{Dependent: dependent, Name: name, Range: rng}
	return Wrap(ErrCodeUnsatisfiableDependency, cause, "unsatisfiable dependency %s %s", name, rng)
}

// CycleError carries the dependency path that closes a cycle. The first and
// last elements are the same name@version.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Cyclic builds a CYCLIC_DEPENDENCY error for the given path.
func Cyclic(path []string) *Error {
	return Wrap(ErrCodeCyclicDependency, &CycleError{Path: path}, "cyclic dependency")
}
