// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the pgsession library.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrSessionClosed  = fmt.Errorf("session is closed")
	ErrConnectTimeout = fmt.Errorf("connect timeout")
	ErrNotSupported   = fmt.Errorf("operation not supported")
)

// ErrorCode classifies error conditions per the session error taxonomy.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeTransport covers connection reset, closed, and I/O failures.
	// Fatal: the session transitions to Terminated.
	ErrCodeTransport
	// ErrCodeProtocol covers malformed frames and unexpected messages.
	ErrCodeProtocol
	// ErrCodeServer is a server-reported error response, surfaced to the
	// waiting caller. Non-fatal unless the codec says otherwise.
	ErrCodeServer
	// ErrCodeUsage is a caller mistake (unknown handle, bad argument).
	// Returned synchronously, never mutates session state.
	ErrCodeUsage
	ErrCodeNotSupported
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code     ErrorCode
	Message  string
	Severity string // server-reported severity, e.g. "ERROR", "FATAL"
	SQLState string // server-reported SQLSTATE code, e.g. "42P01"
	Context  map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.SQLState != "":
		return fmt.Sprintf("%s: %s (%s)", e.Severity, e.Message, e.SQLState)
	case len(e.Context) > 0:
		return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
	default:
		return e.Message
	}
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new structured error from a format string.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the error terminates the session.
func (e *Error) Fatal() bool {
	return e.Code == ErrCodeTransport || e.Code == ErrCodeProtocol
}
