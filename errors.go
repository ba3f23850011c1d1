// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError is returned when a call cannot be issued because the
// client or the call itself is incompletely specified. It is always returned
// before any network activity and is never retried.
type ConfigurationError struct {
	// Field names the missing or invalid setting (e.g. "method", "username")
	Field string

	// Human-readable error message
	Message string

	// Err is one of the Err* sentinels below, when one applies
	Err error
}

// Sentinels wrapped by ConfigurationError, for use with errors.Is
var (
	ErrMethodNameRequired = errors.New("method name required")
	ErrMissingIdentity    = errors.New("missing identity")
	ErrMissingSecret      = errors.New("missing secret")
	ErrMissingServer      = errors.New("missing server")
)

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "mygeotab: configuration error: " + e.Message
	}
	return fmt.Sprintf("mygeotab: configuration error (%s): %s", e.Field, e.Message)
}

// Unwrap returns the sentinel error, if any
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ErrorModel is a single entry of the server's error.errors array
type ErrorModel struct {
	// Name is the server-side exception name (e.g. "InvalidUserException")
	Name string

	// Message is the error message
	Message string

	// StackTrace is the server stack trace, when the server sends one
	StackTrace string

	// Data contains additional error information, when present
	Data any
}

// ServerError represents an error envelope returned by the API server
//
// The primary error is always taken from the first entry of error.errors;
// the full list is kept in Errors.
type ServerError struct {
	// Name of the primary error (errors[0].name)
	Name string

	// Message of the primary error (errors[0].message)
	Message string

	// StackTrace of the primary error, if any
	StackTrace string

	// Data of the primary error, if any
	Data any

	// Errors holds every entry of error.errors in server order
	Errors []ErrorModel

	// JSONRPCName and JSONRPCMessage are the outer error.name / error.message
	JSONRPCName    string
	JSONRPCMessage string
}

// Error implements the error interface
func (e *ServerError) Error() string {
	msg := e.Name + "\n" + e.Message
	if e.StackTrace != "" {
		msg += "\n\nStacktrace:\n" + e.StackTrace
	}
	return msg
}

// IsStaleSession reports whether the error means the session can no longer
// be used and a fresh authentication may help
func (e *ServerError) IsStaleSession() bool {
	for _, pattern := range StaleSessionErrors {
		if pattern.matches(e) {
			return true
		}
	}
	return false
}

// StaleSessionError defines a pattern for detecting session-invalidity errors
type StaleSessionError struct {
	// Name is the server exception name to match
	Name string

	// MessageContains, when set, must also appear in the error message
	MessageContains string
}

func (p StaleSessionError) matches(e *ServerError) bool {
	if e == nil || e.Name != p.Name {
		return false
	}
	return p.MessageContains == "" || strings.Contains(e.Message, p.MessageContains)
}

// StaleSessionErrors lists the server errors that trigger the one-shot
// re-authentication of a call. During Authenticate the same errors are
// reported as AuthenticationError.
var StaleSessionErrors = []StaleSessionError{
	// Session expired, revoked or the user is unknown
	{Name: "InvalidUserException"},

	// Database not ready yet
	{Name: "DbUnavailableException", MessageContains: "Initializing"},

	// Database not known on this server (usually a stale redirect)
	{Name: "DbUnavailableException", MessageContains: "UnknownDatabase"},
}

// AuthenticationError is returned when authentication failed, either on the
// initial login or on the one-shot re-authentication after a stale session.
// It is terminal and never retried.
type AuthenticationError struct {
	Username string
	Database string
	Server   string

	// Err is the underlying cause (usually a *ServerError)
	Err error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("mygeotab: cannot authenticate '%s @ %s/%s'", e.Username, e.Server, e.Database)
}

// Unwrap returns the underlying cause
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the server did not answer within the call
// timeout. The call is not retried.
type TimeoutError struct {
	// Server is the host the request was sent to
	Server string

	Err error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return "mygeotab: request timed out @ " + e.Server
}

// Unwrap returns the underlying cause
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// StatusError is returned when the HTTP exchange completed with a non-2xx status
type StatusError struct {
	Server     string
	StatusCode int
	Status     string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("mygeotab: unexpected HTTP status from %s: %s", e.Server, e.Status)
}

// isStaleSession reports whether err wraps a stale-session ServerError
func isStaleSession(err error) (*ServerError, bool) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.IsStaleSession() {
		return serverErr, true
	}
	return nil, false
}
