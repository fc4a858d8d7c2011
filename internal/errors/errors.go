// Package errors provides standardized error codes for the devlink host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (listener, transport, storage, relay, command)
//   - error: The specific error type within that domain
//
// Codes are stable and appear in operator-facing logs and the monitor API.
// They are never written to a connected device.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Listener domain - debug service startup and lifecycle
	CodeListenerBindFailed     = "listener.bind_failed"     // Listen port could not be bound
	CodeListenerAlreadyRunning = "listener.already_running" // Start called on a running listener
	CodeListenerNotRunning     = "listener.not_running"     // Operation requires a running listener

	// Transport domain - per-session connection errors
	CodeTransportClosed = "transport.closed" // Peer went away (normal teardown)
	CodeTransportError  = "transport.error"  // Any other read/write failure

	// Storage domain - device store errors
	CodeStorageNotFound    = "storage.not_found"    // Device or property not found
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Command domain - slash command usage errors
	CodeCommandUnknown     = "command.unknown"      // No handler registered for the name
	CodeCommandInvalidArgs = "command.invalid_args" // Handler rejected its arguments

	// Relay domain - UDP control relay
	CodeRelayMalformed      = "relay.malformed"       // Datagram is not <Request:Name>(Argument)
	CodeRelayUnknownRequest = "relay.unknown_request" // No handler for the request name
	CodeRelayFailed         = "relay.failed"          // Handler returned an error

	// Config domain
	CodeConfigInvalid = "config.invalid" // Config value out of range

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// Severity tells the hosting application how to treat an error.
type Severity int

const (
	// SeverityError is recoverable at the level it was reported.
	SeverityError Severity = iota
	// SeverityFatal stops the reporting subsystem (but not the process).
	SeverityFatal
)

// String returns the marker printed in operator logs.
func (s Severity) String() string {
	if s == SeverityFatal {
		return "FATAL"
	}
	return "ERROR"
}

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code     string   // Stable error code (e.g., "listener.bind_failed")
	Message  string   // Human-readable error message
	Cause    error    // Underlying error (may be nil)
	Severity Severity // SeverityError unless set by a constructor
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// IsFatal reports whether err (or anything it wraps) is a fatal CodedError.
func IsFatal(err error) bool {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Severity == SeverityFatal
	}
	return false
}

// Common error constructors for frequently used error types.

// BindFailed creates a fatal "listener.bind_failed" error.
// The debug service does not enter its accept loop after this.
func BindFailed(addr string, cause error) *CodedError {
	e := Wrap(CodeListenerBindFailed, fmt.Sprintf("failed to listen on %s", addr), cause)
	e.Severity = SeverityFatal
	return e
}

// AlreadyRunning creates a "listener.already_running" error.
func AlreadyRunning(addr string) *CodedError {
	return New(CodeListenerAlreadyRunning, fmt.Sprintf("debug service already listening on %s", addr))
}

// NotRunning creates a "listener.not_running" error.
func NotRunning() *CodedError {
	return New(CodeListenerNotRunning, "debug service is not running")
}

// TransportError creates a "transport.error" error for a session read or write.
func TransportError(ip string, cause error) *CodedError {
	return Wrap(CodeTransportError, fmt.Sprintf("transport error for %s", ip), cause)
}

// NotFound creates a "storage.not_found" error.
func NotFound(resource string) *CodedError {
	return New(CodeStorageNotFound, fmt.Sprintf("%s not found", resource))
}

// UnknownCommand creates a "command.unknown" error.
func UnknownCommand(name string) *CodedError {
	return New(CodeCommandUnknown, fmt.Sprintf("Unknown command: %s", name))
}

// InvalidArgs creates a "command.invalid_args" error carrying the usage line.
func InvalidArgs(usage string) *CodedError {
	return New(CodeCommandInvalidArgs, fmt.Sprintf("Usage: %s", usage))
}

// RelayMalformed creates a "relay.malformed" error.
func RelayMalformed(payload string) *CodedError {
	return New(CodeRelayMalformed, fmt.Sprintf("malformed relay request %q", payload))
}

// RelayUnknownRequest creates a "relay.unknown_request" error.
func RelayUnknownRequest(name string) *CodedError {
	return New(CodeRelayUnknownRequest, fmt.Sprintf("unknown relay request %q", name))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
