// Package errors provides standardized error codes for the bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (transport, message, sync, storage)
//   - error: The specific error type within that domain
//
// Codes are stable and surface in logs, the stdio host's warning
// notifications and `umi doctor --json` output.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Transport domain - connection lifecycle and outbound writes
	CodeTransportDialFailed = "transport.dial_failed" // Could not reach the backend
	CodeTransportNotOpen    = "transport.not_open"    // No open connection to send on
	CodeTransportSendFailed = "transport.send_failed" // Frame could not be queued or written
	CodeTransportClosed     = "transport.closed"      // Connection dropped mid-session

	// Message domain - inbound payload handling
	CodeMessageParseFailed  = "message.parse_failed" // Frame is not valid JSON or has wrong field types
	CodeMessageUnrecognized = "message.unrecognized" // Frame shape matches no known payload
	CodeMessageMissingPath  = "message.missing_path" // Payload carries no file_path

	// Sync domain - outbound document sync and manual requests
	CodeSyncNoActiveDocument = "sync.no_active_document" // Manual request without an active editor
	CodeSyncThrottled        = "sync.throttled"          // Manual request rate exceeded

	// Storage domain - local feedback telemetry
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain
	CodeConfigInvalid  = "config.invalid"   // A field holds an unusable value
	CodeConfigNotFound = "config.not_found" // Explicit config path does not exist

	// Lifecycle domain
	CodeLifecycleTeardownFailed = "lifecycle.teardown_failed" // A deactivation step failed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "transport.not_open")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
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

// Common error constructors for frequently used error types.

// DialFailed creates a "transport.dial_failed" error.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeTransportDialFailed, fmt.Sprintf("cannot connect to %s", url), cause)
}

// NotOpen creates a "transport.not_open" error.
func NotOpen() *CodedError {
	return New(CodeTransportNotOpen, "not connected to the analysis backend")
}

// SendFailed creates a "transport.send_failed" error.
func SendFailed(reason string, cause error) *CodedError {
	return Wrap(CodeTransportSendFailed, reason, cause)
}

// ParseFailed creates a "message.parse_failed" error.
func ParseFailed(cause error) *CodedError {
	return Wrap(CodeMessageParseFailed, "inbound frame is not a valid payload", cause)
}

// Unrecognized creates a "message.unrecognized" error.
func Unrecognized(reason string) *CodedError {
	return New(CodeMessageUnrecognized, reason)
}

// MissingPath creates a "message.missing_path" error.
func MissingPath(kind string) *CodedError {
	return New(CodeMessageMissingPath, fmt.Sprintf("%s payload has no file_path", kind))
}

// NoActiveDocument creates a "sync.no_active_document" error.
func NoActiveDocument() *CodedError {
	return New(CodeSyncNoActiveDocument, "no active document to analyze")
}

// Throttled creates a "sync.throttled" error.
func Throttled() *CodedError {
	return New(CodeSyncThrottled, "suggestion requests are coming in too fast, try again shortly")
}

// InvalidConfig creates a "config.invalid" error.
func InvalidConfig(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}

// TeardownFailed creates a "lifecycle.teardown_failed" error.
func TeardownFailed(step string, cause error) *CodedError {
	return Wrap(CodeLifecycleTeardownFailed, fmt.Sprintf("%s failed during deactivation", step), cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

// nextActions maps user-facing failure codes to a concrete remediation step.
// Used by `umi doctor` and the stdio host's warning notifications.
var nextActions = map[string]string{
	CodeTransportDialFailed:  "Check that the analysis backend is running and backend_url points at it.",
	CodeTransportNotOpen:     "Wait for the connection to come back; the bridge reconnects automatically.",
	CodeTransportClosed:      "Wait for the connection to come back; the bridge reconnects automatically.",
	CodeSyncNoActiveDocument: "Open or focus a saved file, then request suggestions again.",
	CodeSyncThrottled:        "Wait a moment before requesting suggestions again.",
	CodeStorageOpenFailed:    "Check telemetry_db points at a writable location or set telemetry_enabled = false.",
	CodeConfigInvalid:        "Fix the reported field in ~/.umi/config.toml or the matching flag.",
	CodeConfigNotFound:       "Pass an existing file to --config or drop the flag to use defaults.",
}

// GetNextAction returns the remediation hint for a code, or "" when the
// code has none.
func GetNextAction(code string) string {
	return nextActions[code]
}
