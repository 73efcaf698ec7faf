// Package errors provides structured error handling for auth flows.
package errors

// Domain is the error domain for VibeFunder errors.
const Domain = "github.com/jazzmind/vibefunder"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context for response shaping
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata for response shaping.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode returns the error code for err, or CodeUnknown when err carries none.
func GetCode(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if typed, ok := err.(*Error); ok {
		return typed.Code
	}
	return CodeUnknown
}

// GetMetadata returns the metadata map for err, or nil when err carries none.
func GetMetadata(err error) map[string]string {
	if typed, ok := err.(*Error); ok {
		return typed.Metadata
	}
	return nil
}
