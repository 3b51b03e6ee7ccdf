package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the short error code carried in the JSON error envelope.
type Code string

// Error codes.
const (
	CodeMissingTargetURL    Code = "MissingTargetUrl"
	CodeInvalidTargetURL    Code = "InvalidTargetUrl"
	CodeUpstreamTimeout     Code = "UpstreamTimeout"
	CodeUpstreamUnreachable Code = "UpstreamUnreachable"
	CodeStreamInterrupted   Code = "StreamInterrupted"
	CodeInternalError       Code = "InternalError"
)

// Status returns the HTTP status code reported for the error code.
// StreamInterrupted has no status of its own: headers are already committed.
func (c Code) Status() int {
	switch c {
	case CodeMissingTargetURL, CodeInvalidTargetURL:
		return http.StatusBadRequest
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified proxy failure.
type Error struct {
	Code    Code
	Details string // human-readable message, safe to return to the caller
	Cause   error
}

// NewError creates an Error.
func NewError(code Code, details string, cause error) *Error {
	return &Error{Code: code, Details: details, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Details, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Details)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	return e.Code.Status()
}

// Classify returns err as an *Error. Unclassified errors become InternalError.
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeInternalError, Details: "internal proxy error", Cause: err}
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}
