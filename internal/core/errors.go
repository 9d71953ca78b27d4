package core

import (
	"errors"
	"fmt"
)

// Failure codes. These are stable and returned to API clients.
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeValidationBlocked = "VALIDATION_BLOCKED"
	CodeTooManyRows       = "TOO_MANY_ROWS"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeParse             = "PARSE_ERROR"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeJobNotCancellable = "JOB_NOT_CANCELLABLE"
	CodeUnknownModule     = "UNKNOWN_MODULE"
	CodeBusy              = "SERVER_BUSY"
)

// Error is a structural failure of an import operation.
// Validation problems are never reported as Error; they are data.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, core.ErrSessionNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func newError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrSessionNotFound   = &Error{Code: CodeSessionNotFound, Message: "session not found or expired"}
	ErrJobNotFound       = &Error{Code: CodeJobNotFound, Message: "job not found"}
	ErrValidationBlocked = &Error{Code: CodeValidationBlocked, Message: "cannot proceed with import due to validation errors"}
	ErrTooManyRows       = &Error{Code: CodeTooManyRows, Message: "too many rows"}
	ErrFileTooLarge      = &Error{Code: CodeFileTooLarge, Message: "file too large"}
	ErrParse             = &Error{Code: CodeParse, Message: "file could not be parsed"}
	ErrUnsupportedFormat = &Error{Code: CodeUnsupportedFormat, Message: "unsupported format"}
	ErrJobNotCancellable = &Error{Code: CodeJobNotCancellable, Message: "job cannot be cancelled"}
	ErrUnknownModule     = &Error{Code: CodeUnknownModule, Message: "unknown module"}
	ErrBusy              = &Error{Code: CodeBusy, Message: "too many concurrent validations, please try again later"}
)

// ErrorCode returns the failure code carried by err, or "" if none.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
