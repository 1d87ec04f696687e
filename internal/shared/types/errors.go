package types

import (
	"errors"
	"fmt"
)

// ErrorCode is one of the closed set of failure kinds reported to controllers
type ErrorCode string

const (
	CodeMissingParams   ErrorCode = "MISSING_PARAMS"
	CodeTabNotFound     ErrorCode = "TAB_NOT_FOUND"
	CodeInjectionError  ErrorCode = "INJECTION_ERROR"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeLinkUnavailable ErrorCode = "LINK_UNAVAILABLE"
	CodeExecutionError  ErrorCode = "EXECUTION_ERROR"
)

// ErrorPayload is the wire shape of an error
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// CommandError is a failure that is reported to the controller verbatim
type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another CommandError with the same code
func (e *CommandError) Is(target error) bool {
	var other *CommandError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewCommandError creates a CommandError with a formatted message
func NewCommandError(code ErrorCode, format string, args ...interface{}) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromPayload converts a wire error back into a CommandError.
// A missing code is reported as a generic execution failure.
func FromPayload(p *ErrorPayload) *CommandError {
	if p == nil {
		return nil
	}
	code := p.Code
	if code == "" {
		code = CodeExecutionError
	}
	return &CommandError{Code: code, Message: p.Message}
}

// AsCommandError extracts the CommandError in err's chain, or wraps err as an
// execution error.
func AsCommandError(err error) *CommandError {
	if err == nil {
		return nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce
	}
	return &CommandError{Code: CodeExecutionError, Message: err.Error()}
}

// CodeOf returns the error code carried by err, or "" when err is nil
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsCommandError(err).Code
}
