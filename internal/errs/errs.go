// Package errs provides the unified error taxonomy for Quern's subsystems.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of failure, matching the taxonomy in spec §7.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeBusy             Code = "BUSY"
	CodeTimeout          Code = "TIMEOUT"
	CodeDegraded         Code = "DEGRADED"
	CodeToolMissing      Code = "TOOL_MISSING"
	CodeSubprocessFailed Code = "SUBPROCESS_FAILED"
	CodeInternal         Code = "INTERNAL"
)

// QuernError is the structured error type returned by every subsystem.
type QuernError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Tool       string                 `json:"tool,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *QuernError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *QuernError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair to the error's Details map.
func (e *QuernError) WithDetails(key string, value interface{}) *QuernError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithTool tags the error with the subprocess tool that produced it
// (simctl, idb, devicectl, mitm, wda, pool).
func (e *QuernError) WithTool(tool string) *QuernError {
	e.Tool = tool
	return e
}

func New(code Code, status int, message string) *QuernError {
	return &QuernError{Code: code, Message: message, HTTPStatus: status}
}

func Wrap(code Code, status int, message string, err error) *QuernError {
	return &QuernError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func Validation(message string) *QuernError {
	return New(CodeValidation, http.StatusBadRequest, message)
}

func MissingParameter(param string) *QuernError {
	return Validation("missing required parameter").WithDetails("parameter", param)
}

func Unauthenticated(message string) *QuernError {
	return New(CodeUnauthenticated, http.StatusUnauthorized, message)
}

func NotFound(resource, id string) *QuernError {
	return New(CodeNotFound, http.StatusNotFound, "resource not found").
		WithDetails("resource", resource).WithDetails("id", id)
}

func Conflict(message string) *QuernError {
	return New(CodeConflict, http.StatusConflict, message)
}

// Busy returns a 200-with-discriminator-style result for callers that
// distinguish "timed out" from "errored"; HTTPStatus is still set for
// endpoints that choose to surface it directly (resolve's wait_if_busy
// exhaustion maps this to 408 per spec §7).
func Busy(message string) *QuernError {
	return New(CodeBusy, http.StatusRequestTimeout, message)
}

func Timeout(message string) *QuernError {
	return New(CodeTimeout, http.StatusRequestTimeout, message)
}

func Degraded(message string) *QuernError {
	return New(CodeDegraded, http.StatusOK, message)
}

func ToolMissing(tool, hint string) *QuernError {
	return New(CodeToolMissing, http.StatusServiceUnavailable, "required tool is not installed: "+hint).WithTool(tool)
}

func SubprocessFailed(tool string, exitCode int, stderrPrefix string) *QuernError {
	return New(CodeSubprocessFailed, http.StatusInternalServerError, "subprocess exited non-zero").
		WithTool(tool).
		WithDetails("exit_code", exitCode).
		WithDetails("stderr", stderrPrefix)
}

func Internal(message string, err error) *QuernError {
	return Wrap(CodeInternal, http.StatusInternalServerError, message, err)
}

// As extracts a *QuernError from err, following the Unwrap chain.
func As(err error) (*QuernError, bool) {
	var qe *QuernError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// HTTPStatus returns the status code to send for err, defaulting to 500
// for errors that never went through this package.
func HTTPStatus(err error) int {
	if qe, ok := As(err); ok {
		return qe.HTTPStatus
	}
	return http.StatusInternalServerError
}
