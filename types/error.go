package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Workflow error codes
const (
	ErrUnknownWorkflowType ErrorCode = "UNKNOWN_WORKFLOW_TYPE"
	ErrStageExecution      ErrorCode = "STAGE_EXECUTION"
	ErrStageTimeout        ErrorCode = "STAGE_TIMEOUT"
	ErrWorkflowTimeout     ErrorCode = "WORKFLOW_TIMEOUT"
	ErrIterationLimit      ErrorCode = "ITERATION_LIMIT"
	ErrEngineUnavailable   ErrorCode = "ENGINE_UNAVAILABLE"
	ErrInvalidGraph        ErrorCode = "INVALID_GRAPH"
	ErrRunNotResumable     ErrorCode = "RUN_NOT_RESUMABLE"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Checkpoint error codes
const (
	ErrCheckpointWrite    ErrorCode = "CHECKPOINT_WRITE"
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStage records the stage the error originated from.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error anywhere in the chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
