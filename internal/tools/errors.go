package tools

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError indicates a tool name with no registration.
type NotFoundError struct {
	Tool string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Tool)
}

func (e *NotFoundError) Code() string { return "tool_not_found" }

// ExecutionError wraps a failure raised inside a tool, including
// panics captured by the registry.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool execution failed (%s): %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Code() string { return "tool_execution" }

// TimeoutError indicates the tool exceeded its execution deadline.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
}

func (e *TimeoutError) Code() string { return "tool_timeout" }

// SecurityError indicates a request the tool layer refused to run.
type SecurityError struct {
	Tool   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("tool %s blocked: %s", e.Tool, e.Reason)
}

func (e *SecurityError) Code() string { return "tool_security" }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}
