package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionError indicates the provider could not be reached: DNS
// failures, refused connections, TLS problems, request timeouts.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("llm connection error (%s): %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Code() string { return "llm_connection" }

func (e *ConnectionError) Details() map[string]any {
	return map[string]any{"provider": e.Provider}
}

// RateLimitError indicates the provider rejected the request for quota
// reasons. RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm rate limited (%s), retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("llm rate limited (%s): %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Code() string { return "llm_rate_limit" }

func (e *RateLimitError) Details() map[string]any {
	return map[string]any{"provider": e.Provider, "retry_after": e.RetryAfter.String()}
}

// ContextOverflowError indicates the request exceeded the model's
// context window. Retrying on another provider will not help; the
// caller must shrink the prompt.
type ContextOverflowError struct {
	Provider string
	Used     int
	Limit    int
}

func (e *ContextOverflowError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("llm context overflow (%s): %d tokens exceeds limit %d", e.Provider, e.Used, e.Limit)
	}
	return fmt.Sprintf("llm context overflow (%s)", e.Provider)
}

func (e *ContextOverflowError) Code() string { return "llm_context_overflow" }

func (e *ContextOverflowError) Details() map[string]any {
	return map[string]any{"provider": e.Provider, "used": e.Used, "limit": e.Limit}
}

// ResponseError indicates the provider answered but the answer was
// unusable: malformed payload, empty completion, server-side error.
type ResponseError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("llm response error (%s): %s", e.Provider, e.Message)
}

func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) Code() string { return "llm_response" }

func (e *ResponseError) Details() map[string]any {
	return map[string]any{"provider": e.Provider}
}

// AllProvidersFailedError is returned when the primary and every
// fallback provider failed. Providers preserves the attempt order and
// Errors the per-provider failure.
type AllProvidersFailedError struct {
	Providers []string
	Errors    map[string]error
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Providers))
	for _, name := range e.Providers {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Errors[name]))
	}
	return fmt.Sprintf("all llm providers failed [%s]", strings.Join(parts, "; "))
}

func (e *AllProvidersFailedError) Code() string { return "llm_all_failed" }

func (e *AllProvidersFailedError) Details() map[string]any {
	return map[string]any{"providers": e.Providers}
}

// IsContextOverflow reports whether err is (or wraps) a context
// overflow, the one provider failure failover must not mask.
func IsContextOverflow(err error) bool {
	var overflow *ContextOverflowError
	return errors.As(err, &overflow)
}

// IsRateLimit reports whether err is (or wraps) a rate-limit rejection.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// classifyError maps a raw SDK error onto the typed taxonomy used for
// failover decisions. Classification is by message inspection since the
// SDKs expose inconsistent error types.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isConnectionError(err):
		return &ConnectionError{Provider: provider, Err: err}
	case isRateLimitError(err):
		return &RateLimitError{Provider: provider, Err: err}
	case isContextOverflowError(err):
		return &ContextOverflowError{Provider: provider}
	default:
		return &ResponseError{Provider: provider, Message: err.Error(), Err: err}
	}
}

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"dial tcp",
		"tls handshake",
		"i/o timeout",
		"timeout awaiting",
		"client.timeout",
		"eof",
		"502", "503", "504",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "overloaded")
}

func isContextOverflowError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context window") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "too many tokens")
}
