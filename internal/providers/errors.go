package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed.
type FailureReason string

const (
	FailureRateLimit        FailureReason = "rate_limit"
	FailureAuth             FailureReason = "auth"
	FailureBilling          FailureReason = "billing"
	FailureTimeout          FailureReason = "timeout"
	FailureServerError      FailureReason = "server_error"
	FailureInvalidRequest   FailureReason = "invalid_request"
	FailureModelUnavailable FailureReason = "model_unavailable"
	FailureUnknown          FailureReason = "unknown"
)

// IsRetryable returns true if the failure reason suggests retrying may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a failed provider call. It keeps the original message
// and the HTTP status when one is known.
type ProviderError struct {
	Provider  string
	Model     string
	Status    int
	Reason    FailureReason
	Message   string
	RequestID string
	Cause     error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s:", e.Provider))
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the call may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Reason.IsRetryable()
}

// NewProviderError wraps cause, classifying it from its message.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailureUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies the error.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailureUnknown {
		e.Reason = reason
	}
	return e
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	return ClassifyError(err).IsRetryable()
}

// IsPermanent reports whether err is a provider error that retrying cannot
// fix, such as an auth failure or a malformed request. Errors that are not
// provider errors are never permanent.
func IsPermanent(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.Reason {
		case FailureAuth, FailureBilling, FailureInvalidRequest, FailureModelUnavailable:
			return true
		}
	}
	return false
}

// ClassifyError inspects an error message and returns a FailureReason.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "etimedout"):
		return FailureTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "resource exhausted", "429"):
		return FailureRateLimit
	case containsAny(msg, "unauthorized", "unauthenticated", "invalid api key", "invalid_api_key", "permission denied", "401", "403"):
		return FailureAuth
	case containsAny(msg, "billing", "insufficient_quota", "402"):
		return FailureBilling
	case containsAny(msg, "model not found", "model_not_found", "does not exist", "404"):
		return FailureModelUnavailable
	case containsAny(msg, "internal server", "server error", "overloaded", "unavailable", "500", "502", "503", "504"):
		return FailureServerError
	case containsAny(msg, "connection refused", "connection reset", "eof"):
		return FailureServerError
	default:
		return FailureUnknown
	}
}

func classifyStatusCode(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusPaymentRequired:
		return FailureBilling
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusRequestTimeout:
		return FailureTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailureInvalidRequest
	case status == http.StatusNotFound:
		return FailureModelUnavailable
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
