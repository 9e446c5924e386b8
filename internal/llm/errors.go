package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnavailable is returned when every credential failed or none is
// configured. Callers fall back to their deterministic path.
var ErrUnavailable = errors.New("generation backend unavailable")

// ErrorKind classifies backend errors for failover decisions.
type ErrorKind int

const (
	KindRetryable  ErrorKind = iota // transient 5xx or network
	KindRateLimit                   // 429, try another credential
	KindAuth                        // 401/403, credential is bad
	KindBilling                     // quota exhausted on this credential
	KindOverloaded                  // provider at capacity
	KindTimeout                     // attempt exceeded its deadline
	KindBadRequest                  // request itself is wrong, do not fail over
	KindCanceled                    // caller gave up
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindBilling:
		return "billing"
	case KindOverloaded:
		return "overloaded"
	case KindTimeout:
		return "timeout"
	case KindBadRequest:
		return "bad_request"
	case KindCanceled:
		return "canceled"
	default:
		return "retryable"
	}
}

// failover reports whether trying another credential can help.
func (k ErrorKind) failover() bool {
	return k != KindBadRequest && k != KindCanceled
}

// cooldown reports whether the credential should rest before reuse.
func (k ErrorKind) cooldown() bool {
	return k == KindRateLimit || k == KindBilling || k == KindAuth
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Classify maps an error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, apiErr.Message)
	}
	return classifyStatus(0, err.Error())
}

func classifyStatus(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if statusCode == http.StatusPaymentRequired ||
		strings.Contains(bodyLower, "insufficient_quota") ||
		strings.Contains(bodyLower, "billing") {
		return KindBilling
	}
	if statusCode == http.StatusTooManyRequests ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return KindRateLimit
	}
	if statusCode == 529 ||
		strings.Contains(bodyLower, "overloaded") ||
		strings.Contains(bodyLower, "capacity") {
		return KindOverloaded
	}
	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return KindTimeout
	}

	switch statusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusNotFound:
		return KindBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	}
	return KindRetryable
}
