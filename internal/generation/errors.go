package generation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies engine errors so every surfaced error carries its
// retryability. The UI offers a retry affordance without re-deriving this.
type ErrorKind string

const (
	// KindTransient is a provider fault worth retrying (rate limits,
	// 5xx-style internal errors).
	KindTransient ErrorKind = "transient"
	// KindValidation is caller input rejected before any collaborator call.
	KindValidation ErrorKind = "validation"
	// KindBatch is a parallel generation batch that produced zero usable
	// candidates. Per-task retries already ran; the batch is not retried.
	KindBatch ErrorKind = "batch"
	// KindContinuity is an expected seed frame or reference that is missing.
	KindContinuity ErrorKind = "continuity"
	// KindExternal is a collaborator fault that is terminal on first
	// occurrence (auth, malformed response, poll timeout).
	KindExternal ErrorKind = "external"
)

// Error is the engine's taxonomy error.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the UI should offer a retry for this error.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: kind.describe(), Err: err}
}

func (k ErrorKind) describe() string {
	switch k {
	case KindTransient:
		return "transient provider error"
	case KindValidation:
		return "invalid request"
	case KindBatch:
		return "generation batch failed"
	case KindContinuity:
		return "continuity break"
	default:
		return "external collaborator error"
	}
}

// ProviderError is a non-2xx response from the generation provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limiting (429) and server errors (5xx).
// Other client errors (4xx) are permanent.
func (e *ProviderError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable walks the error chain and reports retryability.
func IsRetryable(err error) bool {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Retryable()
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}
	return false
}

// Kind returns the taxonomy kind of err, or KindExternal when untagged.
func Kind(err error) ErrorKind {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		if provErr.IsRetryable() {
			return KindTransient
		}
		return KindExternal
	}
	return KindExternal
}

// transientSignatures are failure-message fragments known to indicate a
// transient provider fault. Matching is case-insensitive.
var transientSignatures = []string{
	"rate limit",
	"too many requests",
	"throttl",
	"429",
	"internal server error",
	"internal error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporarily unavailable",
	"overloaded",
	"capacity",
	"resource exhausted",
	"resource_exhausted",
	"deadline_exceeded",
	"upstream connect error",
	"please try again",
	"connection reset",
}

// IsTransientMessage reports whether a provider failure detail matches a
// known transient signature. Anything else (validation, auth, content
// policy) is terminal on first occurrence.
func IsTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range transientSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// classifyFailure turns a failed prediction detail into a taxonomy kind.
func classifyFailure(msg string) ErrorKind {
	if IsTransientMessage(msg) {
		return KindTransient
	}
	return KindExternal
}
