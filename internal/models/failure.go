package models

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why an external call or a job failed. Every error
// that crosses a client boundary is mapped onto exactly one kind; callers
// branch on the kind, never on error strings.
type FailureKind string

const (
	FailureNotFound         FailureKind = "not_found"
	FailureAuth             FailureKind = "auth_failure"
	FailureRateLimited      FailureKind = "rate_limited"
	FailureQuotaExceeded    FailureKind = "quota_exceeded"
	FailureTransientNetwork FailureKind = "transient_network_error"
	FailureInvalidResponse  FailureKind = "invalid_response"
	FailureCancelled        FailureKind = "cancelled"
	FailureInternal         FailureKind = "internal"
)

// Retryable reports whether an operation failing with this kind may be
// attempted again. Cancelled is never retried, regardless of policy.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureRateLimited, FailureTransientNetwork, FailureInvalidResponse:
		return true
	default:
		return false
	}
}

// Failure is the typed error carried on failed jobs and returned by the
// external service clients. It satisfies the error interface so it can flow
// through normal error returns and be recovered with errors.As.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure creates a typed failure with a formatted message
func NewFailure(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// FailureFrom maps an arbitrary error onto a Failure. Typed failures pass
// through unchanged; context cancellation becomes Cancelled; everything else
// is Internal.
func FailureFrom(err error) *Failure {
	if err == nil {
		return nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	if errors.Is(err, context.Canceled) {
		return NewFailure(FailureCancelled, "operation cancelled: %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(FailureTransientNetwork, "operation timed out: %v", err)
	}

	return NewFailure(FailureInternal, "%v", err)
}
