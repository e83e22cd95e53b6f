package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/repolens/repolens/internal/models"
)

// classifyProviderError maps an AI provider error onto the failure taxonomy.
// Provider SDKs do not expose stable error types for every condition, so
// classification falls back to message matching, checked most-specific first.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var failure *models.Failure
	if errors.As(err, &failure) {
		return failure
	}

	if errors.Is(err, context.Canceled) {
		return models.NewFailure(models.FailureCancelled, "%s request cancelled", provider)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewFailure(models.FailureTransientNetwork, "%s request timed out", provider)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "quota"):
		// A quota exhaustion is not recoverable by waiting, unlike a rate limit
		return models.NewFailure(models.FailureQuotaExceeded, "%s quota exceeded: %v", provider, err)

	case strings.Contains(msg, "429"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "overloaded"):
		return models.NewFailure(models.FailureRateLimited, "%s rate limited: %v", provider, err)

	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "permission_denied"),
		strings.Contains(msg, "unauthenticated"):
		return models.NewFailure(models.FailureAuth, "%s authentication failed: %v", provider, err)

	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "deadline_exceeded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"):
		return models.NewFailure(models.FailureTransientNetwork, "%s transient error: %v", provider, err)

	default:
		return models.NewFailure(models.FailureInternal, "%s error: %v", provider, err)
	}
}
