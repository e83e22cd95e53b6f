package github

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/google/go-github/v57/github"

	"github.com/repolens/repolens/internal/models"
)

// mapError converts a go-github error into a typed failure. Classification
// happens once here so callers only ever branch on failure kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return models.NewFailure(models.FailureRateLimited, "github rate limit exceeded, resets at %s", rateLimitErr.Rate.Reset.Time)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return models.NewFailure(models.FailureRateLimited, "github secondary rate limit: %v", err)
	}

	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		status := errResp.Response.StatusCode
		switch {
		case status == 404:
			return models.NewFailure(models.FailureNotFound, "github resource not found: %s", errResp.Message)
		case status == 401 || status == 403:
			return models.NewFailure(models.FailureAuth, "github authentication failed (%d): %s", status, errResp.Message)
		case status == 429:
			return models.NewFailure(models.FailureRateLimited, "github rate limited: %s", errResp.Message)
		case status >= 500:
			return models.NewFailure(models.FailureTransientNetwork, "github server error (%d): %s", status, errResp.Message)
		default:
			return models.NewFailure(models.FailureInternal, "github error (%d): %s", status, errResp.Message)
		}
	}

	if errors.Is(err, context.Canceled) {
		return models.NewFailure(models.FailureCancelled, "github request cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewFailure(models.FailureTransientNetwork, "github request timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.NewFailure(models.FailureTransientNetwork, "github network error: %v", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return models.NewFailure(models.FailureTransientNetwork, "github transport error: %v", err)
	}

	return models.NewFailure(models.FailureInternal, "github error: %v", err)
}
