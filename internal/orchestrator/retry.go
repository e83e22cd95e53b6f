package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/models"
)

// RetryPolicy controls retry behavior for external calls. Only retryable
// failure kinds are attempted again; InvalidResponse carries its own lower
// cap because a model returning garbage twice rarely improves on the third
// try.
type RetryPolicy struct {
	MaxAttempts            int
	BaseDelay              time.Duration
	BackoffFactor          float64
	MaxDelay               time.Duration
	InvalidResponseRetries int

	// sleep is swappable in tests; defaults to a context-aware timer wait
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard policy: 5 attempts, exponential
// backoff from 1s with factor 2, capped at 30s, full jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:            5,
		BaseDelay:              time.Second,
		BackoffFactor:          2.0,
		MaxDelay:               30 * time.Second,
		InvalidResponseRetries: 2,
	}
}

// RetryPolicyFromConfig builds a policy from orchestrator configuration
func RetryPolicyFromConfig(config *common.OrchestratorConfig) (RetryPolicy, error) {
	policy := DefaultRetryPolicy()

	if config.MaxAttempts > 0 {
		policy.MaxAttempts = config.MaxAttempts
	}
	if config.BackoffFactor > 0 {
		policy.BackoffFactor = config.BackoffFactor
	}
	if config.InvalidResponseRetries >= 0 {
		policy.InvalidResponseRetries = config.InvalidResponseRetries
	}
	if config.BaseDelay != "" {
		base, err := time.ParseDuration(config.BaseDelay)
		if err != nil {
			return policy, fmt.Errorf("invalid base delay '%s': %w", config.BaseDelay, err)
		}
		policy.BaseDelay = base
	}
	if config.MaxDelay != "" {
		max, err := time.ParseDuration(config.MaxDelay)
		if err != nil {
			return policy, fmt.Errorf("invalid max delay '%s': %w", config.MaxDelay, err)
		}
		policy.MaxDelay = max
	}

	return policy, nil
}

// attemptsFor returns how many attempts may end in the given failure kind
// before the operation is abandoned. Non-retryable kinds get a single
// attempt.
func (p RetryPolicy) attemptsFor(kind models.FailureKind) int {
	if !kind.Retryable() {
		return 1
	}
	if kind == models.FailureInvalidResponse {
		return p.InvalidResponseRetries + 1
	}
	return p.MaxAttempts
}

// Backoff returns the jittered delay before the given retry. Attempt is
// 1-based: the delay after the first failure uses attempt 1. Full jitter
// draws uniformly from (0, capped exponential delay].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay))) + 1
}

// Do runs op, retrying per the policy. Failure kinds are counted
// independently so an InvalidResponse burst cannot ride on the larger
// transient budget. Context cancellation stops retries immediately and
// surfaces as a Cancelled failure.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	failureCounts := make(map[models.FailureKind]int)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return models.NewFailure(models.FailureCancelled, "cancelled before attempt %d", attempt)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		failure := models.FailureFrom(err)
		if failure.Kind == models.FailureCancelled || ctx.Err() != nil {
			return models.NewFailure(models.FailureCancelled, "cancelled during attempt %d: %s", attempt, failure.Message)
		}

		failureCounts[failure.Kind]++
		if !failure.Kind.Retryable() || failureCounts[failure.Kind] >= p.attemptsFor(failure.Kind) || attempt >= p.MaxAttempts {
			return failure
		}

		if err := p.wait(ctx, p.Backoff(attempt)); err != nil {
			return models.NewFailure(models.FailureCancelled, "cancelled while backing off after attempt %d", attempt)
		}
	}
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
