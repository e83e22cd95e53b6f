package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"

	"github.com/repolens/repolens/internal/models"
)

func errorResponse(status int, message string) *github.ErrorResponse {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status},
		Message:  message,
	}
}

func TestMapErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   models.FailureKind
	}{
		{"not found", 404, models.FailureNotFound},
		{"unauthorized", 401, models.FailureAuth},
		{"forbidden", 403, models.FailureAuth},
		{"too many requests", 429, models.FailureRateLimited},
		{"bad gateway", 502, models.FailureTransientNetwork},
		{"service unavailable", 503, models.FailureTransientNetwork},
		{"unprocessable", 422, models.FailureInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapError(errorResponse(tt.status, tt.name))
			assert.Equal(t, tt.want, models.FailureFrom(mapped).Kind)
		})
	}
}

func TestMapErrorRateLimitTypes(t *testing.T) {
	assert.Equal(t, models.FailureRateLimited,
		models.FailureFrom(mapError(&github.RateLimitError{})).Kind)
	assert.Equal(t, models.FailureRateLimited,
		models.FailureFrom(mapError(&github.AbuseRateLimitError{})).Kind)
}

func TestMapErrorTransport(t *testing.T) {
	assert.Equal(t, models.FailureCancelled,
		models.FailureFrom(mapError(context.Canceled)).Kind)
	assert.Equal(t, models.FailureTransientNetwork,
		models.FailureFrom(mapError(context.DeadlineExceeded)).Kind)
	assert.Equal(t, models.FailureTransientNetwork,
		models.FailureFrom(mapError(&url.Error{Op: "Get", URL: "https://api.github.com", Err: errors.New("connection reset")})).Kind)
	assert.Equal(t, models.FailureInternal,
		models.FailureFrom(mapError(fmt.Errorf("something unexpected"))).Kind)
	assert.Nil(t, mapError(nil))
}

func TestIncludePath(t *testing.T) {
	c := &Connector{
		maxDepth: 3,
		extensions: map[string]bool{
			".go": true, ".py": true,
		},
	}

	assert.True(t, c.includePath("main.go"))
	assert.True(t, c.includePath("cmd/app/main.go"))
	assert.False(t, c.includePath("a/b/c/d/deep.go"))
	assert.False(t, c.includePath("README.md"))
	assert.False(t, c.includePath("vendor/pkg/lib.go"))
	assert.False(t, c.includePath("src/node_modules/x.py"))
	assert.False(t, c.includePath(".git/hooks/sample.py"))
	assert.False(t, c.includePath("image.png"))
}
