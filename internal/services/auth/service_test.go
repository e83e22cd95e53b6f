package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/models"
)

func TestAuthenticateDisabledWithoutKeys(t *testing.T) {
	service := NewService(&common.AuthConfig{}, common.GetLogger())
	assert.False(t, service.Enabled())

	r := httptest.NewRequest("GET", "/api/jobs", nil)
	principal, err := service.Authenticate(r)
	require.NoError(t, err)
	assert.NotNil(t, principal)
}

func TestAuthenticateAPIKeyHeader(t *testing.T) {
	service := NewService(&common.AuthConfig{APIKeys: []string{"secret-1", "secret-2"}}, common.GetLogger())
	assert.True(t, service.Enabled())

	r := httptest.NewRequest("POST", "/api/jobs", nil)
	r.Header.Set("X-API-Key", "secret-2")

	principal, err := service.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "secret-2", principal.Key)
}

func TestAuthenticateBearerToken(t *testing.T) {
	service := NewService(&common.AuthConfig{APIKeys: []string{"secret-1"}}, common.GetLogger())

	r := httptest.NewRequest("POST", "/api/jobs", nil)
	r.Header.Set("Authorization", "Bearer secret-1")

	principal, err := service.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "secret-1", principal.Key)
}

func TestAuthenticateRejectsBadKey(t *testing.T) {
	service := NewService(&common.AuthConfig{APIKeys: []string{"secret-1"}}, common.GetLogger())

	r := httptest.NewRequest("POST", "/api/jobs", nil)
	r.Header.Set("X-API-Key", "wrong")
	_, err := service.Authenticate(r)
	require.Error(t, err)
	assert.Equal(t, models.FailureAuth, models.FailureFrom(err).Kind)

	r = httptest.NewRequest("POST", "/api/jobs", nil)
	_, err = service.Authenticate(r)
	assert.Error(t, err)
}

func TestNewServiceIgnoresBlankKeys(t *testing.T) {
	service := NewService(&common.AuthConfig{APIKeys: []string{"", "  "}}, common.GetLogger())
	assert.False(t, service.Enabled())
}
