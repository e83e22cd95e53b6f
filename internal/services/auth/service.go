package auth

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/models"
)

// Principal is the opaque identity attached to an authenticated request
type Principal struct {
	Key string
}

// Service checks requests against the configured API keys. With no keys
// configured the check is disabled and every request is anonymous, which is
// the expected posture for local development.
type Service struct {
	keys   map[string]bool
	logger arbor.ILogger
}

// NewService creates an API key identity service
func NewService(config *common.AuthConfig, logger arbor.ILogger) *Service {
	keys := make(map[string]bool, len(config.APIKeys))
	for _, key := range config.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys[key] = true
		}
	}

	if len(keys) > 0 {
		logger.Info().Int("keys", len(keys)).Msg("API key authentication enabled")
	} else {
		logger.Warn().Msg("No API keys configured, authentication disabled")
	}

	return &Service{
		keys:   keys,
		logger: logger,
	}
}

// Enabled reports whether authentication is enforced
func (s *Service) Enabled() bool {
	return len(s.keys) > 0
}

// Authenticate resolves the request's identity. Keys are accepted from the
// X-API-Key header or an Authorization: Bearer token.
func (s *Service) Authenticate(r *http.Request) (*Principal, error) {
	if !s.Enabled() {
		return &Principal{}, nil
	}

	key := r.Header.Get("X-API-Key")
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if key == "" || !s.keys[key] {
		return nil, models.NewFailure(models.FailureAuth, "missing or invalid API key")
	}

	return &Principal{Key: key}, nil
}
