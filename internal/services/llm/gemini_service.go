package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// GeminiService implements the Analyzer interface using the Gemini API
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGeminiService creates a new Gemini analysis service instance
func NewGeminiService(geminiConfig *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set via REPOLENS_GEMINI_API_KEY, GEMINI_API_KEY, or gemini.api_key in config)")
	}

	if geminiConfig.Model == "" {
		geminiConfig.Model = "gemini-2.0-flash"
	}

	timeout, err := time.ParseDuration(geminiConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", geminiConfig.Timeout, err)
	}

	requestsPerSec := geminiConfig.RequestsPerSec
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
		config:  geminiConfig,
		logger:  logger,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		timeout: timeout,
	}

	logger.Debug().
		Str("model", geminiConfig.Model).
		Dur("timeout", timeout).
		Float32("temperature", geminiConfig.Temperature).
		Msg("Gemini analysis service initialized")

	return service, nil
}

// Analyze runs one analysis kind over the artifact and returns the parsed
// result sections. The provider response must match the expected shape for
// the kind; anything else returns an InvalidResponse failure.
func (s *GeminiService) Analyze(ctx context.Context, kind models.JobKind, artifact *models.Artifact) (map[string]string, error) {
	prompt, err := buildPrompt(kind, artifact)
	if err != nil {
		return nil, models.NewFailure(models.FailureInternal, "%v", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, models.FailureFrom(err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()

	raw, err := s.generateText(timeoutCtx, prompt)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("ref", artifact.Ref.String()).
			Msg("Gemini analysis call failed")
		return nil, classifyProviderError("gemini", err)
	}

	sections, err := parseAnalysisResult(kind, raw)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Int("response_length", len(raw)).
			Msg("Gemini response failed shape validation")
		return nil, err
	}

	s.logger.Debug().
		Str("kind", string(kind)).
		Str("ref", artifact.Ref.String()).
		Int("sections", len(sections)).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini analysis completed")

	return sections, nil
}

// HealthCheck verifies the Gemini service can handle requests
func (s *GeminiService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("gemini client is not initialized")
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.generateText(probeCtx, "ping")
	if err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}
	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("gemini probe returned empty response")
	}

	return nil
}

// Provider returns the provider name
func (s *GeminiService) Provider() string {
	return "gemini"
}

// Close releases resources
func (s *GeminiService) Close() error {
	s.logger.Debug().Msg("Closing Gemini analysis service")
	s.client = nil
	return nil
}

// generateText sends a single-turn generation request and extracts the text
func (s *GeminiService) generateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(prompt)},
		},
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(s.config.Temperature),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemPrompt)},
		},
	}

	result, err := s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
	if err != nil {
		return "", err
	}

	var response strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			response.WriteString(part.Text)
		}
		break
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini API")
	}

	return response.String(), nil
}

// Ensure interface compliance
var _ interfaces.Analyzer = (*GeminiService)(nil)
