package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// ClaudeService implements the Analyzer interface using the Anthropic API
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    *anthropic.Client
	timeout   time.Duration
	maxTokens int
}

// NewClaudeService creates a new Claude analysis service instance
func NewClaudeService(claudeConfig *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if claudeConfig.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set via REPOLENS_CLAUDE_API_KEY, ANTHROPIC_API_KEY, or claude.api_key in config)")
	}

	if claudeConfig.Model == "" {
		claudeConfig.Model = "claude-sonnet-4-20250514"
	}

	timeout, err := time.ParseDuration(claudeConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", claudeConfig.Timeout, err)
	}

	maxTokens := claudeConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	client := anthropic.NewClient(
		option.WithAPIKey(claudeConfig.APIKey),
	)

	service := &ClaudeService{
		config:    claudeConfig,
		logger:    logger,
		client:    &client,
		timeout:   timeout,
		maxTokens: maxTokens,
	}

	logger.Debug().
		Str("model", claudeConfig.Model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Msg("Claude analysis service initialized")

	return service, nil
}

// Analyze runs one analysis kind over the artifact and returns the parsed
// result sections.
func (s *ClaudeService) Analyze(ctx context.Context, kind models.JobKind, artifact *models.Artifact) (map[string]string, error) {
	prompt, err := buildPrompt(kind, artifact)
	if err != nil {
		return nil, models.NewFailure(models.FailureInternal, "%v", err)
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
			Msg("Claude analysis call failed")
		return nil, classifyProviderError("claude", err)
	}

	sections, err := parseAnalysisResult(kind, raw)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Int("response_length", len(raw)).
			Msg("Claude response failed shape validation")
		return nil, err
	}

	s.logger.Debug().
		Str("kind", string(kind)).
		Str("ref", artifact.Ref.String()).
		Int("sections", len(sections)).
		Dur("duration", time.Since(startTime)).
		Msg("Claude analysis completed")

	return sections, nil
}

// HealthCheck verifies the Claude service can handle requests
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("claude client is not initialized")
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.generateText(probeCtx, "ping")
	if err != nil {
		return fmt.Errorf("claude health check failed: %w", err)
	}
	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("claude probe returned empty response")
	}

	return nil
}

// Provider returns the provider name
func (s *ClaudeService) Provider() string {
	return "claude"
}

// Close releases resources
func (s *ClaudeService) Close() error {
	s.logger.Debug().Msg("Closing Claude analysis service")
	s.client = nil
	return nil
}

// generateText sends a single-turn message request and extracts the text
func (s *ClaudeService) generateText(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.config.Temperature))
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			response.WriteString(text.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), nil
}

// Ensure interface compliance
var _ interfaces.Analyzer = (*ClaudeService)(nil)
