package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/interfaces"
)

// NewAnalyzer creates the configured analysis provider
func NewAnalyzer(config *common.Config, logger arbor.ILogger) (interfaces.Analyzer, error) {
	switch config.LLM.Provider {
	case "", "gemini":
		return NewGeminiService(&config.Gemini, logger)
	case "claude":
		return NewClaudeService(&config.Claude, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (expected \"gemini\" or \"claude\")", config.LLM.Provider)
	}
}
