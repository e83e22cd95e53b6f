package llm

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/repolens/repolens/internal/models"
)

var validate = validator.New()

// analysisResult is the parsed provider response. Every section must be a
// non-empty string.
type analysisResult struct {
	Sections map[string]string `validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// parseAnalysisResult validates a raw provider response against the expected
// shape for the analysis kind. Any deviation surfaces as a typed
// InvalidResponse failure so the retry policy can treat it distinctly.
func parseAnalysisResult(kind models.JobKind, raw string) (map[string]string, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, models.NewFailure(models.FailureInvalidResponse, "provider returned an empty response")
	}

	var sections map[string]string
	if err := json.Unmarshal([]byte(cleaned), &sections); err != nil {
		return nil, models.NewFailure(models.FailureInvalidResponse, "provider response is not a JSON object of strings: %v", err)
	}

	result := analysisResult{Sections: sections}
	if err := validate.Struct(result); err != nil {
		return nil, models.NewFailure(models.FailureInvalidResponse, "provider response failed shape validation: %v", err)
	}

	for _, required := range requiredSections[kind] {
		if strings.TrimSpace(sections[required]) == "" {
			return nil, models.NewFailure(models.FailureInvalidResponse, "provider response missing required section %q", required)
		}
	}

	return sections, nil
}

// stripCodeFence removes a surrounding markdown code fence from a response.
// Models occasionally wrap JSON output despite instructions not to.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
