package llm

import (
	"fmt"
	"strings"

	"github.com/repolens/repolens/internal/models"
)

const systemPrompt = `You are an expert software engineer reviewing source code.
Respond with a single JSON object and nothing else: no prose before or after,
no markdown fences. Every value must be a non-empty markdown string.`

// requiredSections lists the JSON keys a provider response must carry for
// each analysis kind. Responses missing any of these are rejected as invalid.
var requiredSections = map[models.JobKind][]string{
	models.JobKindCodeReview: {
		"summary", "code_quality", "potential_bugs", "performance", "security", "best_practices",
	},
	models.JobKindDocumentation: {
		"overview", "api_documentation", "usage_examples",
	},
	models.JobKindBugDetection: {
		"summary", "issues",
	},
}

// buildPrompt assembles the user prompt for an analysis kind over an
// artifact. The instruction blocks mirror the product's analysis contract:
// review covers quality/bugs/performance/security/practices, documentation
// produces markdown API docs, bug detection reports issues with impact and
// fix.
func buildPrompt(kind models.JobKind, artifact *models.Artifact) (string, error) {
	var b strings.Builder

	switch kind {
	case models.JobKindCodeReview:
		b.WriteString(`Review the following code and provide detailed feedback covering:
1. Code quality and readability
2. Potential bugs or issues
3. Performance considerations
4. Security concerns
5. Best practices recommendations

Return a JSON object with exactly these keys, each a markdown string:
"summary", "code_quality", "potential_bugs", "performance", "security", "best_practices"`)

	case models.JobKindDocumentation:
		b.WriteString(`Generate comprehensive documentation for the following code in markdown format,
including descriptions, parameters, return values, and usage examples.

Return a JSON object with exactly these keys, each a markdown string:
"overview", "api_documentation", "usage_examples"`)

	case models.JobKindBugDetection:
		b.WriteString(`Analyze the following code for bugs, covering syntax errors, logical errors,
runtime risks, unhandled edge cases, and security vulnerabilities.
For each issue found include a description, its impact, and a suggested fix.
If no issues are found, say so explicitly.

Return a JSON object with exactly these keys, each a markdown string:
"summary", "issues"`)

	default:
		return "", fmt.Errorf("no prompt defined for analysis kind: %s", kind)
	}

	b.WriteString("\n\n")
	if artifact.Truncated {
		b.WriteString("Note: the code below was truncated at a size cap; judge only what is present.\n\n")
	}
	fmt.Fprintf(&b, "Source (%s):\n\n%s\n", artifact.Ref.String(), artifact.Content)

	return b.String(), nil
}
