package interfaces

import (
	"context"

	"github.com/repolens/repolens/internal/models"
)

// Analyzer runs one kind of analysis over a fetched artifact and returns the
// result as named sections. Errors returned are typed *models.Failure values;
// responses that cannot be parsed into the expected shape surface as
// FailureInvalidResponse.
type Analyzer interface {
	Analyze(ctx context.Context, kind models.JobKind, artifact *models.Artifact) (map[string]string, error)
	HealthCheck(ctx context.Context) error
	Provider() string
	Close() error
}
