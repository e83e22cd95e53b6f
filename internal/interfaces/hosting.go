package interfaces

import (
	"context"

	"github.com/repolens/repolens/internal/models"
)

// HostingClient fetches source artifacts from a code hosting service and
// files issues against it. Errors returned from these methods are typed
// *models.Failure values.
type HostingClient interface {
	// FetchArtifact retrieves the content the ref points at: a single file
	// when ref.Path is set, otherwise a capped scan of the repository.
	FetchArtifact(ctx context.Context, ref models.InputRef) (*models.Artifact, error)

	// CreateIssue files an issue on the referenced repository
	CreateIssue(ctx context.Context, ref models.InputRef, title, body string) (*models.Issue, error)
}
