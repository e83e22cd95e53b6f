package interfaces

import (
	"context"
	"time"

	"github.com/repolens/repolens/internal/models"
)

// JobListOptions controls filtering and pagination for job listings
type JobListOptions struct {
	Status   models.JobStatus
	Kind     models.JobKind
	ParentID string
	Limit    int
	Offset   int
}

// JobStorage persists analysis jobs. Implementations must make SaveJob
// atomic for the whole record so status and result/failure are never
// observed out of sync.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.AnalysisJob, error)
	CountJobs(ctx context.Context) (int, error)
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)

	// FindInFlight returns a non-terminal job with the given dedup key,
	// or nil when none exists.
	FindInFlight(ctx context.Context, dedupKey string) (*models.AnalysisJob, error)

	// GetStaleJobs returns non-terminal jobs not updated within olderThan
	GetStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.AnalysisJob, error)
}
