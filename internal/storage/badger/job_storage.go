package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// JobStorage implements interfaces.JobStorage on badgerhold. Saves are
// whole-record upserts, so a job's status and its result or failure always
// land atomically.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.AnalysisJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid job: %w", err)
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.NewFailure(models.FailureNotFound, "job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AnalysisJob, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Kind != "" {
			query = query.And("Kind").Eq(opts.Kind)
		}
		if opts.ParentID != "" {
			query = query.And("ParentID").Eq(opts.ParentID)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.AnalysisJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.AnalysisJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.AnalysisJob{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.AnalysisJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return int(count), nil
}

// FindInFlight returns a non-terminal job with the given dedup key, or nil
// when none exists. Newest first so a resubmission coalesces onto the most
// recent attempt.
func (s *JobStorage) FindInFlight(ctx context.Context, dedupKey string) (*models.AnalysisJob, error) {
	query := badgerhold.Where("DedupKey").Eq(dedupKey).
		And("Status").In(models.JobStatusPending, models.JobStatusFetching, models.JobStatusAnalyzing).
		SortBy("CreatedAt").Reverse().Limit(1)

	var jobs []models.AnalysisJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query in-flight jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// GetStaleJobs returns non-terminal jobs not updated within olderThan
func (s *JobStorage) GetStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.AnalysisJob, error) {
	cutoff := time.Now().Add(-olderThan)

	query := badgerhold.Where("Status").In(models.JobStatusPending, models.JobStatusFetching, models.JobStatusAnalyzing).
		And("UpdatedAt").Lt(cutoff)

	var jobs []models.AnalysisJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}

	result := make([]*models.AnalysisJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// Ensure interface compliance
var _ interfaces.JobStorage = (*JobStorage)(nil)
