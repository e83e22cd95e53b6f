package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// Service periodically fails jobs stuck in a non-terminal state, which
// happens when the process restarts mid-pipeline. Failed-as-stale jobs
// release their dedup identity so the work can be resubmitted.
type Service struct {
	cron       *cron.Cron
	storage    interfaces.JobStorage
	logger     arbor.ILogger
	schedule   string
	staleAfter time.Duration
	entryID    cron.EntryID
	running    bool
}

// NewService creates the stale job sweeper from configuration
func NewService(config *common.SchedulerConfig, storage interfaces.JobStorage, logger arbor.ILogger) (*Service, error) {
	schedule := config.Schedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}

	staleAfter, err := time.ParseDuration(config.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid stale_after duration '%s': %w", config.StaleAfter, err)
	}

	return &Service{
		cron:       cron.New(),
		storage:    storage,
		logger:     logger,
		schedule:   schedule,
		staleAfter: staleAfter,
	}, nil
}

// Start begins the sweep schedule
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	entryID, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("stale_after", s.staleAfter).
		Msg("Stale job sweeper started")

	return nil
}

// Stop halts the sweep schedule and waits for a running sweep to finish
func (s *Service) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Stale job sweeper stopped")
}

// Sweep runs one pass immediately, outside the schedule
func (s *Service) Sweep() {
	s.sweep()
}

func (s *Service) sweep() {
	ctx := context.Background()

	stale, err := s.storage.GetStaleJobs(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stale job query failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	failed := 0
	for _, job := range stale {
		err := job.MarkFailed(models.NewFailure(models.FailureInternal,
			"job abandoned: no progress for %s", s.staleAfter))
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Could not fail stale job")
			continue
		}
		if err := s.storage.SaveJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist stale job")
			continue
		}
		failed++
	}

	s.logger.Info().
		Int("stale", len(stale)).
		Int("failed", failed).
		Msg("Stale job sweep completed")
}
