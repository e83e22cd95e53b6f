package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// Orchestrator drives analysis jobs through their lifecycle: fetch the
// artifact from the hosting client, run the analysis client, persist every
// transition, and retry per the injected policy. Submissions for an identical
// (kind, input ref) coalesce onto the in-flight job.
type Orchestrator struct {
	hosting  interfaces.HostingClient
	analyzer interfaces.Analyzer
	storage  interfaces.JobStorage
	events   interfaces.EventService
	policy   RetryPolicy
	logger   arbor.ILogger

	inflight *inflightRegistry

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an orchestrator. The events service may be nil.
func New(hosting interfaces.HostingClient, analyzer interfaces.Analyzer, storage interfaces.JobStorage, events interfaces.EventService, policy RetryPolicy, logger arbor.ILogger) *Orchestrator {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		hosting:    hosting,
		analyzer:   analyzer,
		storage:    storage,
		events:     events,
		policy:     policy,
		logger:     logger,
		inflight:   newInflightRegistry(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		running:    make(map[string]context.CancelFunc),
	}
}

// Submit accepts an analysis request. When an identical request is already
// in flight the existing job's ID is returned with coalesced=true and no new
// work starts. Otherwise a pending job is persisted and its pipeline starts
// in the background, detached from the caller's context.
func (o *Orchestrator) Submit(ctx context.Context, kind models.JobKind, ref models.InputRef) (string, bool, error) {
	if !kind.Valid() {
		return "", false, models.NewFailure(models.FailureInternal, "invalid analysis kind: %s", kind)
	}
	if err := ref.Validate(); err != nil {
		return "", false, models.NewFailure(models.FailureInternal, "%v", err)
	}

	job := models.NewAnalysisJob(kind, ref)

	// Contend for the dedup key. Losers wait for the winner to publish a
	// persisted job ID, never an ID that may still fail to save; if the
	// winner aborts before a job exists, they contend again.
	var entry *inflightEntry
	for {
		e, inserted := o.inflight.reserve(job.DedupKey)
		if inserted {
			entry = e
			break
		}

		jobID, err := e.await(ctx)
		if err == nil {
			o.logger.Debug().
				Str("job_id", jobID).
				Str("dedup_key", job.DedupKey).
				Msg("Submission coalesced onto in-flight job")
			return jobID, true, nil
		}
		if ctx.Err() != nil {
			return "", false, models.NewFailure(models.FailureCancelled, "cancelled while awaiting in-flight job: %v", ctx.Err())
		}
	}

	// A non-terminal job may survive a restart with no goroutine behind it.
	// Coalesce onto it rather than racing it; the stale sweeper reclaims
	// abandoned ones.
	if existing, err := o.storage.FindInFlight(ctx, job.DedupKey); err == nil && existing != nil {
		entry.publish(existing.ID)
		o.inflight.release(job.DedupKey)
		return existing.ID, true, nil
	}

	if err := o.storage.SaveJob(ctx, job); err != nil {
		entry.fail(err)
		o.inflight.release(job.DedupKey)
		return "", false, fmt.Errorf("failed to persist job: %w", err)
	}
	entry.publish(job.ID)
	o.publish(job)

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.running[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.inflight.release(job.DedupKey)
		defer func() {
			o.mu.Lock()
			delete(o.running, job.ID)
			o.mu.Unlock()
			cancel()
		}()

		if job.Kind == models.JobKindFullRepoAnalysis {
			o.runAggregate(jobCtx, job)
		} else {
			o.runPipeline(jobCtx, job)
		}
	}()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("ref", ref.String()).
		Msg("Analysis job submitted")

	return job.ID, false, nil
}

// Cancel stops a running job. The job ends failed with a Cancelled failure
// and no further external calls are made for it.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()

	if ok {
		o.logger.Info().Str("job_id", jobID).Msg("Cancelling running job")
		cancel()
		return nil
	}

	// Not running here: either terminal, unknown, or orphaned by a restart
	job, err := o.storage.GetJob(context.Background(), jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return models.NewFailure(models.FailureInternal, "job %s is already %s", jobID, job.Status)
	}

	if err := job.MarkFailed(models.NewFailure(models.FailureCancelled, "cancelled by request")); err != nil {
		return err
	}
	if err := o.storage.SaveJob(context.Background(), job); err != nil {
		return err
	}
	o.publish(job)
	return nil
}

// WaitIdle blocks until all in-flight jobs reach a terminal state
func (o *Orchestrator) WaitIdle() {
	o.wg.Wait()
}

// Shutdown cancels all running jobs and waits for them to finish or for the
// context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

// runPipeline drives a single-kind job: fetching -> analyzing -> terminal.
// Each external stage runs under the retry policy.
func (o *Orchestrator) runPipeline(ctx context.Context, job *models.AnalysisJob) {
	if !o.advance(job, models.JobStatusFetching) {
		return
	}

	var artifact *models.Artifact
	err := o.policy.Do(ctx, func(ctx context.Context) error {
		a, err := o.hosting.FetchArtifact(ctx, job.InputRef)
		if err != nil {
			return err
		}
		artifact = a
		return nil
	})
	if err != nil {
		o.failJob(job, models.FailureFrom(err))
		return
	}

	if !o.advance(job, models.JobStatusAnalyzing) {
		return
	}

	var sections map[string]string
	err = o.policy.Do(ctx, func(ctx context.Context) error {
		s, err := o.analyzer.Analyze(ctx, job.Kind, artifact)
		if err != nil {
			return err
		}
		sections = s
		return nil
	})
	if err != nil {
		o.failJob(job, models.FailureFrom(err))
		return
	}

	if err := job.MarkSucceeded(sections); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job succeeded")
		return
	}
	o.save(job)
	o.publish(job)

	o.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int("sections", len(sections)).
		Msg("Analysis job succeeded")
}

// runAggregate drives a full-repo-analysis parent: the three sub-analyses
// run sequentially as persisted child jobs against the same input ref. The
// parent succeeds only when every child succeeds; the first child failure
// fails the parent, and earlier children keep their results on their own
// records.
func (o *Orchestrator) runAggregate(ctx context.Context, parent *models.AnalysisJob) {
	if !o.advance(parent, models.JobStatusFetching) {
		return
	}

	results := make(map[string]string)

	for i, kind := range models.SubAnalysisKinds() {
		child := models.NewChildJob(parent, kind)
		if err := o.storage.SaveJob(context.Background(), child); err != nil {
			o.failJob(parent, models.NewFailure(models.FailureInternal, "failed to persist child job: %v", err))
			return
		}
		o.publish(child)

		o.runPipeline(ctx, child)

		if child.Status != models.JobStatusSucceeded {
			failure := child.Failure
			if failure == nil {
				failure = models.NewFailure(models.FailureInternal, "child job %s ended %s without a failure", child.ID, child.Status)
			}
			o.failJob(parent, models.NewFailure(failure.Kind, "sub-analysis %s failed: %s", kind, failure.Message))
			return
		}

		results[string(kind)] = renderSections(child.Result)

		// The parent leaves fetching once its first child has completed a
		// full fetch+analyze pass.
		if i == 0 {
			if !o.advance(parent, models.JobStatusAnalyzing) {
				return
			}
		}
	}

	if err := parent.MarkSucceeded(results); err != nil {
		o.logger.Error().Err(err).Str("job_id", parent.ID).Msg("Failed to mark parent job succeeded")
		return
	}
	o.save(parent)
	o.publish(parent)

	o.logger.Info().
		Str("job_id", parent.ID).
		Int("children", len(results)).
		Msg("Full repository analysis succeeded")
}

// advance transitions a job and persists it. Returns false when the
// transition is rejected, which indicates a lifecycle bug.
func (o *Orchestrator) advance(job *models.AnalysisJob, status models.JobStatus) bool {
	if err := job.TransitionTo(status); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Rejected job transition")
		return false
	}
	o.save(job)
	o.publish(job)
	return true
}

// failJob marks the job failed and persists the outcome
func (o *Orchestrator) failJob(job *models.AnalysisJob, failure *models.Failure) {
	if err := job.MarkFailed(failure); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		return
	}
	o.save(job)
	o.publish(job)

	o.logger.Warn().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("failure_kind", string(failure.Kind)).
		Str("failure", failure.Message).
		Msg("Analysis job failed")
}

// save persists the job detached from any per-job context so terminal
// outcomes are recorded even after cancellation.
func (o *Orchestrator) save(job *models.AnalysisJob) {
	if err := o.storage.SaveJob(context.Background(), job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job")
	}
}

// publish emits a job_updated event with a snapshot of the job
func (o *Orchestrator) publish(job *models.AnalysisJob) {
	if o.events == nil {
		return
	}
	snapshot := *job
	o.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobUpdated,
		Payload: &snapshot,
	})
}

// renderSections flattens a child's result sections into one markdown block,
// with sections in stable order.
func renderSections(sections map[string]string) string {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", strings.ReplaceAll(name, "_", " "), sections[name])
	}
	return strings.TrimSpace(b.String())
}

// Ensure interface compliance
var _ interfaces.JobOrchestrator = (*Orchestrator)(nil)
