package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// fakeHosting counts fetch calls and fails the first failBefore calls with
// failWith before succeeding.
type fakeHosting struct {
	fetchCalls int64
	failBefore int64
	failWith   *models.Failure
	started    chan struct{} // closed on first fetch, when set
	startOnce  sync.Once
	block      bool          // when true, fetch blocks until ctx is done
	gate       chan struct{} // when set, fetch waits for the gate to close
}

func (f *fakeHosting) FetchArtifact(ctx context.Context, ref models.InputRef) (*models.Artifact, error) {
	n := atomic.AddInt64(&f.fetchCalls, 1)
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failBefore {
		return nil, f.failWith
	}
	return &models.Artifact{Ref: ref, Content: "package main", Size: 12, FileCount: 1}, nil
}

func (f *fakeHosting) CreateIssue(ctx context.Context, ref models.InputRef, title, body string) (*models.Issue, error) {
	return &models.Issue{Number: 1, Title: title}, nil
}

// fakeAnalyzer counts analyze calls; failKinds makes specific kinds fail and
// block makes calls wait for cancellation.
type fakeAnalyzer struct {
	analyzeCalls int64
	failBefore   int64
	failWith     *models.Failure
	failKinds    map[models.JobKind]*models.Failure
	started      chan struct{}
	startOnce    sync.Once
	block        bool
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, kind models.JobKind, artifact *models.Artifact) (map[string]string, error) {
	n := atomic.AddInt64(&f.analyzeCalls, 1)
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failure, ok := f.failKinds[kind]; ok {
		return nil, failure
	}
	if n <= f.failBefore {
		return nil, f.failWith
	}
	return map[string]string{"summary": "ok", "detail": string(kind)}, nil
}

func (f *fakeAnalyzer) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeAnalyzer) Provider() string                      { return "fake" }
func (f *fakeAnalyzer) Close() error                          { return nil }

// memStorage is an in-memory JobStorage that records the status history of
// every save.
type memStorage struct {
	mu      sync.Mutex
	jobs    map[string]models.AnalysisJob
	history map[string][]models.JobStatus

	findStarted chan struct{} // closed on first FindInFlight, when set
	findOnce    sync.Once
	findGate    chan struct{} // when set, FindInFlight waits for the gate to close
}

func newMemStorage() *memStorage {
	return &memStorage{
		jobs:    make(map[string]models.AnalysisJob),
		history: make(map[string][]models.JobStatus),
	}
}

func (m *memStorage) SaveJob(ctx context.Context, job *models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	m.history[job.ID] = append(m.history[job.ID], job.Status)
	return nil
}

func (m *memStorage) GetJob(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, models.NewFailure(models.FailureNotFound, "job not found: %s", jobID)
	}
	copy := job
	return &copy, nil
}

func (m *memStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AnalysisJob
	for _, job := range m.jobs {
		if opts != nil && opts.ParentID != "" && job.ParentID != opts.ParentID {
			continue
		}
		if opts != nil && opts.Status != "" && job.Status != opts.Status {
			continue
		}
		copy := job
		out = append(out, &copy)
	}
	return out, nil
}

func (m *memStorage) CountJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

func (m *memStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, job := range m.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *memStorage) FindInFlight(ctx context.Context, dedupKey string) (*models.AnalysisJob, error) {
	if m.findStarted != nil {
		m.findOnce.Do(func() { close(m.findStarted) })
	}
	if m.findGate != nil {
		<-m.findGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.DedupKey == dedupKey && !job.Status.Terminal() {
			copy := job
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *memStorage) GetStaleJobs(ctx context.Context, olderThan time.Duration) ([]*models.AnalysisJob, error) {
	return nil, nil
}

func (m *memStorage) statusHistory(jobID string) []models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.JobStatus(nil), m.history[jobID]...)
}

func fastPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return policy
}

func newTestOrchestrator(hosting *fakeHosting, analyzer *fakeAnalyzer, storage *memStorage, policy RetryPolicy) *Orchestrator {
	return New(hosting, analyzer, storage, nil, policy, common.GetLogger())
}

func repoRef() models.InputRef {
	return models.InputRef{Owner: "octocat", Repo: "hello-world"}
}

func TestSingleJobHappyPath(t *testing.T) {
	hosting := &fakeHosting{}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	jobID, coalesced, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
	require.NoError(t, err)
	assert.False(t, coalesced)

	o.WaitIdle()

	job, err := storage.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, "ok", job.Result["summary"])
	assert.Nil(t, job.Failure)

	assert.Equal(t, []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusFetching,
		models.JobStatusAnalyzing,
		models.JobStatusSucceeded,
	}, storage.statusHistory(jobID))

	assert.EqualValues(t, 1, atomic.LoadInt64(&hosting.fetchCalls))
	assert.EqualValues(t, 1, atomic.LoadInt64(&analyzer.analyzeCalls))
}

func TestConcurrentSubmitsCoalesce(t *testing.T) {
	// The gate holds the winning job in fetching until every submission has
	// returned, so each one must observe the same in-flight job.
	hosting := &fakeHosting{gate: make(chan struct{})}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	const submitters = 8
	ids := make([]string, submitters)
	coalesced := make([]bool, submitters)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, c, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
			assert.NoError(t, err)
			ids[i] = id
			coalesced[i] = c
		}(i)
	}
	wg.Wait()
	close(hosting.gate)
	o.WaitIdle()

	winners := 0
	for i := 0; i < submitters; i++ {
		assert.Equal(t, ids[0], ids[i], "all submissions must resolve to the same job")
		if !coalesced[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one submission may start work")

	// Identical concurrent requests trigger exactly one fetch and one analyze
	assert.EqualValues(t, 1, atomic.LoadInt64(&hosting.fetchCalls))
	assert.EqualValues(t, 1, atomic.LoadInt64(&analyzer.analyzeCalls))
}

func TestCoalescedSubmitReturnsPersistedJob(t *testing.T) {
	// The first submission is held inside the storage lookup, before its job
	// is saved. A concurrent duplicate must wait for the winner rather than
	// coalesce onto an ID that does not exist in storage yet.
	hosting := &fakeHosting{gate: make(chan struct{})}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	storage.findStarted = make(chan struct{})
	storage.findGate = make(chan struct{})
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	type submission struct {
		id        string
		coalesced bool
	}
	first := make(chan submission, 1)
	go func() {
		id, c, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
		assert.NoError(t, err)
		first <- submission{id, c}
	}()

	select {
	case <-storage.findStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("first submission never reached storage")
	}

	second := make(chan submission, 1)
	go func() {
		id, c, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
		assert.NoError(t, err)
		second <- submission{id, c}
	}()

	select {
	case s := <-second:
		t.Fatalf("duplicate submission returned %q before any job was persisted", s.id)
	case <-time.After(100 * time.Millisecond):
	}

	close(storage.findGate)

	winner := <-first
	duplicate := <-second
	assert.False(t, winner.coalesced)
	assert.True(t, duplicate.coalesced)
	assert.Equal(t, winner.id, duplicate.id, "both submissions must resolve to the same job")

	// The coalesced ID refers to a job that exists in storage
	_, err := storage.GetJob(context.Background(), duplicate.id)
	require.NoError(t, err)

	close(hosting.gate)
	o.WaitIdle()

	job, err := storage.GetJob(context.Background(), duplicate.id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
}

func TestResubmitAfterTerminalStartsNewJob(t *testing.T) {
	hosting := &fakeHosting{}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	first, _, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	second, coalesced, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	assert.False(t, coalesced)
	assert.NotEqual(t, first, second)
	assert.EqualValues(t, 2, atomic.LoadInt64(&hosting.fetchCalls))
}

func TestTransientFetchFailuresThenSuccess(t *testing.T) {
	hosting := &fakeHosting{
		failBefore: 4,
		failWith:   models.NewFailure(models.FailureTransientNetwork, "connection reset"),
	}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	jobID, _, err := o.Submit(context.Background(), models.JobKindBugDetection, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	job, err := storage.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.EqualValues(t, 5, atomic.LoadInt64(&hosting.fetchCalls))
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	hosting := &fakeHosting{
		failBefore: 100,
		failWith:   models.NewFailure(models.FailureTransientNetwork, "connection reset"),
	}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	jobID, _, err := o.Submit(context.Background(), models.JobKindBugDetection, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	job, err := storage.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Failure)
	assert.Equal(t, models.FailureTransientNetwork, job.Failure.Kind)
	assert.Nil(t, job.Result)

	// Max attempts is 5: the job fails without a sixth call
	assert.EqualValues(t, 5, atomic.LoadInt64(&hosting.fetchCalls))
	assert.EqualValues(t, 0, atomic.LoadInt64(&analyzer.analyzeCalls))
}

func TestInvalidResponseRetriedAtMostTwice(t *testing.T) {
	hosting := &fakeHosting{}
	analyzer := &fakeAnalyzer{
		failBefore: 100,
		failWith:   models.NewFailure(models.FailureInvalidResponse, "not json"),
	}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	jobID, _, err := o.Submit(context.Background(), models.JobKindDocumentation, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	job, err := storage.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.FailureInvalidResponse, job.Failure.Kind)

	// Initial attempt plus two retries
	assert.EqualValues(t, 3, atomic.LoadInt64(&analyzer.analyzeCalls))
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	for _, kind := range []models.FailureKind{models.FailureNotFound, models.FailureAuth, models.FailureQuotaExceeded} {
		hosting := &fakeHosting{
			failBefore: 100,
			failWith:   models.NewFailure(kind, "nope"),
		}
		analyzer := &fakeAnalyzer{}
		storage := newMemStorage()
		o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

		jobID, _, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
		require.NoError(t, err)
		o.WaitIdle()

		job, err := storage.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Equal(t, kind, job.Failure.Kind)
		assert.EqualValues(t, 1, atomic.LoadInt64(&hosting.fetchCalls), "%s must not be retried", kind)
	}
}

func TestCancelDuringAnalyzing(t *testing.T) {
	hosting := &fakeHosting{}
	analyzer := &fakeAnalyzer{
		started: make(chan struct{}),
		block:   true,
	}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	jobID, _, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
	require.NoError(t, err)

	select {
	case <-analyzer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("analyzer never started")
	}

	require.NoError(t, o.Cancel(jobID))
	o.WaitIdle()

	job, err := storage.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.FailureCancelled, job.Failure.Kind)

	// No retry follows a cancellation
	assert.EqualValues(t, 1, atomic.LoadInt64(&analyzer.analyzeCalls))
}

func TestCancelUnknownJob(t *testing.T) {
	o := newTestOrchestrator(&fakeHosting{}, &fakeAnalyzer{}, newMemStorage(), fastPolicy())

	err := o.Cancel("job_missing")
	require.Error(t, err)
	assert.Equal(t, models.FailureNotFound, models.FailureFrom(err).Kind)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	storage := newMemStorage()
	o := newTestOrchestrator(&fakeHosting{}, &fakeAnalyzer{}, storage, fastPolicy())

	jobID, _, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	assert.Error(t, o.Cancel(jobID))
}

func TestFullRepoAnalysisSucceeds(t *testing.T) {
	hosting := &fakeHosting{}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	parentID, _, err := o.Submit(context.Background(), models.JobKindFullRepoAnalysis, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	parent, err := storage.GetJob(context.Background(), parentID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, parent.Status)

	// Aggregated result is keyed by sub-analysis kind
	for _, kind := range models.SubAnalysisKinds() {
		assert.Contains(t, parent.Result, string(kind))
		assert.Contains(t, parent.Result[string(kind)], "## summary")
	}

	children, err := storage.ListJobs(context.Background(), &interfaces.JobListOptions{ParentID: parentID})
	require.NoError(t, err)
	assert.Len(t, children, 3)
	for _, child := range children {
		assert.Equal(t, models.JobStatusSucceeded, child.Status)
	}

	// One fetch and one analyze per child
	assert.EqualValues(t, 3, atomic.LoadInt64(&hosting.fetchCalls))
	assert.EqualValues(t, 3, atomic.LoadInt64(&analyzer.analyzeCalls))
}

func TestFullRepoAnalysisPartialFailure(t *testing.T) {
	hosting := &fakeHosting{}
	analyzer := &fakeAnalyzer{
		failKinds: map[models.JobKind]*models.Failure{
			models.JobKindBugDetection: models.NewFailure(models.FailureQuotaExceeded, "quota exhausted"),
		},
	}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	parentID, _, err := o.Submit(context.Background(), models.JobKindFullRepoAnalysis, repoRef())
	require.NoError(t, err)
	o.WaitIdle()

	parent, err := storage.GetJob(context.Background(), parentID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, parent.Status)
	require.NotNil(t, parent.Failure)
	assert.Equal(t, models.FailureQuotaExceeded, parent.Failure.Kind)
	assert.Contains(t, parent.Failure.Message, "bug-detection")
	assert.Nil(t, parent.Result)

	// The succeeded children keep their results and stay retrievable
	children, err := storage.ListJobs(context.Background(), &interfaces.JobListOptions{ParentID: parentID})
	require.NoError(t, err)
	require.Len(t, children, 3)

	byKind := make(map[models.JobKind]*models.AnalysisJob)
	for _, child := range children {
		byKind[child.Kind] = child
	}
	assert.Equal(t, models.JobStatusSucceeded, byKind[models.JobKindCodeReview].Status)
	assert.NotEmpty(t, byKind[models.JobKindCodeReview].Result)
	assert.Equal(t, models.JobStatusSucceeded, byKind[models.JobKindDocumentation].Status)
	assert.Equal(t, models.JobStatusFailed, byKind[models.JobKindBugDetection].Status)
}

func TestSubmitValidation(t *testing.T) {
	o := newTestOrchestrator(&fakeHosting{}, &fakeAnalyzer{}, newMemStorage(), fastPolicy())

	_, _, err := o.Submit(context.Background(), models.JobKind("linting"), repoRef())
	assert.Error(t, err)

	_, _, err = o.Submit(context.Background(), models.JobKindCodeReview, models.InputRef{Owner: "octocat"})
	assert.Error(t, err)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	hosting := &fakeHosting{started: make(chan struct{}), block: true}
	analyzer := &fakeAnalyzer{}
	storage := newMemStorage()
	o := newTestOrchestrator(hosting, analyzer, storage, fastPolicy())

	jobID, _, err := o.Submit(context.Background(), models.JobKindCodeReview, repoRef())
	require.NoError(t, err)

	select {
	case <-hosting.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	job, err := storage.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.FailureCancelled, job.Failure.Kind)
}
