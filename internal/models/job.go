package models

import (
	"fmt"
	"time"

	"github.com/repolens/repolens/internal/common"
)

// JobKind identifies the type of analysis a job performs
type JobKind string

const (
	JobKindCodeReview       JobKind = "code-review"
	JobKindDocumentation    JobKind = "documentation"
	JobKindBugDetection     JobKind = "bug-detection"
	JobKindFullRepoAnalysis JobKind = "full-repo-analysis"
)

// Valid reports whether the kind is one of the supported analysis kinds
func (k JobKind) Valid() bool {
	switch k {
	case JobKindCodeReview, JobKindDocumentation, JobKindBugDetection, JobKindFullRepoAnalysis:
		return true
	default:
		return false
	}
}

// SubAnalysisKinds returns the child analyses a full-repo-analysis job runs,
// in execution order.
func SubAnalysisKinds() []JobKind {
	return []JobKind{JobKindCodeReview, JobKindDocumentation, JobKindBugDetection}
}

// JobStatus represents the lifecycle state of an analysis job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusFetching  JobStatus = "fetching"
	JobStatusAnalyzing JobStatus = "analyzing"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// validTransitions is the job lifecycle graph. A job may fail from any
// non-terminal state; it may only succeed from analyzing. Terminal states
// have no outgoing edges.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusFetching, JobStatusFailed},
	JobStatusFetching:  {JobStatusAnalyzing, JobStatusFailed},
	JobStatusAnalyzing: {JobStatusSucceeded, JobStatusFailed},
	JobStatusSucceeded: {},
	JobStatusFailed:    {},
}

// AnalysisJob tracks one analysis request through its lifecycle. A job in a
// terminal state carries exactly one of Result or Failure, never both.
type AnalysisJob struct {
	ID       string   `json:"id" badgerhold:"key"`
	ParentID string   `json:"parent_id,omitempty" badgerholdIndex:"ParentID"`
	Kind     JobKind  `json:"kind"`
	InputRef InputRef `json:"input_ref"`

	// DedupKey is the canonical (kind, input ref) identity used for
	// in-flight deduplication queries.
	DedupKey string `json:"dedup_key" badgerholdIndex:"DedupKey"`

	Status  JobStatus         `json:"status" badgerholdIndex:"Status"`
	Result  map[string]string `json:"result,omitempty"` // Section name -> analysis text
	Failure *Failure          `json:"failure,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupKeyFor returns the canonical deduplication key for a kind and ref
func DedupKeyFor(kind JobKind, ref InputRef) string {
	return string(kind) + "|" + ref.String()
}

// NewAnalysisJob creates a pending job for the given kind and input ref
func NewAnalysisJob(kind JobKind, ref InputRef) *AnalysisJob {
	now := time.Now()
	return &AnalysisJob{
		ID:        common.NewJobID(),
		Kind:      kind,
		InputRef:  ref,
		DedupKey:  DedupKeyFor(kind, ref),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewChildJob creates a pending child job under a full-repo-analysis parent
func NewChildJob(parent *AnalysisJob, kind JobKind) *AnalysisJob {
	child := NewAnalysisJob(kind, parent.InputRef)
	child.ParentID = parent.ID
	return child
}

// TransitionTo moves the job to the given status, enforcing the lifecycle
// graph. Transitions out of terminal states are rejected.
func (j *AnalysisJob) TransitionTo(status JobStatus) error {
	for _, next := range validTransitions[j.Status] {
		if next == status {
			j.Status = status
			j.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid job transition: %s -> %s", j.Status, status)
}

// MarkSucceeded moves the job to succeeded with the given result sections.
// The result must be non-empty and the job must be analyzing.
func (j *AnalysisJob) MarkSucceeded(result map[string]string) error {
	if len(result) == 0 {
		return fmt.Errorf("cannot mark job succeeded without a result")
	}
	if err := j.TransitionTo(JobStatusSucceeded); err != nil {
		return err
	}
	j.Result = result
	j.Failure = nil
	return nil
}

// MarkFailed moves the job to failed with the given failure descriptor.
// Allowed from any non-terminal state.
func (j *AnalysisJob) MarkFailed(failure *Failure) error {
	if failure == nil {
		return fmt.Errorf("cannot mark job failed without a failure")
	}
	if err := j.TransitionTo(JobStatusFailed); err != nil {
		return err
	}
	j.Failure = failure
	j.Result = nil
	return nil
}

// IsTerminal reports whether the job has reached a final state
func (j *AnalysisJob) IsTerminal() bool {
	return j.Status.Terminal()
}

// Validate checks structural invariants on the job record
func (j *AnalysisJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("invalid job kind: %s", j.Kind)
	}
	if err := j.InputRef.Validate(); err != nil {
		return err
	}
	if j.Result != nil && j.Failure != nil {
		return fmt.Errorf("job %s carries both result and failure", j.ID)
	}
	if j.Status == JobStatusSucceeded && j.Result == nil {
		return fmt.Errorf("succeeded job %s has no result", j.ID)
	}
	if j.Status == JobStatusFailed && j.Failure == nil {
		return fmt.Errorf("failed job %s has no failure", j.ID)
	}
	if !j.Status.Terminal() && (j.Result != nil || j.Failure != nil) {
		return fmt.Errorf("non-terminal job %s carries a terminal outcome", j.ID)
	}
	return nil
}
