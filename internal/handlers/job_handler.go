package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

var validate = validator.New()

// JobHandler serves the analysis job API: submission, status, listing, and
// cancellation.
type JobHandler struct {
	orchestrator interfaces.JobOrchestrator
	storage      interfaces.JobStorage
	logger       arbor.ILogger
}

func NewJobHandler(orchestrator interfaces.JobOrchestrator, storage interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		storage:      storage,
		logger:       logger,
	}
}

// createJobRequest accepts either a repo_url or explicit owner/repo fields.
// Path narrows the analysis to a single file; revision pins a branch, tag, or
// commit.
type createJobRequest struct {
	Kind     string `json:"kind" validate:"required"`
	RepoURL  string `json:"repo_url" validate:"omitempty,url"`
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Path     string `json:"path"`
	Revision string `json:"revision"`
}

func (req *createJobRequest) inputRef() (models.InputRef, error) {
	if req.RepoURL != "" {
		ref, err := models.ParseRepoURL(req.RepoURL)
		if err != nil {
			return models.InputRef{}, err
		}
		ref.Path = req.Path
		ref.Revision = req.Revision
		return ref, nil
	}

	ref := models.InputRef{
		Owner:    req.Owner,
		Repo:     req.Repo,
		Path:     req.Path,
		Revision: req.Revision,
	}
	return ref, ref.Validate()
}

// CreateJobHandler handles POST /api/jobs. Submissions are asynchronous: the
// response carries the job ID and whether the request coalesced onto an
// already in-flight job for the same analysis.
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	kind := models.JobKind(req.Kind)
	if !kind.Valid() {
		WriteError(w, http.StatusBadRequest, "unknown analysis kind: "+req.Kind)
		return
	}

	ref, err := req.inputRef()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, coalesced, err := h.orchestrator.Submit(r.Context(), kind, ref)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("kind", string(kind)).
		Str("input", ref.String()).
		Bool("coalesced", coalesced).
		Msg("Job submitted")

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    jobID,
		"coalesced": coalesced,
	})
}

// GetJobHandler handles GET /api/jobs/{id}. Full-repo-analysis jobs include
// their child jobs in the response.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.storage.GetJob(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	response := map[string]interface{}{
		"job": job,
	}

	if job.Kind == models.JobKindFullRepoAnalysis {
		children, err := h.storage.ListJobs(r.Context(), &interfaces.JobListOptions{ParentID: job.ID})
		if err != nil {
			WriteFailure(w, err)
			return
		}
		response["children"] = children
	}

	WriteJSON(w, http.StatusOK, response)
}

// ListJobsHandler handles GET /api/jobs with optional status, kind, limit,
// and offset query parameters.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{Limit: 100}

	query := r.URL.Query()
	if status := query.Get("status"); status != "" {
		opts.Status = models.JobStatus(status)
	}
	if kind := query.Get("kind"); kind != "" {
		opts.Kind = models.JobKind(kind)
	}
	if limit := query.Get("limit"); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil && val > 0 {
			opts.Limit = val
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if val, err := strconv.Atoi(offset); err == nil && val >= 0 {
			opts.Offset = val
		}
	}

	jobs, err := h.storage.ListJobs(r.Context(), opts)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobStatsHandler handles GET /api/jobs/stats
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	total, err := h.storage.CountJobs(r.Context())
	if err != nil {
		WriteFailure(w, err)
		return
	}

	byStatus := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusFetching,
		models.JobStatusAnalyzing,
		models.JobStatusSucceeded,
		models.JobStatusFailed,
	} {
		count, err := h.storage.CountJobsByStatus(r.Context(), status)
		if err != nil {
			WriteFailure(w, err)
			return
		}
		byStatus[string(status)] = count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"by_status": byStatus,
	})
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.orchestrator.Cancel(jobID); err != nil {
		WriteFailure(w, err)
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")

	WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}
