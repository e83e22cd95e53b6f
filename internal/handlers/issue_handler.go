package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// IssueHandler files tracker issues from a terminal job's findings
type IssueHandler struct {
	storage interfaces.JobStorage
	hosting interfaces.HostingClient
	logger  arbor.ILogger
}

func NewIssueHandler(storage interfaces.JobStorage, hosting interfaces.HostingClient, logger arbor.ILogger) *IssueHandler {
	return &IssueHandler{
		storage: storage,
		hosting: hosting,
		logger:  logger,
	}
}

type createIssueRequest struct {
	JobID string `json:"job_id" validate:"required"`
	Title string `json:"title"` // Defaults to a title derived from the job
}

// CreateIssueHandler handles POST /api/issues. The issue body is built from
// the referenced job's outcome, so only terminal jobs are accepted.
func (h *IssueHandler) CreateIssueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	job, err := h.storage.GetJob(r.Context(), req.JobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if !job.IsTerminal() {
		WriteError(w, http.StatusConflict,
			fmt.Sprintf("job %s is %s; issues can only be filed from terminal jobs", job.ID, job.Status))
		return
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("%s findings for %s", titleFor(job.Kind), job.InputRef.String())
	}

	issue, err := h.hosting.CreateIssue(r.Context(), job.InputRef, title, issueBody(job))
	if err != nil {
		WriteFailure(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Int("issue_number", issue.Number).
		Str("issue_url", issue.URL).
		Msg("Issue created from job")

	WriteJSON(w, http.StatusCreated, issue)
}

// issueBody renders a terminal job's outcome as issue markdown
func issueBody(job *models.AnalysisJob) string {
	if job.Status == models.JobStatusFailed {
		return fmt.Sprintf("Analysis `%s` (%s) failed.\n\n**Failure kind:** %s\n\n**Message:** %s\n",
			job.ID, job.Kind, job.Failure.Kind, job.Failure.Message)
	}
	return buildReportMarkdown(job)
}
