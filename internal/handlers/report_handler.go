package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// ReportHandler renders a succeeded job's analysis result as a standalone
// HTML report, or raw markdown with ?format=markdown.
type ReportHandler struct {
	storage  interfaces.JobStorage
	markdown goldmark.Markdown
	logger   arbor.ILogger
}

func NewReportHandler(storage interfaces.JobStorage, logger arbor.ILogger) *ReportHandler {
	return &ReportHandler{
		storage: storage,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		logger: logger,
	}
}

// GetReportHandler handles GET /api/jobs/{id}/report
func (h *ReportHandler) GetReportHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.storage.GetJob(r.Context(), jobID)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	if job.Status != models.JobStatusSucceeded {
		WriteError(w, http.StatusConflict,
			fmt.Sprintf("job %s is %s; reports are only available for succeeded jobs", jobID, job.Status))
		return
	}

	source := buildReportMarkdown(job)

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(source))
		return
	}

	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(source), &buf); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Markdown conversion failed")
		WriteError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// buildReportMarkdown assembles a job's result sections into one markdown
// document, sections in stable order.
func buildReportMarkdown(job *models.AnalysisJob) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s: %s\n\n", titleFor(job.Kind), job.InputRef.String())

	names := make([]string, 0, len(job.Result))
	for name := range job.Result {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", strings.ReplaceAll(name, "_", " "), job.Result[name])
	}

	return strings.TrimSpace(b.String())
}

func titleFor(kind models.JobKind) string {
	switch kind {
	case models.JobKindCodeReview:
		return "Code Review"
	case models.JobKindDocumentation:
		return "Documentation"
	case models.JobKindBugDetection:
		return "Bug Detection"
	case models.JobKindFullRepoAnalysis:
		return "Repository Analysis"
	default:
		return string(kind)
	}
}
