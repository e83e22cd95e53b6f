package server

import (
	"net/http"
	"strings"

	"github.com/repolens/repolens/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetJobStatsHandler)
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - Issues
	mux.HandleFunc("/api/issues", s.requireAuth(s.app.IssueHandler.CreateIssueHandler))

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute dispatches /api/jobs by method: POST submits, GET lists
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.requireAuth(s.app.JobHandler.CreateJobHandler)(w, r)
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	default:
		handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if rest == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	jobID := parts[0]

	if len(parts) == 1 {
		// GET /api/jobs/{id}
		s.app.JobHandler.GetJobHandler(w, r, jobID)
		return
	}

	switch parts[1] {
	case "cancel":
		// POST /api/jobs/{id}/cancel
		s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
			s.app.JobHandler.CancelJobHandler(w, r, jobID)
		})(w, r)
	case "report":
		// GET /api/jobs/{id}/report
		s.app.ReportHandler.GetReportHandler(w, r, jobID)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
