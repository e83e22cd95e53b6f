package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/repolens/repolens/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteFailure maps a typed failure onto an HTTP status and writes it. The
// failure kind, not the message, determines the status code.
func WriteFailure(w http.ResponseWriter, err error) error {
	failure := models.FailureFrom(err)

	var status int
	switch failure.Kind {
	case models.FailureNotFound:
		status = http.StatusNotFound
	case models.FailureAuth:
		status = http.StatusForbidden
	case models.FailureRateLimited:
		status = http.StatusTooManyRequests
	case models.FailureCancelled:
		status = http.StatusConflict
	case models.FailureQuotaExceeded, models.FailureTransientNetwork, models.FailureInvalidResponse:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	return WriteJSON(w, status, map[string]string{
		"status": "error",
		"kind":   string(failure.Kind),
		"error":  failure.Message,
	})
}
