package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/sheetporter/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
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

// StatusForError maps a worker error kind to its HTTP status
func StatusForError(err error) int {
	switch models.KindOf(err) {
	case models.KindAuthHeader:
		return http.StatusUnauthorized
	case models.KindValidation, models.KindEmptySource:
		return http.StatusBadRequest
	case models.KindSourceAccess:
		return http.StatusForbidden
	case models.KindSourceNotFound, models.KindJobNotFound, models.KindUnknownMapping:
		return http.StatusNotFound
	case models.KindConcurrentJob:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteWorkerError writes err with the status for its kind. Validation errors also list the fields.
func WriteWorkerError(w http.ResponseWriter, err error) error {
	status := StatusForError(err)
	body := map[string]interface{}{
		"status": "error",
		"error":  err.Error(),
	}
	if kind := models.KindOf(err); kind != "" {
		body["kind"] = kind
	}

	var we *models.WorkerError
	if errors.As(err, &we) && len(we.Fields) > 0 {
		body["fields"] = we.Fields
	}
	if status == http.StatusInternalServerError && models.KindOf(err) == "" {
		body["error"] = "Internal server error"
	}
	return WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON body into v. Malformed bodies become validation errors.
func DecodeJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return models.NewValidationError("failed to read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return models.NewValidationError("Invalid JSON body: " + err.Error())
	}
	return nil
}

// PathParam returns the path segment that follows prefix, or "" when absent.
// "/api/jobs/status/abc" with prefix "/api/jobs/status/" yields "abc".
func PathParam(r *http.Request, prefix string) string {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == r.URL.Path {
		return ""
	}
	id, _, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	return id
}

// QueryInt reads a positive integer query parameter, returning fallback when absent or invalid
func QueryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
