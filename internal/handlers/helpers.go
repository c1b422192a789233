package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
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
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// WriteValidationError writes the 400 response listing every failed rule
func WriteValidationError(w http.ResponseWriter, details []string) error {
	return WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success": false,
		"error":   "Validation failed",
		"details": details,
	})
}

// WriteTaskError maps err to a status code and writes the failure body.
// targetKey names the request field echoed back, e.g. "profileUrl".
func WriteTaskError(w http.ResponseWriter, err error, targetKey, target string) error {
	body := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"retryable": models.IsRetryable(err),
	}
	if targetKey != "" {
		body[targetKey] = target
	}
	return WriteJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case models.KindOf(err) == models.ErrLoginFailed:
		return http.StatusUnauthorized
	case models.KindOf(err) == models.ErrAlreadyConnected, models.KindOf(err) == models.ErrAlreadyPending:
		return http.StatusConflict
	case models.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody unmarshals the request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pathParam returns the path segment following prefix, e.g. the job id of
// /connect/job-status/{id}. Trailing segments are kept.
func pathParam(r *http.Request, prefix string) string {
	return strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
