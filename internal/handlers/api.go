package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/queue"
)

// QueueSource lists the registered queues
type QueueSource interface {
	Kinds() []string
	Queue(kind string) (*queue.BadgerQueue, bool)
}

type APIHandler struct {
	queues QueueSource
	logger arbor.ILogger
}

func NewAPIHandler(queues QueueSource, logger arbor.ILogger) *APIHandler {
	return &APIHandler{queues: queues, logger: logger}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler reports healthy only when every queue accepts jobs
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	states := make(map[string]string)
	var failure error
	for _, kind := range h.queues.Kinds() {
		q, _ := h.queues.Queue(kind)
		if err := q.IsReady(); err != nil {
			states[kind] = "disconnected"
			if failure == nil {
				failure = err
			}
			continue
		}
		states[kind] = "connected"
	}

	if failure != nil {
		h.logger.Warn().Err(failure).Msg("Health check failed")
		WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": timestamp(),
			"service":   "LinkedIn Outreach API",
			"error":     failure.Error(),
			"queues":    states,
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": timestamp(),
		"service":   "LinkedIn Outreach API",
		"queue":     "connected",
		"queues":    states,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"success": false,
		"error":   "Not Found",
		"path":    r.URL.Path,
	})
}
