package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
)

// QueueHandler serves the endpoints every job kind shares: job status, queue
// statistics, clearing and health
type QueueHandler struct {
	queue   *queue.BadgerQueue
	prefix  string // Mount point, e.g. "/connect"
	service string // Display name reported by health
	logger  arbor.ILogger
}

// NewQueueHandler creates the shared endpoints of one queue mounted at prefix
func NewQueueHandler(q *queue.BadgerQueue, prefix, service string, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{queue: q, prefix: prefix, service: service, logger: logger}
}

// Prefix returns the mount point of the queue
func (h *QueueHandler) Prefix() string {
	return h.prefix
}

// JobStatusHandler handles GET <prefix>/job-status/{id}
func (h *QueueHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := pathParam(r, h.prefix+"/job-status/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.queue.GetJob(r.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		WriteJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "Job not found",
			"jobId":   jobID,
		})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job status")
		WriteTaskError(w, err, "jobId", jobID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"jobId":        job.ID,
		"state":        job.State,
		"progress":     job.Progress,
		"data":         job.Data,
		"createdAt":    job.CreatedAt,
		"processedAt":  job.ProcessedAt,
		"finishedAt":   job.FinishedAt,
		"failedReason": job.FailedReason,
		"returnValue":  job.ReturnValue,
		"attemptsMade": job.AttemptsMade,
		"retryable":    job.Retryable,
	})
}

// QueueStatsHandler handles GET <prefix>/queue-stats
func (h *QueueHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("queue", h.queue.Name()).Msg("Failed to get queue stats")
		WriteTaskError(w, err, "", "")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   counts,
	})
}

// ClearQueueHandler handles POST <prefix>/clear-queue with {type: waiting|failed|completed|all}
func (h *QueueHandler) ClearQueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Type string `json:"type"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteValidationError(w, []string{"invalid request body: " + err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = "waiting"
	}

	var states []models.JobState
	switch req.Type {
	case "waiting":
		states = []models.JobState{models.JobWaiting}
	case "failed":
		states = []models.JobState{models.JobFailed}
	case "completed":
		states = []models.JobState{models.JobCompleted}
	case "all":
		states = []models.JobState{models.JobCompleted, models.JobFailed, models.JobWaiting, models.JobDelayed}
	default:
		WriteError(w, http.StatusBadRequest, "Invalid type. Use: waiting, failed, completed, or all")
		return
	}

	removed, err := h.queue.Clean(r.Context(), states...)
	if err != nil {
		h.logger.Error().Err(err).Str("queue", h.queue.Name()).Str("type", req.Type).Msg("Failed to clear queue")
		WriteTaskError(w, err, "type", req.Type)
		return
	}

	var cleared interface{} = removed
	if req.Type == "all" {
		cleared = "all"
	}

	h.logger.Info().Str("queue", h.queue.Name()).Str("type", req.Type).Int("removed", removed).Msg("Queue cleared")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Cleared %v %s jobs from queue", cleared, req.Type),
		"type":    req.Type,
		"cleared": cleared,
	})
}

// HealthHandler handles GET <prefix>/health
func (h *QueueHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if err := h.queue.IsReady(); err != nil {
		WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": timestamp(),
			"service":   h.service,
			"error":     err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": timestamp(),
		"service":   h.service,
		"queue":     "connected",
	})
}

// queuePosition returns the number of jobs waiting ahead of a new admission
func queuePosition(r *http.Request, q *queue.BadgerQueue) int {
	counts, err := q.Counts(r.Context())
	if err != nil {
		return 0
	}
	return counts.Waiting
}
