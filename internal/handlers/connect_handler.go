package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
)

var connectMessages = messages{
	"profileUrl.required":         "profileUrl is required and must be a string",
	"profileUrl.linkedin_profile": "profileUrl must be a valid LinkedIn profile URL",
	"message.max":                 "message too long (max 300 characters for LinkedIn notes)",
}

var bulkConnectMessages = messages{
	"profileUrl.required":         "Invalid profile URL",
	"profileUrl.linkedin_profile": "Invalid profile URL",
	"message.max":                 "message too long (max 300 characters for LinkedIn notes)",
}

type connectRequest struct {
	ProfileURL string `json:"profileUrl" validate:"required,linkedin_profile"`
	Message    string `json:"message" validate:"max=300"`
	BotID      string `json:"botId"`
	Priority   int    `json:"priority"`
	MaxRetries int    `json:"maxRetries"`
}

type bulkConnectItem struct {
	ProfileURL string `json:"profileUrl" validate:"required,linkedin_profile"`
	Message    string `json:"message" validate:"max=300"`
}

type bulkConnectRequest struct {
	Connections    []bulkConnectItem `json:"connections"`
	DefaultMessage string            `json:"defaultMessage"`
	BotID          string            `json:"botId"`
}

// ConnectHandler admits connection requests to the connect queue
type ConnectHandler struct {
	admitter
}

// NewConnectHandler creates the /connect admission endpoints
func NewConnectHandler(q *queue.BadgerQueue, accounts interfaces.AccountResolver, validator *RequestValidator, config AdmissionConfig, logger arbor.ILogger) *ConnectHandler {
	return &ConnectHandler{admitter{queue: q, accounts: accounts, validator: validator, config: config, logger: logger}}
}

func (h *ConnectHandler) parse(w http.ResponseWriter, r *http.Request) (*connectRequest, bool) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		WriteValidationError(w, []string{"invalid request body: " + err.Error()})
		return nil, false
	}
	details := h.validator.Check(&req, connectMessages)
	details = append(details, h.checkAccount(req.BotID)...)
	if len(details) > 0 {
		WriteValidationError(w, details)
		return nil, false
	}
	return &req, true
}

// SendConnectRequestHandler handles POST /connect/send-connect-request
func (h *ConnectHandler) SendConnectRequestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := h.parse(w, r)
	if !ok {
		return
	}

	jobID := common.NewJobID("connect")
	payload := models.ConnectPayload{
		ProfileURL:  req.ProfileURL,
		Message:     req.Message,
		BotID:       req.BotID,
		JobID:       jobID,
		RequestedAt: time.Now().UTC(),
	}

	h.logger.Info().Str("profile_url", req.ProfileURL).Str("job_id", jobID).Msg("Adding connection request to queue")
	job, _, err := h.queue.Add(r.Context(), models.JobSendConnection, payload, queue.AddOptions{
		ID:       jobID,
		Priority: req.Priority,
		Attempts: h.config.DefaultAttempts,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("profile_url", req.ProfileURL).Msg("Failed to admit connection request")
		WriteTaskError(w, err, "profileUrl", req.ProfileURL)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"jobId":          job.ID,
		"message":        "Connection request added to queue",
		"profileUrl":     req.ProfileURL,
		"estimatedDelay": "30s - 2min",
		"queuePosition":  queuePosition(r, h.queue),
	})
}

// RetryConnectRequestHandler handles POST /connect/retry-connect-request
func (h *ConnectHandler) RetryConnectRequestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	maxRetries, details := h.maxRetries(req.MaxRetries)
	if len(details) > 0 {
		WriteValidationError(w, details)
		return
	}

	jobID := common.NewJobID("retry_connect")
	payload := models.ConnectPayload{
		ProfileURL:  req.ProfileURL,
		Message:     req.Message,
		BotID:       req.BotID,
		JobID:       jobID,
		RequestedAt: time.Now().UTC(),
		IsRetry:     true,
		MaxRetries:  maxRetries,
	}

	h.logger.Info().Str("profile_url", req.ProfileURL).Str("job_id", jobID).Msg("Adding high-priority connection retry to queue")
	job, _, err := h.queue.Add(r.Context(), models.JobSendConnection, payload, queue.AddOptions{
		ID:       jobID,
		Priority: h.config.RetryPriority,
		Attempts: maxRetries,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("profile_url", req.ProfileURL).Msg("Failed to admit connection retry")
		WriteTaskError(w, err, "profileUrl", req.ProfileURL)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"jobId":          job.ID,
		"message":        "Retry connection request added to queue with high priority",
		"profileUrl":     req.ProfileURL,
		"maxRetries":     maxRetries,
		"estimatedDelay": "30s - 2min",
	})
}

// BulkConnectRequestsHandler handles POST /connect/bulk-connect-requests.
// Invalid items are reported and skipped; the rest are staggered.
func (h *ConnectHandler) BulkConnectRequestsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req bulkConnectRequest
	if err := decodeBody(r, &req); err != nil {
		WriteValidationError(w, []string{"invalid request body: " + err.Error()})
		return
	}
	if len(req.Connections) == 0 {
		WriteError(w, http.StatusBadRequest, "connections must be a non-empty array")
		return
	}
	if len(req.Connections) > h.config.MaxBulkConnect {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d connections per bulk request", h.config.MaxBulkConnect))
		return
	}
	if details := h.checkAccount(req.BotID); len(details) > 0 {
		WriteValidationError(w, details)
		return
	}
	if err := h.queue.IsReady(); err != nil {
		WriteTaskError(w, err, "", "")
		return
	}

	errs := make([]string, 0)
	entries := make([]queue.BulkEntry, 0, len(req.Connections))
	now := time.Now().UTC()
	for i, item := range req.Connections {
		if details := h.validator.Check(&item, bulkConnectMessages); len(details) > 0 {
			errs = append(errs, fmt.Sprintf("Connection %d: %s", i, details[0]))
			continue
		}

		message := item.Message
		if message == "" {
			message = req.DefaultMessage
		}
		jobID := common.NewBulkJobID("bulk_connect", i)
		entries = append(entries, queue.BulkEntry{
			Index: i,
			ID:    jobID,
			Name:  models.JobSendConnection,
			Data: models.ConnectPayload{
				ProfileURL:  item.ProfileURL,
				Message:     message,
				BotID:       req.BotID,
				JobID:       jobID,
				RequestedAt: now,
				BulkRequest: true,
			},
			Attempts: h.config.DefaultAttempts,
		})
	}

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, result := range h.queue.AddBulk(r.Context(), entries, h.config.BulkConnectStagger) {
		if result.Err != nil {
			errs = append(errs, fmt.Sprintf("Connection %d: %s", result.Index, result.Err.Error()))
			continue
		}
		jobs = append(jobs, map[string]interface{}{
			"jobId":      result.Job.ID,
			"profileUrl": req.Connections[result.Index].ProfileURL,
			"position":   result.Index,
		})
	}

	h.logger.Info().
		Int("requested", len(req.Connections)).
		Int("queued", len(jobs)).
		Int("rejected", len(errs)).
		Msg("Bulk connection requests admitted")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"message":           fmt.Sprintf("%d connection requests added to queue", len(jobs)),
		"jobs":              jobs,
		"errors":            errs,
		"totalRequested":    len(req.Connections),
		"totalQueued":       len(jobs),
		"estimatedDuration": estimate(len(req.Connections), 0.5, 2),
	})
}
