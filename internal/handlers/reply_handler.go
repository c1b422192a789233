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

var replyMessages = messages{
	"threadId.required": "threadId is required and must be a string",
	"message.required":  "message is required and must be a string",
	"message.notblank":  "message cannot be empty",
	"message.max":       "message too long (max 8000 characters)",
}

var bulkReplyMessages = messages{
	"threadId.required": "threadId is required and must be a string",
	"message.required":  "message is required and must be a non-empty string",
	"message.notblank":  "message is required and must be a non-empty string",
	"message.max":       "message too long (max 8000 characters)",
}

type replyRequest struct {
	ThreadID   string `json:"threadId" validate:"required"`
	Message    string `json:"message" validate:"required,notblank,max=8000"`
	BotID      string `json:"botId"`
	Priority   int    `json:"priority"`
	MaxRetries int    `json:"maxRetries"`
}

type bulkReplyItem struct {
	ThreadID string `json:"threadId" validate:"required"`
	Message  string `json:"message" validate:"required,notblank,max=8000"`
	BotID    string `json:"botId"`
}

type bulkReplyRequest struct {
	Replies      []bulkReplyItem `json:"replies"`
	DefaultBotID string          `json:"defaultBotId"`
}

// ReplyHandler admits replies to the reply queue
type ReplyHandler struct {
	admitter
}

// NewReplyHandler creates the /reply admission endpoints
func NewReplyHandler(q *queue.BadgerQueue, accounts interfaces.AccountResolver, validator *RequestValidator, config AdmissionConfig, logger arbor.ILogger) *ReplyHandler {
	return &ReplyHandler{admitter{queue: q, accounts: accounts, validator: validator, config: config, logger: logger}}
}

func (h *ReplyHandler) parse(w http.ResponseWriter, r *http.Request) (*replyRequest, bool) {
	var req replyRequest
	if err := decodeBody(r, &req); err != nil {
		WriteValidationError(w, []string{"invalid request body: " + err.Error()})
		return nil, false
	}
	details := h.validator.Check(&req, replyMessages)
	details = append(details, h.checkAccount(req.BotID)...)
	if len(details) > 0 {
		WriteValidationError(w, details)
		return nil, false
	}
	return &req, true
}

// SendReplyHandler handles POST /reply/send-reply
func (h *ReplyHandler) SendReplyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := h.parse(w, r)
	if !ok {
		return
	}

	jobID := common.NewJobID("reply")
	payload := models.ReplyPayload{
		ThreadID:    req.ThreadID,
		Message:     req.Message,
		BotID:       req.BotID,
		JobID:       jobID,
		RequestedAt: time.Now().UTC(),
	}

	h.logger.Info().Str("thread_id", req.ThreadID).Str("job_id", jobID).Msg("Adding reply to queue")
	job, _, err := h.queue.Add(r.Context(), models.JobSendReply, payload, queue.AddOptions{
		ID:       jobID,
		Priority: req.Priority,
		Attempts: h.config.DefaultAttempts,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Failed to admit reply")
		WriteTaskError(w, err, "threadId", req.ThreadID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"jobId":          job.ID,
		"message":        "Reply added to queue",
		"threadId":       req.ThreadID,
		"estimatedDelay": "10s - 1min",
		"queuePosition":  queuePosition(r, h.queue),
	})
}

// RetryReplyHandler handles POST /reply/retry-reply
func (h *ReplyHandler) RetryReplyHandler(w http.ResponseWriter, r *http.Request) {
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
	botID := req.BotID
	if botID == "" {
		botID = "default"
	}

	jobID := common.NewJobID("retry_reply")
	payload := models.ReplyPayload{
		ThreadID:    req.ThreadID,
		Message:     req.Message,
		BotID:       botID,
		JobID:       jobID,
		RequestedAt: time.Now().UTC(),
		IsRetry:     true,
		MaxRetries:  maxRetries,
	}

	h.logger.Info().Str("thread_id", req.ThreadID).Str("job_id", jobID).Msg("Adding high-priority reply retry to queue")
	job, _, err := h.queue.Add(r.Context(), models.JobSendReply, payload, queue.AddOptions{
		ID:       jobID,
		Priority: h.config.RetryPriority,
		Attempts: maxRetries,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Failed to admit reply retry")
		WriteTaskError(w, err, "threadId", req.ThreadID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"jobId":          job.ID,
		"message":        "Retry reply added to queue with high priority",
		"threadId":       req.ThreadID,
		"maxRetries":     maxRetries,
		"estimatedDelay": "10s - 1min",
	})
}

// BulkRepliesHandler handles POST /reply/bulk-replies
func (h *ReplyHandler) BulkRepliesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req bulkReplyRequest
	if err := decodeBody(r, &req); err != nil {
		WriteValidationError(w, []string{"invalid request body: " + err.Error()})
		return
	}
	if len(req.Replies) == 0 {
		WriteError(w, http.StatusBadRequest, "replies must be a non-empty array")
		return
	}
	if len(req.Replies) > h.config.MaxBulkReply {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d replies per bulk request", h.config.MaxBulkReply))
		return
	}
	if req.DefaultBotID == "" {
		req.DefaultBotID = "default"
	}
	if err := h.queue.IsReady(); err != nil {
		WriteTaskError(w, err, "", "")
		return
	}

	errs := make([]string, 0)
	entries := make([]queue.BulkEntry, 0, len(req.Replies))
	now := time.Now().UTC()
	for i, item := range req.Replies {
		if details := h.validator.Check(&item, bulkReplyMessages); len(details) > 0 {
			errs = append(errs, fmt.Sprintf("Reply %d: %s", i, details[0]))
			continue
		}
		botID := item.BotID
		if botID == "" {
			botID = req.DefaultBotID
		}
		if details := h.checkAccount(botID); len(details) > 0 {
			errs = append(errs, fmt.Sprintf("Reply %d: %s", i, details[0]))
			continue
		}

		jobID := common.NewBulkJobID("bulk_reply", i)
		entries = append(entries, queue.BulkEntry{
			Index: i,
			ID:    jobID,
			Name:  models.JobSendReply,
			Data: models.ReplyPayload{
				ThreadID:    item.ThreadID,
				Message:     item.Message,
				BotID:       botID,
				JobID:       jobID,
				RequestedAt: now,
				BulkRequest: true,
			},
			Attempts: h.config.DefaultAttempts,
		})
	}

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, result := range h.queue.AddBulk(r.Context(), entries, h.config.BulkReplyStagger) {
		if result.Err != nil {
			errs = append(errs, fmt.Sprintf("Reply %d: %s", result.Index, result.Err.Error()))
			continue
		}
		jobs = append(jobs, map[string]interface{}{
			"jobId":    result.Job.ID,
			"threadId": req.Replies[result.Index].ThreadID,
			"position": result.Index,
		})
	}

	h.logger.Info().
		Int("requested", len(req.Replies)).
		Int("queued", len(jobs)).
		Int("rejected", len(errs)).
		Msg("Bulk replies admitted")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"message":           fmt.Sprintf("%d replies added to queue", len(jobs)),
		"jobs":              jobs,
		"errors":            errs,
		"totalRequested":    len(req.Replies),
		"totalQueued":       len(jobs),
		"estimatedDuration": estimate(len(req.Replies), 0.25, 1),
	})
}
