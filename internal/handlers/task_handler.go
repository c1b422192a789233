package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
)

var taskMessages = messages{
	"campaignId.required":         "campaignId is required and must be a string",
	"botId.required":              "botId is required and must be a string",
	"profileUrl.linkedin_profile": "profileUrl must be a valid LinkedIn profile URL",
}

type extractRequest struct {
	CampaignID string `json:"campaignId" validate:"required"`
	BotID      string `json:"botId" validate:"required"`
	Force      bool   `json:"force"`
}

type statusCheckRequest struct {
	BotID      string `json:"botId"`
	ProfileURL string `json:"profileUrl" validate:"omitempty,linkedin_profile"`
}

type inboxPollRequest struct {
	BotID string `json:"botId"`
}

// TaskHandler admits the account-level tasks: profile extraction, status checks
// and inbox polls. Each kind has its own queue.
type TaskHandler struct {
	extract admitter
	status  admitter
	inbox   admitter
}

// NewTaskHandler creates the /extract, /status-check and /inbox admission endpoints
func NewTaskHandler(extractQueue, statusQueue, inboxQueue *queue.BadgerQueue, accounts interfaces.AccountResolver, validator *RequestValidator, config AdmissionConfig, logger arbor.ILogger) *TaskHandler {
	mk := func(q *queue.BadgerQueue) admitter {
		return admitter{queue: q, accounts: accounts, validator: validator, config: config, logger: logger}
	}
	return &TaskHandler{extract: mk(extractQueue), status: mk(statusQueue), inbox: mk(inboxQueue)}
}

// ExtractProfilesHandler handles POST /extract/extract-profiles
func (h *TaskHandler) ExtractProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req extractRequest
	if !h.extract.parse(w, r, &req, func() string { return req.BotID }) {
		return
	}

	jobID := common.NewJobID("extract")
	payload := models.ExtractPayload{CampaignID: req.CampaignID, BotID: req.BotID, Force: req.Force, JobID: jobID}
	h.extract.admit(w, r, models.JobExtractProfiles, jobID, payload, "Profile extraction added to queue", map[string]interface{}{
		"campaignId": req.CampaignID,
		"botId":      req.BotID,
	})
}

// CheckProfilesHandler handles POST /status-check/check-profiles. A profileUrl
// checks that profile only; without one every profile of the account is swept.
func (h *TaskHandler) CheckProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req statusCheckRequest
	if !h.status.parse(w, r, &req, func() string { return req.BotID }) {
		return
	}

	jobID := common.NewJobID("status_check")
	payload := models.StatusCheckPayload{BotID: req.BotID, ProfileURL: req.ProfileURL, JobID: jobID}
	message := "Status sweep added to queue"
	if req.ProfileURL != "" {
		message = "Status check added to queue"
	}
	h.status.admit(w, r, models.JobCheckStatus, jobID, payload, message, map[string]interface{}{
		"botId":      req.BotID,
		"profileUrl": req.ProfileURL,
	})
}

// PollInboxHandler handles POST /inbox/poll
func (h *TaskHandler) PollInboxHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req inboxPollRequest
	if !h.inbox.parse(w, r, &req, func() string { return req.BotID }) {
		return
	}

	jobID := common.NewJobID("inbox_poll")
	payload := models.InboxPollPayload{BotID: req.BotID, JobID: jobID}
	h.inbox.admit(w, r, models.JobPollInbox, jobID, payload, "Inbox poll added to queue", map[string]interface{}{
		"botId": req.BotID,
	})
}

// parse decodes and validates req; botID is read after decoding
func (a *admitter) parse(w http.ResponseWriter, r *http.Request, req interface{}, botID func() string) bool {
	if err := decodeBody(r, req); err != nil {
		WriteValidationError(w, []string{"invalid request body: " + err.Error()})
		return false
	}
	details := a.validator.Check(req, taskMessages)
	if len(details) == 0 {
		details = a.checkAccount(botID())
	}
	if len(details) > 0 {
		WriteValidationError(w, details)
		return false
	}
	return true
}

// admit queues one job and writes the admission response with extra echoed fields
func (a *admitter) admit(w http.ResponseWriter, r *http.Request, jobName, jobID string, payload interface{}, message string, extra map[string]interface{}) {
	a.logger.Info().Str("queue", a.queue.Name()).Str("job_id", jobID).Msg("Adding job to queue")
	job, _, err := a.queue.Add(r.Context(), jobName, payload, queue.AddOptions{
		ID:       jobID,
		Attempts: a.config.DefaultAttempts,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("queue", a.queue.Name()).Msg("Failed to admit job")
		WriteTaskError(w, err, "jobId", jobID)
		return
	}

	body := map[string]interface{}{
		"success":       true,
		"jobId":         job.ID,
		"message":       message,
		"queuePosition": queuePosition(r, a.queue),
	}
	for k, v := range extra {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		body[k] = v
	}
	WriteJSON(w, http.StatusOK, body)
}
