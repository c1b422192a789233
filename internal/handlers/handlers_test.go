package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
	store "github.com/ternarybob/outreach/internal/storage/badger"
)

type fixture struct {
	manager  *queue.Manager
	accounts *common.AccountRegistry
	config   AdmissionConfig
	connect  *ConnectHandler
	reply    *ReplyHandler
	tasks    *TaskHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenAt(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := arbor.NewNoOpLogger()
	manager := queue.NewManager(db.Badger(), queue.NewDefaultConfig(), nil, logger)
	noop := func(ctx context.Context, job *models.Job) (interface{}, error) { return nil, nil }
	for kind, name := range map[string]string{
		models.KindConnect:     models.JobSendConnection,
		models.KindReply:       models.JobSendReply,
		models.KindExtract:     models.JobExtractProfiles,
		models.KindStatusCheck: models.JobCheckStatus,
		models.KindInboxPoll:   models.JobPollInbox,
	} {
		_, err := manager.Register(kind, name, noop)
		require.NoError(t, err)
	}

	accounts := common.NewAccountRegistry("primary",
		models.Account{ID: "primary", Email: "a@example.com", Password: "one", CampaignID: "c1"},
		models.Account{ID: "second", Email: "b@example.com", Password: "two"},
	)
	config := AdmissionConfigFrom(common.NewDefaultConfig().Queue)
	validator := NewRequestValidator()

	f := &fixture{manager: manager, accounts: accounts, config: config}
	f.connect = NewConnectHandler(f.queue(t, models.KindConnect), accounts, validator, config, logger)
	f.reply = NewReplyHandler(f.queue(t, models.KindReply), accounts, validator, config, logger)
	f.tasks = NewTaskHandler(f.queue(t, models.KindExtract), f.queue(t, models.KindStatusCheck), f.queue(t, models.KindInboxPoll), accounts, validator, config, logger)
	return f
}

func (f *fixture) queue(t *testing.T, kind string) *queue.BadgerQueue {
	q, ok := f.manager.Queue(kind)
	require.True(t, ok)
	return q
}

func post(t *testing.T, handler http.HandlerFunc, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec, decode(t, rec)
}

func get(t *testing.T, handler http.HandlerFunc, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec, decode(t, rec)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSendConnectRequestAdmitsJob(t *testing.T) {
	f := newFixture(t)
	rec, body := post(t, f.connect.SendConnectRequestHandler, "/connect/send-connect-request",
		`{"profileUrl":"https://www.linkedin.com/in/jane-doe","message":"Hi Jane","botId":"second"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Connection request added to queue", body["message"])
	assert.Equal(t, "30s - 2min", body["estimatedDelay"])
	assert.Equal(t, float64(1), body["queuePosition"])

	jobID := body["jobId"].(string)
	assert.True(t, strings.HasPrefix(jobID, "connect_"))

	job, err := f.queue(t, models.KindConnect).GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, job.State)
	var payload models.ConnectPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "https://www.linkedin.com/in/jane-doe", payload.ProfileURL)
	assert.Equal(t, "second", payload.BotID)
	assert.Equal(t, jobID, payload.JobID)
}

func TestSendConnectRequestValidation(t *testing.T) {
	f := newFixture(t)

	rec, body := post(t, f.connect.SendConnectRequestHandler, "/connect/send-connect-request",
		`{"message":"`+strings.Repeat("x", 301)+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Validation failed", body["error"])
	assert.ElementsMatch(t, []interface{}{
		"profileUrl is required and must be a string",
		"message too long (max 300 characters for LinkedIn notes)",
	}, body["details"])

	rec, body = post(t, f.connect.SendConnectRequestHandler, "/connect/send-connect-request",
		`{"profileUrl":"https://example.com/jane"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []interface{}{"profileUrl must be a valid LinkedIn profile URL"}, body["details"])

	rec, body = post(t, f.connect.SendConnectRequestHandler, "/connect/send-connect-request",
		`{"profileUrl":"https://www.linkedin.com/in/jane","botId":"ghost"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["details"].([]interface{})[0], "ghost")

	rec, _ = post(t, f.connect.SendConnectRequestHandler, "/connect/send-connect-request", `{"profileUrl":42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	counts, err := f.queue(t, models.KindConnect).Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestBulkConnectStaggersValidItems(t *testing.T) {
	f := newFixture(t)
	rec, body := post(t, f.connect.BulkConnectRequestsHandler, "/connect/bulk-connect-requests", `{
		"connections": [
			{"profileUrl":"https://www.linkedin.com/in/a"},
			{"profileUrl":"https://example.com/b"},
			{"profileUrl":"https://www.linkedin.com/in/c","message":"Custom"}
		],
		"defaultMessage": "Hello"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2 connection requests added to queue", body["message"])
	assert.Equal(t, []interface{}{"Connection 1: Invalid profile URL"}, body["errors"])
	assert.Equal(t, float64(3), body["totalRequested"])
	assert.Equal(t, float64(2), body["totalQueued"])
	assert.Equal(t, "2 - 6 minutes", body["estimatedDuration"])

	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, 2)
	last := jobs[1].(map[string]interface{})
	assert.Equal(t, float64(2), last["position"])
	assert.True(t, strings.HasPrefix(last["jobId"].(string), "bulk_connect_"))

	q := f.queue(t, models.KindConnect)
	first, err := q.GetJob(context.Background(), jobs[0].(map[string]interface{})["jobId"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, first.State)
	var payload models.ConnectPayload
	require.NoError(t, first.Decode(&payload))
	assert.Equal(t, "Hello", payload.Message)
	assert.True(t, payload.BulkRequest)

	third, err := q.GetJob(context.Background(), last["jobId"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.JobDelayed, third.State)
	assert.Equal(t, 60*time.Second, third.Options.Delay)
	assert.Equal(t, -2, third.Options.Priority)
	require.NoError(t, third.Decode(&payload))
	assert.Equal(t, "Custom", payload.Message)
}

func TestBulkConnectRejectsBadBatches(t *testing.T) {
	f := newFixture(t)

	rec, body := post(t, f.connect.BulkConnectRequestsHandler, "/connect/bulk-connect-requests", `{"connections":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "connections must be a non-empty array", body["error"])

	items := make([]string, 101)
	for i := range items {
		items[i] = `{"profileUrl":"https://www.linkedin.com/in/p"}`
	}
	rec, body = post(t, f.connect.BulkConnectRequestsHandler, "/connect/bulk-connect-requests",
		`{"connections":[`+strings.Join(items, ",")+`]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Maximum 100 connections per bulk request", body["error"])
}

func TestRetryConnectUsesHighPriority(t *testing.T) {
	f := newFixture(t)
	rec, body := post(t, f.connect.RetryConnectRequestHandler, "/connect/retry-connect-request",
		`{"profileUrl":"https://www.linkedin.com/in/jane"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["maxRetries"])

	jobID := body["jobId"].(string)
	assert.True(t, strings.HasPrefix(jobID, "retry_connect_"))
	job, err := f.queue(t, models.KindConnect).GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 10, job.Options.Priority)
	assert.Equal(t, 3, job.Options.Attempts)

	rec, body = post(t, f.connect.RetryConnectRequestHandler, "/connect/retry-connect-request",
		`{"profileUrl":"https://www.linkedin.com/in/jane","maxRetries":11}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []interface{}{"maxRetries must be between 1 and 10"}, body["details"])
}

func TestSendReplyValidation(t *testing.T) {
	f := newFixture(t)

	rec, body := post(t, f.reply.SendReplyHandler, "/reply/send-reply", `{"threadId":"2-abc","message":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []interface{}{"message cannot be empty"}, body["details"])

	rec, body = post(t, f.reply.SendReplyHandler, "/reply/send-reply", `{"message":"`+strings.Repeat("y", 8001)+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.ElementsMatch(t, []interface{}{
		"threadId is required and must be a string",
		"message too long (max 8000 characters)",
	}, body["details"])

	rec, body = post(t, f.reply.SendReplyHandler, "/reply/send-reply", `{"threadId":"2-abc","message":"Thanks!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Reply added to queue", body["message"])
	assert.Equal(t, "2-abc", body["threadId"])
	assert.Equal(t, "10s - 1min", body["estimatedDelay"])
	assert.True(t, strings.HasPrefix(body["jobId"].(string), "reply_"))
}

func TestBulkRepliesReportsPerItem(t *testing.T) {
	f := newFixture(t)
	rec, body := post(t, f.reply.BulkRepliesHandler, "/reply/bulk-replies", `{
		"replies": [
			{"threadId":"2-a","message":"One"},
			{"threadId":"2-b","message":"Two","botId":"ghost"},
			{"threadId":"2-c","message":""},
			{"threadId":"2-d","message":"Four","botId":"second"}
		]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2 replies added to queue", body["message"])
	assert.Equal(t, "1 - 4 minutes", body["estimatedDuration"])
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0].(string), "Reply 1: "))
	assert.Equal(t, "Reply 2: message is required and must be a non-empty string", errs[1])

	jobs := body["jobs"].([]interface{})
	require.Len(t, jobs, 2)
	job, err := f.queue(t, models.KindReply).GetJob(context.Background(), jobs[0].(map[string]interface{})["jobId"].(string))
	require.NoError(t, err)
	var payload models.ReplyPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "default", payload.BotID)

	job, err = f.queue(t, models.KindReply).GetJob(context.Background(), jobs[1].(map[string]interface{})["jobId"].(string))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, job.Options.Delay)
}

func TestRetryReplyDefaultsBotID(t *testing.T) {
	f := newFixture(t)
	rec, body := post(t, f.reply.RetryReplyHandler, "/reply/retry-reply", `{"threadId":"2-abc","message":"Again","maxRetries":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Retry reply added to queue with high priority", body["message"])

	job, err := f.queue(t, models.KindReply).GetJob(context.Background(), body["jobId"].(string))
	require.NoError(t, err)
	assert.Equal(t, 5, job.Options.Attempts)
	assert.Equal(t, 10, job.Options.Priority)
	var payload models.ReplyPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "default", payload.BotID)
	assert.True(t, payload.IsRetry)
}

func TestTaskAdmissions(t *testing.T) {
	f := newFixture(t)

	rec, body := post(t, f.tasks.ExtractProfilesHandler, "/extract/extract-profiles", `{"botId":"primary"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []interface{}{"campaignId is required and must be a string"}, body["details"])

	rec, body = post(t, f.tasks.ExtractProfilesHandler, "/extract/extract-profiles", `{"campaignId":"c1","botId":"primary","force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", body["campaignId"])
	job, err := f.queue(t, models.KindExtract).GetJob(context.Background(), body["jobId"].(string))
	require.NoError(t, err)
	var extract models.ExtractPayload
	require.NoError(t, job.Decode(&extract))
	assert.True(t, extract.Force)
	assert.Equal(t, models.JobExtractProfiles, job.Name)

	rec, body = post(t, f.tasks.CheckProfilesHandler, "/status-check/check-profiles", `{"profileUrl":"https://www.linkedin.com/in/jane"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Status check added to queue", body["message"])
	assert.NotContains(t, body, "botId")

	rec, body = post(t, f.tasks.CheckProfilesHandler, "/status-check/check-profiles", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Status sweep added to queue", body["message"])

	rec, body = post(t, f.tasks.PollInboxHandler, "/inbox/poll", `{"botId":"second"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(body["jobId"].(string), "inbox_poll_"))
}

func TestJobStatus(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, models.KindConnect)
	h := NewQueueHandler(q, "/connect", "LinkedIn Connect Request Bot", arbor.NewNoOpLogger())

	rec, body := get(t, h.JobStatusHandler, "/connect/job-status/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", body["error"])
	assert.Equal(t, "missing", body["jobId"])

	_, _, err := q.Add(context.Background(), models.JobSendConnection,
		models.ConnectPayload{ProfileURL: "https://www.linkedin.com/in/jane"}, queue.AddOptions{ID: "connect_1_abc"})
	require.NoError(t, err)

	rec, body = get(t, h.JobStatusHandler, "/connect/job-status/connect_1_abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "waiting", body["state"])
	assert.Equal(t, "https://www.linkedin.com/in/jane", body["data"].(map[string]interface{})["profileUrl"])
	assert.Nil(t, body["processedAt"])
	assert.Nil(t, body["finishedAt"])
	assert.Equal(t, float64(0), body["attemptsMade"])
}

func TestQueueStatsAndClear(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, models.KindReply)
	h := NewQueueHandler(q, "/reply", "LinkedIn Reply Bot", arbor.NewNoOpLogger())
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		_, _, err := q.Add(ctx, models.JobSendReply, models.ReplyPayload{ThreadID: id}, queue.AddOptions{ID: id})
		require.NoError(t, err)
	}
	_, _, err := q.Add(ctx, models.JobSendReply, models.ReplyPayload{ThreadID: "r3"}, queue.AddOptions{ID: "r3", Delay: time.Hour})
	require.NoError(t, err)

	rec, body := get(t, h.QueueStatsHandler, "/reply/queue-stats")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["waiting"])
	assert.Equal(t, float64(1), stats["delayed"])
	assert.Equal(t, float64(3), stats["total"])

	rec, body = post(t, h.ClearQueueHandler, "/reply/clear-queue", `{"type":"everything"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type. Use: waiting, failed, completed, or all", body["error"])

	rec, body = post(t, h.ClearQueueHandler, "/reply/clear-queue", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cleared 2 waiting jobs from queue", body["message"])
	assert.Equal(t, float64(2), body["cleared"])

	rec, body = post(t, h.ClearQueueHandler, "/reply/clear-queue", `{"type":"all"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all", body["cleared"])
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestClosedQueueRejectsAdmission(t *testing.T) {
	f := newFixture(t)
	q := f.queue(t, models.KindConnect)
	q.Close()

	rec, body := post(t, f.connect.SendConnectRequestHandler, "/connect/send-connect-request",
		`{"profileUrl":"https://www.linkedin.com/in/jane"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "https://www.linkedin.com/in/jane", body["profileUrl"])
	assert.NotEmpty(t, body["timestamp"])

	rec, _ = post(t, f.connect.BulkConnectRequestsHandler, "/connect/bulk-connect-requests",
		`{"connections":[{"profileUrl":"https://www.linkedin.com/in/jane"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h := NewQueueHandler(q, "/connect", "LinkedIn Connect Request Bot", arbor.NewNoOpLogger())
	rec, body = get(t, h.HealthHandler, "/connect/health")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])

	api := NewAPIHandler(f.manager, arbor.NewNoOpLogger())
	rec, body = get(t, api.HealthHandler, "/health")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "disconnected", body["queues"].(map[string]interface{})[models.KindConnect])
	assert.Equal(t, "connected", body["queues"].(map[string]interface{})[models.KindReply])
}

func TestHealthy(t *testing.T) {
	f := newFixture(t)
	h := NewQueueHandler(f.queue(t, models.KindReply), "/reply", "LinkedIn Reply Bot", arbor.NewNoOpLogger())

	rec, body := get(t, h.HealthHandler, "/reply/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["queue"])
	assert.Equal(t, "LinkedIn Reply Bot", body["service"])

	rec, body = get(t, NewAPIHandler(f.manager, arbor.NewNoOpLogger()).HealthHandler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["queues"], 5)
}

func TestWriteTaskErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{queue.ErrQueueClosed, http.StatusServiceUnavailable},
		{models.NewLoginFailed("primary", "https://www.linkedin.com/checkpoint"), http.StatusUnauthorized},
		{models.NewTaskError(models.ErrAlreadyPending, "jane", "Connection request already pending", nil), http.StatusConflict},
		{models.NewTaskError(models.ErrActionRejected, "jane", "Send button disabled", nil), http.StatusUnprocessableEntity},
		{models.NewTaskError(models.ErrElementNotFound, "jane", "Connect button not found", nil), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteTaskError(rec, c.err, "profileUrl", "jane"))
		assert.Equal(t, c.status, rec.Code, c.err.Error())
	}
}
