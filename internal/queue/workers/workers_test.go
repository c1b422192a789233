package workers

import (
	"context"
	"encoding/json"
	"sync"
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

type fakeReplier struct {
	mu       sync.Mutex
	accounts []models.Account
	payloads []models.ReplyPayload
}

func (f *fakeReplier) Send(ctx context.Context, account models.Account, payload models.ReplyPayload) (*models.ReplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, account)
	f.payloads = append(f.payloads, payload)
	return &models.ReplyResult{Success: true, ThreadID: payload.ThreadID, MessageSent: true}, nil
}

type fakeStatus struct {
	mu     sync.Mutex
	checks []string
	sweeps int
}

func (f *fakeStatus) Check(ctx context.Context, account models.Account, profileURL string) (*models.StatusCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, profileURL)
	return &models.StatusCheckResult{ProfileURL: profileURL, ConnectionStatus: models.StatusPending, IsPending: true}, nil
}

func (f *fakeStatus) Sweep(ctx context.Context, account models.Account) (*models.StatusSweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return &models.StatusSweepResult{Summary: models.StatusSweepSummary{Total: 2}}, nil
}

func newManager(t *testing.T) *queue.Manager {
	t.Helper()
	db, err := store.OpenAt(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	config := queue.NewDefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	return queue.NewManager(db.Badger(), config, nil, arbor.NewNoOpLogger())
}

func testAccounts() *common.AccountRegistry {
	return common.NewAccountRegistry("primary",
		models.Account{ID: "primary", Email: "a@example.com", Password: "one"},
		models.Account{ID: "second", Email: "b@example.com", Password: "two"},
	)
}

func waitFor(t *testing.T, q *queue.BadgerQueue, id string) *models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := q.WaitForJob(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	return job
}

func TestReplyWorkerResolvesAccountAndCarriesJobID(t *testing.T) {
	manager := newManager(t)
	replier := &fakeReplier{}
	require.NoError(t, Register(manager, NewReplyWorker(replier, testAccounts(), arbor.NewNoOpLogger())))
	require.NoError(t, manager.Start())
	t.Cleanup(func() { manager.Stop(context.Background()) })

	q, ok := manager.Queue(models.KindReply)
	require.True(t, ok)

	ctx := context.Background()
	_, _, err := q.Add(ctx, models.JobSendReply, models.ReplyPayload{ThreadID: "2-abc", Message: "Hi", BotID: "b@example.com_two"}, queue.AddOptions{ID: "reply_1_x"})
	require.NoError(t, err)
	_, _, err = q.Add(ctx, models.JobSendReply, models.ReplyPayload{ThreadID: "2-def", Message: "Hi"}, queue.AddOptions{ID: "reply_2_x"})
	require.NoError(t, err)

	assert.Equal(t, models.JobCompleted, waitFor(t, q, "reply_1_x").State)
	job := waitFor(t, q, "reply_2_x")
	assert.Equal(t, models.JobCompleted, job.State)
	var result models.ReplyResult
	require.NoError(t, json.Unmarshal(job.ReturnValue, &result))
	assert.Equal(t, "2-def", result.ThreadID)
	assert.True(t, result.MessageSent)

	replier.mu.Lock()
	defer replier.mu.Unlock()
	require.Len(t, replier.payloads, 2)
	byThread := make(map[string]string)
	jobIDs := make(map[string]string)
	for i, p := range replier.payloads {
		byThread[p.ThreadID] = replier.accounts[i].ID
		jobIDs[p.ThreadID] = p.JobID
	}
	assert.Equal(t, map[string]string{"2-abc": "second", "2-def": "primary"}, byThread)
	assert.Equal(t, map[string]string{"2-abc": "reply_1_x", "2-def": "reply_2_x"}, jobIDs)
}

func TestUnknownAccountFailsWithoutRetry(t *testing.T) {
	manager := newManager(t)
	replier := &fakeReplier{}
	require.NoError(t, Register(manager, NewReplyWorker(replier, testAccounts(), arbor.NewNoOpLogger())))
	require.NoError(t, manager.Start())
	t.Cleanup(func() { manager.Stop(context.Background()) })

	q, _ := manager.Queue(models.KindReply)
	_, _, err := q.Add(context.Background(), models.JobSendReply, models.ReplyPayload{ThreadID: "2-abc", BotID: "ghost"}, queue.AddOptions{ID: "reply_3_x", Attempts: 3})
	require.NoError(t, err)

	job := waitFor(t, q, "reply_3_x")
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.False(t, job.Retryable)
	assert.Contains(t, job.FailedReason, "unknown bot account")
	assert.Empty(t, replier.payloads)
}

func TestMalformedPayloadFailsWithoutRetry(t *testing.T) {
	worker := NewReplyWorker(&fakeReplier{}, testAccounts(), arbor.NewNoOpLogger())
	_, err := worker.Handle(context.Background(), &models.Job{ID: "reply_4_x", Data: []byte(`{"threadId": 42}`)})
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err))
}

func TestStatusCheckWorkerChoosesSingleOrSweep(t *testing.T) {
	status := &fakeStatus{}
	worker := NewStatusCheckWorker(status, testAccounts(), arbor.NewNoOpLogger())
	ctx := context.Background()

	single, err := worker.Handle(ctx, &models.Job{ID: "s1", Data: []byte(`{"profileUrl":"https://www.linkedin.com/in/jane"}`)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, single.(*models.StatusCheckResult).ConnectionStatus)

	sweep, err := worker.Handle(ctx, &models.Job{ID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.(*models.StatusSweepResult).Summary.Total)

	assert.Equal(t, []string{"https://www.linkedin.com/in/jane"}, status.checks)
	assert.Equal(t, 1, status.sweeps)
}

func TestWorkersDeclareTheirQueues(t *testing.T) {
	accounts := testAccounts()
	logger := arbor.NewNoOpLogger()
	manager := newManager(t)

	require.NoError(t, Register(manager,
		NewConnectWorker(nil, accounts, logger),
		NewReplyWorker(nil, accounts, logger),
		NewStatusCheckWorker(nil, accounts, logger),
		NewInboxWorker(nil, accounts, logger),
		NewExtractWorker(nil, accounts, logger),
		NewIdleWorker(nil, accounts, logger),
	))
	assert.Equal(t, []string{
		models.KindConnect, models.KindExtract, models.KindIdle,
		models.KindInboxPoll, models.KindReply, models.KindStatusCheck,
	}, manager.Kinds())
}
