package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
	"github.com/ternarybob/outreach/internal/services/pacing"
	store "github.com/ternarybob/outreach/internal/storage/badger"
)

func TestExecuteJobSkipsWhileRunning(t *testing.T) {
	s := NewService(arbor.NewNoOpLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	require.NoError(t, s.RegisterJob("inbox-poll", "0 */1 * * *", "poll", func(ctx context.Context) error {
		calls++
		close(started)
		<-release
		return nil
	}))

	done := make(chan bool)
	go func() { done <- s.executeJob("inbox-poll") }()
	<-started

	assert.False(t, s.executeJob("inbox-poll"))
	status, err := s.GetJobStatus("inbox-poll")
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.Equal(t, 1, status.Skipped)

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, 1, calls)

	status, err = s.GetJobStatus("inbox-poll")
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.NotNil(t, status.LastRun)
	assert.Empty(t, status.LastError)
}

func TestStopWaitsForRunningJobAndDropsLaterTriggers(t *testing.T) {
	s := NewService(arbor.NewNoOpLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	require.NoError(t, s.RegisterJob("status-check", "0 */1 * * *", "", func(ctx context.Context) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}))
	require.NoError(t, s.Start())

	require.NoError(t, s.TriggerJob("status-check"))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return s.TriggerJob("status-check") != nil }, time.Second, 5*time.Millisecond)
	assert.False(t, s.executeJob("status-check"))

	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was running")
	default:
	}

	close(release)
	require.NoError(t, <-stopped)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestExecuteJobRecordsErrorsAndPanics(t *testing.T) {
	s := NewService(arbor.NewNoOpLogger())
	require.NoError(t, s.RegisterJob("failing", "*/5 * * * *", "", func(ctx context.Context) error {
		return errors.New("inbox unreachable")
	}))
	require.NoError(t, s.RegisterJob("panicking", "*/5 * * * *", "", func(ctx context.Context) error {
		panic("boom")
	}))

	assert.True(t, s.executeJob("failing"))
	assert.False(t, s.executeJob("panicking"))

	statuses := s.GetAllJobStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "inbox unreachable", statuses[0].LastError)
	assert.Equal(t, "panic: boom", statuses[1].LastError)
	assert.False(t, statuses[1].IsRunning)
}

func TestExecuteJobWaitsJitter(t *testing.T) {
	sleeper := &pacing.RecordingSleeper{}
	s := NewService(arbor.NewNoOpLogger(),
		WithJitter(2*time.Minute),
		WithSleeper(sleeper),
		WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, s.RegisterJob("idle", "30 */3 * * *", "", func(ctx context.Context) error { return nil }))

	assert.True(t, s.executeJob("idle"))
	calls := sleeper.Calls()
	require.Len(t, calls, 1)
	assert.Less(t, calls[0], 2*time.Minute)
}

func TestRegisterJobRejectsBadSchedule(t *testing.T) {
	s := NewService(arbor.NewNoOpLogger())
	assert.Error(t, s.RegisterJob("bad", "every hour", "", func(ctx context.Context) error { return nil }))

	require.NoError(t, s.RegisterJob("ok", "*/1 * * * *", "", func(ctx context.Context) error { return nil }))
	assert.Error(t, s.RegisterJob("ok", "*/1 * * * *", "", func(ctx context.Context) error { return nil }))
}

func TestRegisterTriggersHonoursEnabledFlags(t *testing.T) {
	s := NewService(arbor.NewNoOpLogger())
	config := common.NewDefaultConfig().Scheduler
	triggers := NewTriggers(common.NewAccountRegistry("primary"), nil, Runners{}, DispatchDirect, 5, arbor.NewNoOpLogger())

	require.NoError(t, RegisterTriggers(s, triggers, config))
	statuses := s.GetAllJobStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, models.KindInboxPoll, statuses[0].Name)
	assert.Equal(t, "0 */1 * * *", statuses[0].Schedule)
}

type fakeInbox struct {
	mu       sync.Mutex
	accounts []string
}

func (f *fakeInbox) Poll(ctx context.Context, account models.Account) (*models.InboxPollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, account.ID)
	if account.ID == "broken" {
		return nil, models.NewLoginFailed(account.ID, "https://www.linkedin.com/checkpoint")
	}
	return &models.InboxPollResult{}, nil
}

func accounts() *common.AccountRegistry {
	return common.NewAccountRegistry("primary",
		models.Account{ID: "primary", Email: "a@example.com", Password: "one"},
		models.Account{ID: "broken", Email: "b@example.com", Password: "two"},
	)
}

func TestDirectDispatchRunsEveryAccount(t *testing.T) {
	inbox := &fakeInbox{}
	triggers := NewTriggers(accounts(), nil, Runners{Inbox: inbox}, DispatchDirect, 0, arbor.NewNoOpLogger())

	err := triggers.InboxPoll(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrLoginFailed, models.KindOf(err))
	assert.ElementsMatch(t, []string{"primary", "broken"}, inbox.accounts)
}

func TestQueueDispatchAdmitsOncePerAccount(t *testing.T) {
	db, err := store.OpenAt(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	manager := queue.NewManager(db.Badger(), queue.NewDefaultConfig(), nil, arbor.NewNoOpLogger())
	_, err = manager.Register(models.KindInboxPoll, models.JobPollInbox, func(ctx context.Context, job *models.Job) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)

	triggers := NewTriggers(accounts(), manager, Runners{}, DispatchQueue, 0, arbor.NewNoOpLogger())
	ctx := context.Background()
	require.NoError(t, triggers.InboxPoll(ctx))
	require.NoError(t, triggers.InboxPoll(ctx))

	q, _ := manager.Queue(models.KindInboxPoll)
	waiting, err := q.GetJobs(ctx, models.JobWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)

	owners := make([]string, 0, len(waiting))
	for _, job := range waiting {
		var payload models.InboxPollPayload
		require.NoError(t, job.Decode(&payload))
		owners = append(owners, payload.BotID)
		assert.Contains(t, job.ID, "inbox-poll_")
	}
	assert.ElementsMatch(t, []string{"primary", "broken"}, owners)
}
