package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
)

// Dispatch modes
const (
	DispatchQueue  = "queue"
	DispatchDirect = "direct"
)

// AccountLister returns the configured bot accounts
type AccountLister interface {
	All() []models.Account
}

// QueueLookup returns the queue of a job kind
type QueueLookup interface {
	Queue(kind string) (*queue.BadgerQueue, bool)
}

// Runners execute triggered kinds in-process when dispatch is direct
type Runners struct {
	Inbox interface {
		Poll(ctx context.Context, account models.Account) (*models.InboxPollResult, error)
	}
	Status interface {
		Sweep(ctx context.Context, account models.Account) (*models.StatusSweepResult, error)
	}
	Idle interface {
		Run(ctx context.Context, account models.Account, actions int) (*models.IdleResult, error)
	}
}

// Triggers turns a fired schedule into work for every configured account, either
// by admitting one job per account or by running the executor directly.
type Triggers struct {
	accounts    AccountLister
	queues      QueueLookup
	runners     Runners
	dispatch    string
	idleActions int
	logger      arbor.ILogger
}

// NewTriggers creates the trigger set; queues may be nil when dispatch is direct
func NewTriggers(accounts AccountLister, queues QueueLookup, runners Runners, dispatch string, idleActions int, logger arbor.ILogger) *Triggers {
	if dispatch == "" {
		dispatch = DispatchQueue
	}
	return &Triggers{
		accounts:    accounts,
		queues:      queues,
		runners:     runners,
		dispatch:    dispatch,
		idleActions: idleActions,
		logger:      logger,
	}
}

// InboxPoll polls the inbox of every account
func (t *Triggers) InboxPoll(ctx context.Context) error {
	return t.each(ctx, models.KindInboxPoll, models.JobPollInbox,
		func(a models.Account) interface{} { return models.InboxPollPayload{BotID: a.ID} },
		func(ctx context.Context, a models.Account) error {
			if t.runners.Inbox == nil {
				return errors.New("no inbox runner configured")
			}
			_, err := t.runners.Inbox.Poll(ctx, a)
			return err
		})
}

// StatusSweep checks the connection status of every profile of every account
func (t *Triggers) StatusSweep(ctx context.Context) error {
	return t.each(ctx, models.KindStatusCheck, models.JobCheckStatus,
		func(a models.Account) interface{} { return models.StatusCheckPayload{BotID: a.ID} },
		func(ctx context.Context, a models.Account) error {
			if t.runners.Status == nil {
				return errors.New("no status runner configured")
			}
			_, err := t.runners.Status.Sweep(ctx, a)
			return err
		})
}

// Idle runs the warm-up routine on every account
func (t *Triggers) Idle(ctx context.Context) error {
	return t.each(ctx, models.KindIdle, models.JobIdleBrowse,
		func(a models.Account) interface{} {
			return models.IdlePayload{BotID: a.ID, Actions: t.idleActions}
		},
		func(ctx context.Context, a models.Account) error {
			if t.runners.Idle == nil {
				return errors.New("no idle runner configured")
			}
			_, err := t.runners.Idle.Run(ctx, a, t.idleActions)
			return err
		})
}

// each dispatches kind for every account. Failures of one account do not stop the
// others; an authentication failure is logged like any other.
func (t *Triggers) each(ctx context.Context, kind, jobName string, payload func(models.Account) interface{}, run func(context.Context, models.Account) error) error {
	accounts := t.accounts.All()
	if len(accounts) == 0 {
		t.logger.Warn().Str("kind", kind).Msg("No accounts configured, trigger ignored")
		return nil
	}

	var errs []error
	for _, account := range accounts {
		var err error
		if t.dispatch == DispatchDirect {
			err = run(ctx, account)
		} else {
			err = t.admit(ctx, kind, jobName, account, payload(account))
		}
		if err != nil {
			t.logger.Warn().Err(err).Str("kind", kind).Str("account", account.ID).Msg("Scheduled dispatch failed")
			errs = append(errs, fmt.Errorf("%s: %w", account.ID, err))
		}
	}
	return errors.Join(errs...)
}

// admit queues one job for account unless one from an earlier trigger is still
// waiting, delayed or active
func (t *Triggers) admit(ctx context.Context, kind, jobName string, account models.Account, payload interface{}) error {
	if t.queues == nil {
		return fmt.Errorf("no queues available for %s", kind)
	}
	q, ok := t.queues.Queue(kind)
	if !ok {
		return fmt.Errorf("queue %s not registered", kind)
	}

	pending, err := t.pending(ctx, q, jobName, account.ID)
	if err != nil {
		return err
	}
	if pending != "" {
		t.logger.Info().
			Str("kind", kind).
			Str("account", account.ID).
			Str("job_id", pending).
			Msg("Previous scheduled job still pending, not admitting another")
		return nil
	}

	job, _, err := q.Add(ctx, jobName, payload, queue.AddOptions{ID: common.NewJobID(kind)})
	if err != nil {
		return err
	}
	t.logger.Info().Str("kind", kind).Str("account", account.ID).Str("job_id", job.ID).Msg("Scheduled job admitted")
	return nil
}

// pending returns the id of an unfinished job of jobName for botID, or ""
func (t *Triggers) pending(ctx context.Context, q *queue.BadgerQueue, jobName, botID string) (string, error) {
	for _, state := range []models.JobState{models.JobWaiting, models.JobDelayed, models.JobActive} {
		jobs, err := q.GetJobs(ctx, state)
		if err != nil {
			return "", err
		}
		for _, job := range jobs {
			if job.Name != jobName {
				continue
			}
			var owner struct {
				BotID string `json:"botId"`
			}
			if err := job.Decode(&owner); err == nil && owner.BotID == botID {
				return job.ID, nil
			}
		}
	}
	return "", nil
}

// RegisterTriggers registers the enabled schedules of config on s
func RegisterTriggers(s *Service, t *Triggers, config common.SchedulerConfig) error {
	type trigger struct {
		enabled     bool
		name        string
		schedule    string
		description string
		handler     Handler
	}
	triggers := []trigger{
		{config.InboxEnabled, models.KindInboxPoll, config.InboxSchedule, "Poll every account inbox for new messages", t.InboxPoll},
		{config.StatusCheckEnabled, models.KindStatusCheck, config.StatusCheckSchedule, "Check connection status and send first messages", t.StatusSweep},
		{config.IdleEnabled, models.KindIdle, config.IdleSchedule, "Browse the feed between real work", t.Idle},
	}
	for _, tr := range triggers {
		if !tr.enabled {
			continue
		}
		if err := s.RegisterJob(tr.name, tr.schedule, tr.description, tr.handler); err != nil {
			return err
		}
	}
	return nil
}
