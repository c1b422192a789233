// -----------------------------------------------------------------------
// InboxWorker - Polls the messaging inbox of one bot account
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// InboxExecutor polls an inbox
type InboxExecutor interface {
	Poll(ctx context.Context, account models.Account) (*models.InboxPollResult, error)
}

// InboxWorker consumes the inbox-poll queue
type InboxWorker struct {
	executor InboxExecutor
	accounts interfaces.AccountResolver
	logger   arbor.ILogger
}

var _ interfaces.TaskWorker = (*InboxWorker)(nil)

func NewInboxWorker(executor InboxExecutor, accounts interfaces.AccountResolver, logger arbor.ILogger) *InboxWorker {
	return &InboxWorker{executor: executor, accounts: accounts, logger: logger}
}

func (w *InboxWorker) Kind() string    { return models.KindInboxPoll }
func (w *InboxWorker) JobName() string { return models.JobPollInbox }

func (w *InboxWorker) Handle(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.InboxPollPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	account, err := resolveAccount(w.accounts, payload.BotID)
	if err != nil {
		return nil, err
	}

	w.logger.Info().Str("job_id", job.ID).Str("account", account.ID).Msg("Polling inbox")
	result, err := w.executor.Poll(ctx, account)
	if err != nil {
		return nil, err
	}
	return result, nil
}
