// -----------------------------------------------------------------------
// ReplyWorker - Answers message threads from the reply queue
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// ReplyExecutor sends one reply
type ReplyExecutor interface {
	Send(ctx context.Context, account models.Account, payload models.ReplyPayload) (*models.ReplyResult, error)
}

// ReplyWorker consumes the reply queue
type ReplyWorker struct {
	executor ReplyExecutor
	accounts interfaces.AccountResolver
	logger   arbor.ILogger
}

var _ interfaces.TaskWorker = (*ReplyWorker)(nil)

// NewReplyWorker creates a new reply worker
func NewReplyWorker(executor ReplyExecutor, accounts interfaces.AccountResolver, logger arbor.ILogger) *ReplyWorker {
	return &ReplyWorker{executor: executor, accounts: accounts, logger: logger}
}

func (w *ReplyWorker) Kind() string    { return models.KindReply }
func (w *ReplyWorker) JobName() string { return models.JobSendReply }

// Handle sends the reply. The job id is the guard against a second send of the
// same job, so it always travels with the payload.
func (w *ReplyWorker) Handle(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.ReplyPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.JobID == "" {
		payload.JobID = job.ID
	}

	account, err := resolveAccount(w.accounts, payload.BotID)
	if err != nil {
		return nil, err
	}

	w.logger.Info().
		Str("job_id", job.ID).
		Str("account", account.ID).
		Str("thread", payload.ThreadID).
		Int("attempt", job.AttemptsMade+1).
		Msg("Processing reply")

	result, err := w.executor.Send(ctx, account, payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}
