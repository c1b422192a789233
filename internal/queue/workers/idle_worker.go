// -----------------------------------------------------------------------
// IdleWorker - Runs the feed warm-up routine between real work
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// IdleExecutor browses the feed
type IdleExecutor interface {
	Run(ctx context.Context, account models.Account, actions int) (*models.IdleResult, error)
}

// IdleWorker consumes the idle queue
type IdleWorker struct {
	executor IdleExecutor
	accounts interfaces.AccountResolver
	logger   arbor.ILogger
}

var _ interfaces.TaskWorker = (*IdleWorker)(nil)

func NewIdleWorker(executor IdleExecutor, accounts interfaces.AccountResolver, logger arbor.ILogger) *IdleWorker {
	return &IdleWorker{executor: executor, accounts: accounts, logger: logger}
}

func (w *IdleWorker) Kind() string    { return models.KindIdle }
func (w *IdleWorker) JobName() string { return models.JobIdleBrowse }

func (w *IdleWorker) Handle(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.IdlePayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	account, err := resolveAccount(w.accounts, payload.BotID)
	if err != nil {
		return nil, err
	}

	w.logger.Debug().Str("job_id", job.ID).Str("account", account.ID).Int("actions", payload.Actions).Msg("Starting idle routine")
	result, err := w.executor.Run(ctx, account, payload.Actions)
	if err != nil {
		return nil, err
	}
	return result, nil
}
