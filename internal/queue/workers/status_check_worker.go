// -----------------------------------------------------------------------
// StatusCheckWorker - Connection status checks, single profile or sweep
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// StatusExecutor checks connection status
type StatusExecutor interface {
	Check(ctx context.Context, account models.Account, profileURL string) (*models.StatusCheckResult, error)
	Sweep(ctx context.Context, account models.Account) (*models.StatusSweepResult, error)
}

// StatusCheckWorker consumes the status-check queue
type StatusCheckWorker struct {
	executor StatusExecutor
	accounts interfaces.AccountResolver
	logger   arbor.ILogger
}

var _ interfaces.TaskWorker = (*StatusCheckWorker)(nil)

// NewStatusCheckWorker creates a new status check worker
func NewStatusCheckWorker(executor StatusExecutor, accounts interfaces.AccountResolver, logger arbor.ILogger) *StatusCheckWorker {
	return &StatusCheckWorker{executor: executor, accounts: accounts, logger: logger}
}

func (w *StatusCheckWorker) Kind() string    { return models.KindStatusCheck }
func (w *StatusCheckWorker) JobName() string { return models.JobCheckStatus }

// Handle checks payload.ProfileURL when set, otherwise sweeps every profile of the account
func (w *StatusCheckWorker) Handle(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.StatusCheckPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	account, err := resolveAccount(w.accounts, payload.BotID)
	if err != nil {
		return nil, err
	}

	if payload.ProfileURL != "" {
		w.logger.Info().Str("job_id", job.ID).Str("account", account.ID).Str("profile", payload.ProfileURL).Msg("Checking connection status")
		result, err := w.executor.Check(ctx, account, payload.ProfileURL)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	w.logger.Info().Str("job_id", job.ID).Str("account", account.ID).Msg("Sweeping connection status")
	sweep, err := w.executor.Sweep(ctx, account)
	if err != nil {
		return nil, err
	}
	return sweep, nil
}
