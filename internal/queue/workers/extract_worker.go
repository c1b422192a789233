// -----------------------------------------------------------------------
// ExtractWorker - Profile field extraction for campaign bot accounts
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// ExtractExecutor extracts the profiles of a campaign bot account
type ExtractExecutor interface {
	Extract(ctx context.Context, account models.Account, payload models.ExtractPayload) (*models.ExtractResult, error)
}

// ExtractWorker consumes the extract queue
type ExtractWorker struct {
	executor ExtractExecutor
	accounts interfaces.AccountResolver
	logger   arbor.ILogger
}

var _ interfaces.TaskWorker = (*ExtractWorker)(nil)

// NewExtractWorker creates a new extract worker
func NewExtractWorker(executor ExtractExecutor, accounts interfaces.AccountResolver, logger arbor.ILogger) *ExtractWorker {
	return &ExtractWorker{executor: executor, accounts: accounts, logger: logger}
}

func (w *ExtractWorker) Kind() string    { return models.KindExtract }
func (w *ExtractWorker) JobName() string { return models.JobExtractProfiles }

func (w *ExtractWorker) Handle(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.ExtractPayload
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
		Str("campaign", payload.CampaignID).
		Bool("force", payload.Force).
		Msg("Extracting profiles")

	result, err := w.executor.Extract(ctx, account, payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}
