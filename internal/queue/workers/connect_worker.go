// -----------------------------------------------------------------------
// ConnectWorker - Sends queued connection requests
// -----------------------------------------------------------------------

package workers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// ConnectExecutor sends one connection request
type ConnectExecutor interface {
	Send(ctx context.Context, account models.Account, payload models.ConnectPayload) (*models.ConnectResult, error)
}

// ConnectWorker consumes the connect queue
type ConnectWorker struct {
	executor ConnectExecutor
	accounts interfaces.AccountResolver
	logger   arbor.ILogger
}

// Compile-time assertion: ConnectWorker implements TaskWorker interface
var _ interfaces.TaskWorker = (*ConnectWorker)(nil)

// NewConnectWorker creates a new connect worker
func NewConnectWorker(executor ConnectExecutor, accounts interfaces.AccountResolver, logger arbor.ILogger) *ConnectWorker {
	return &ConnectWorker{executor: executor, accounts: accounts, logger: logger}
}

func (w *ConnectWorker) Kind() string    { return models.KindConnect }
func (w *ConnectWorker) JobName() string { return models.JobSendConnection }

// Handle decodes the request, resolves the bot account and sends the request
func (w *ConnectWorker) Handle(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.ConnectPayload
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
		Str("profile", payload.ProfileURL).
		Int("attempt", job.AttemptsMade+1).
		Bool("bulk", payload.BulkRequest).
		Bool("retry", payload.IsRetry).
		Msg("Processing connection request")

	result, err := w.executor.Send(ctx, account, payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}
