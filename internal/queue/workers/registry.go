// -----------------------------------------------------------------------
// Worker registry - binds every task worker to its queue
// -----------------------------------------------------------------------

package workers

import (
	"bytes"
	"fmt"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
)

// Register creates the queue of every worker and registers its handler.
// Queues are created on first registration, so kinds without a worker have no queue.
func Register(manager *queue.Manager, workers ...interfaces.TaskWorker) error {
	for _, w := range workers {
		if _, err := manager.Register(w.Kind(), w.JobName(), w.Handle); err != nil {
			return fmt.Errorf("failed to register %s worker: %w", w.Kind(), err)
		}
	}
	return nil
}

// decodePayload unmarshals the job data into v. A malformed payload will never
// succeed, so the error is not retryable.
func decodePayload(job *models.Job, v interface{}) error {
	if len(bytes.TrimSpace(job.Data)) == 0 {
		return nil
	}
	if err := job.Decode(v); err != nil {
		return &models.TaskError{Target: job.ID, Message: "invalid job payload", Err: err}
	}
	return nil
}

// resolveAccount maps the payload botId to an account; unknown ids fail without retry
func resolveAccount(accounts interfaces.AccountResolver, botID string) (models.Account, error) {
	account, err := accounts.Resolve(botID)
	if err != nil {
		return models.Account{}, &models.TaskError{Target: botID, Message: "unknown bot account", Err: err}
	}
	return account, nil
}
