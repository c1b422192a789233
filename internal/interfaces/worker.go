package interfaces

import (
	"context"

	"github.com/ternarybob/outreach/internal/models"
)

// TaskWorker executes the jobs of one queue
type TaskWorker interface {
	// Kind is the queue the worker consumes
	Kind() string

	// JobName is the job name the worker is registered for
	JobName() string

	// Handle runs one job and returns the value stored as its result
	Handle(ctx context.Context, job *models.Job) (interface{}, error)
}

// AccountResolver maps the botId of a payload to a configured account
type AccountResolver interface {
	Resolve(botID string) (models.Account, error)
}
