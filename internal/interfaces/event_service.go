package interfaces

import (
	"context"

	"github.com/ternarybob/outreach/internal/models"
)

// JobEventHandler receives queue lifecycle events
type JobEventHandler func(ctx context.Context, event models.JobEvent) error

// EventService is the pub/sub bus for job events
type EventService interface {
	// Subscribe registers handler and returns an id used to unsubscribe
	Subscribe(handler JobEventHandler) (string, error)
	Unsubscribe(id string) error
	// Publish delivers asynchronously to every subscriber
	Publish(ctx context.Context, event models.JobEvent) error
	Close() error
}
