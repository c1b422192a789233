package queue

import (
	"time"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
)

// Config holds configuration shared by every job queue
type Config struct {
	// PollInterval is how often workers look for ready jobs
	PollInterval time.Duration

	// Concurrency is the number of workers per queue. Browser work is serial per queue.
	Concurrency int

	// LockDuration is how long an active job is owned before it is considered stalled.
	// Workers renew the lock while the handler runs.
	LockDuration time.Duration

	// KeepCompleted and KeepFailed bound the retained history per queue
	KeepCompleted int
	KeepFailed    int

	// Backoff applies to jobs admitted without an explicit backoff
	Backoff models.Backoff
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:  1 * time.Second,
		Concurrency:   1,
		LockDuration:  5 * time.Minute,
		KeepCompleted: 10,
		KeepFailed:    50,
		Backoff:       models.Backoff{Type: "exponential", Delay: 2 * time.Second},
	}
}

// ConfigFrom maps the [queue] section of the service configuration
func ConfigFrom(c common.QueueConfig) Config {
	config := NewDefaultConfig()
	config.PollInterval = common.ParseDuration(c.PollInterval, config.PollInterval)
	config.LockDuration = common.ParseDuration(c.LockDuration, config.LockDuration)
	if c.KeepCompleted > 0 {
		config.KeepCompleted = c.KeepCompleted
	}
	if c.KeepFailed > 0 {
		config.KeepFailed = c.KeepFailed
	}
	config.Backoff.Delay = common.ParseDuration(c.BackoffDelay, config.Backoff.Delay)
	return config
}
