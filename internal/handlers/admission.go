package handlers

import (
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/queue"
)

// AdmissionConfig controls how HTTP requests become jobs
type AdmissionConfig struct {
	DefaultAttempts    int
	BulkConnectStagger time.Duration
	BulkReplyStagger   time.Duration
	MaxBulkConnect     int
	MaxBulkReply       int
	RetryPriority      int
	DefaultMaxRetries  int
}

// AdmissionConfigFrom maps the [queue] section of the service configuration
func AdmissionConfigFrom(c common.QueueConfig) AdmissionConfig {
	config := AdmissionConfig{
		DefaultAttempts:    c.DefaultAttempts,
		BulkConnectStagger: common.ParseDuration(c.BulkConnectStagger, 30*time.Second),
		BulkReplyStagger:   common.ParseDuration(c.BulkReplyStagger, 15*time.Second),
		MaxBulkConnect:     c.MaxBulkConnect,
		MaxBulkReply:       c.MaxBulkReply,
		RetryPriority:      c.RetryPriority,
		DefaultMaxRetries:  c.DefaultMaxRetries,
	}
	if config.MaxBulkConnect <= 0 {
		config.MaxBulkConnect = 100
	}
	if config.MaxBulkReply <= 0 {
		config.MaxBulkReply = 50
	}
	if config.RetryPriority == 0 {
		config.RetryPriority = 10
	}
	if config.DefaultMaxRetries <= 0 {
		config.DefaultMaxRetries = 3
	}
	return config
}

// admitter holds what every admitting handler needs
type admitter struct {
	queue     *queue.BadgerQueue
	accounts  interfaces.AccountResolver
	validator *RequestValidator
	config    AdmissionConfig
	logger    arbor.ILogger
}

// checkAccount reports a validation detail when botID names no configured account
func (a *admitter) checkAccount(botID string) []string {
	if a.accounts == nil {
		return nil
	}
	if _, err := a.accounts.Resolve(botID); err != nil {
		return []string{fmt.Sprintf("botId %q does not match a configured account", botID)}
	}
	return nil
}

// maxRetries applies the default and returns a detail when out of range
func (a *admitter) maxRetries(requested int) (int, []string) {
	if requested == 0 {
		return a.config.DefaultMaxRetries, nil
	}
	if requested < 0 || requested > 10 {
		return 0, []string{"maxRetries must be between 1 and 10"}
	}
	return requested, nil
}

// estimate renders "<ceil(n*low)> - <ceil(n*high)> minutes"
func estimate(n int, low, high float64) string {
	return fmt.Sprintf("%d - %d minutes",
		int(math.Ceil(float64(n)*low)),
		int(math.Ceil(float64(n)*high)))
}
