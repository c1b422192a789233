package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobOptions_Backoff(t *testing.T) {
	opts := JobOptions{Attempts: 4, Backoff: Backoff{Type: "exponential", Delay: 2 * time.Second}}

	assert.Equal(t, 4, opts.MaxAttempts())
	assert.Equal(t, 2*time.Second, opts.BackoffFor(1))
	assert.Equal(t, 4*time.Second, opts.BackoffFor(2))
	assert.Equal(t, 8*time.Second, opts.BackoffFor(3))

	fixed := JobOptions{Backoff: Backoff{Type: "fixed", Delay: time.Second}}
	assert.Equal(t, 1, fixed.MaxAttempts())
	assert.Equal(t, time.Second, fixed.BackoffFor(3))
}

func TestTaskErrorClassification(t *testing.T) {
	rejected := NewTaskError(ErrActionRejected, "https://www.linkedin.com/in/a", "Send button is disabled - message may be empty", nil)
	wrapped := fmt.Errorf("connect job: %w", rejected)

	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsClientError(wrapped))
	assert.Equal(t, ErrActionRejected, KindOf(wrapped))

	timeout := NewTaskError(ErrNavigationTimeout, "t1", "navigation timed out", errors.New("deadline"))
	assert.True(t, IsRetryable(timeout))
	assert.False(t, IsClientError(timeout))
	assert.Equal(t, "navigation timed out: deadline", timeout.Error())

	assert.True(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))

	login := NewLoginFailed("primary", "https://www.linkedin.com/checkpoint")
	assert.True(t, login.IsAuth())
	assert.False(t, IsRetryable(login))
	assert.Contains(t, login.Error(), "Login failed. Current URL:")
}
