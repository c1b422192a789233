package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies task failures
type ErrorKind string

const (
	ErrLoginFailed        ErrorKind = "login_failed"
	ErrSessionUnconfirmed ErrorKind = "session_unconfirmed"
	ErrNavigationTimeout  ErrorKind = "navigation_timeout"
	ErrElementNotFound    ErrorKind = "element_not_found"
	ErrActionRejected     ErrorKind = "action_rejected"
	ErrAlreadyConnected   ErrorKind = "already_connected"
	ErrAlreadyPending     ErrorKind = "already_pending"
	ErrNotConnectable     ErrorKind = "not_connectable"
)

// TaskError is the typed failure of a task executor or of session acquisition
type TaskError struct {
	Kind      ErrorKind
	Target    string // Profile link, thread id or account the task was about
	Message   string
	Retryable bool
	Err       error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether the error came from session acquisition
func (e *TaskError) IsAuth() bool {
	return e.Kind == ErrLoginFailed || e.Kind == ErrSessionUnconfirmed
}

// clientKinds are failures caused by the request or the target's state, not by the service
var clientKinds = map[ErrorKind]bool{
	ErrActionRejected:   true,
	ErrAlreadyConnected: true,
	ErrAlreadyPending:   true,
	ErrNotConnectable:   true,
	ErrLoginFailed:      true,
}

// retryableKinds may succeed when attempted again later
var retryableKinds = map[ErrorKind]bool{
	ErrSessionUnconfirmed: true,
	ErrNavigationTimeout:  true,
	ErrElementNotFound:    true,
}

// NewTaskError builds a TaskError whose retryable flag follows its kind
func NewTaskError(kind ErrorKind, target, message string, err error) *TaskError {
	return &TaskError{
		Kind:      kind,
		Target:    target,
		Message:   message,
		Retryable: retryableKinds[kind],
		Err:       err,
	}
}

// NewLoginFailed reports rejected credentials without a recognizable challenge
func NewLoginFailed(account, currentURL string) *TaskError {
	return NewTaskError(ErrLoginFailed, account, "Login failed. Current URL: "+currentURL, nil)
}

// NewSessionUnconfirmed reports a missing post-login landmark
func NewSessionUnconfirmed(account string, err error) *TaskError {
	return NewTaskError(ErrSessionUnconfirmed, account, "session could not be confirmed", err)
}

// AsTaskError extracts a TaskError from err
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable reports whether retrying err may help. Untyped errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := AsTaskError(err); ok {
		return te.Retryable
	}
	return true
}

// IsClientError reports whether err should map to a 4xx response
func IsClientError(err error) bool {
	if te, ok := AsTaskError(err); ok {
		return clientKinds[te.Kind]
	}
	return false
}

// KindOf returns the error kind, or "" for untyped errors
func KindOf(err error) ErrorKind {
	if te, ok := AsTaskError(err); ok {
		return te.Kind
	}
	return ""
}
