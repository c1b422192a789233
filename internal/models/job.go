package models

import (
	"encoding/json"
	"time"
)

// JobState is the delivery state of a queued job
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStates lists every state in display order
var JobStates = []JobState{JobWaiting, JobDelayed, JobActive, JobCompleted, JobFailed}

// Job kinds, one queue each
const (
	KindConnect     = "connect"
	KindReply       = "reply"
	KindStatusCheck = "status-check"
	KindInboxPoll   = "inbox-poll"
	KindExtract     = "extract"
	KindIdle        = "idle"
)

// Job names registered on the queues
const (
	JobSendConnection  = "send-connection"
	JobSendReply       = "send-reply"
	JobCheckStatus     = "check-status"
	JobPollInbox       = "poll-inbox"
	JobExtractProfiles = "extract-profiles"
	JobIdleBrowse      = "idle-browse"
)

// Backoff describes the retry delay policy of a job
type Backoff struct {
	Type  string        `json:"type"` // "exponential" or "fixed"
	Delay time.Duration `json:"delay"`
}

// JobOptions are fixed at admission
type JobOptions struct {
	Priority int           `json:"priority"` // Higher is served first
	Delay    time.Duration `json:"delay"`
	Attempts int           `json:"attempts"` // 0 or 1 = single try
	Backoff  Backoff       `json:"backoff"`
}

// MaxAttempts returns the total number of tries allowed
func (o JobOptions) MaxAttempts() int {
	if o.Attempts < 1 {
		return 1
	}
	return o.Attempts
}

// BackoffFor returns the delay before the next try after attemptsMade failures
func (o JobOptions) BackoffFor(attemptsMade int) time.Duration {
	if o.Backoff.Delay <= 0 {
		return 0
	}
	if o.Backoff.Type == "fixed" || attemptsMade < 1 {
		return o.Backoff.Delay
	}
	d := o.Backoff.Delay
	for i := 1; i < attemptsMade; i++ {
		d *= 2
	}
	return d
}

// Job is a queued unit of work
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Options      JobOptions      `json:"opts"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	Progress     int             `json:"progress"`
	CreatedAt    time.Time       `json:"createdAt"`
	ReadyAt      time.Time       `json:"readyAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	LockedUntil  *time.Time      `json:"lockedUntil,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	FailureKind  ErrorKind       `json:"failureKind,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	ReturnValue  json.RawMessage `json:"returnValue,omitempty"`
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Data, v)
}

// JobCounts is the number of jobs per state in one queue
type JobCounts struct {
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Add increments the counter for state
func (c *JobCounts) Add(state JobState, n int) {
	switch state {
	case JobWaiting:
		c.Waiting += n
	case JobDelayed:
		c.Delayed += n
	case JobActive:
		c.Active += n
	case JobCompleted:
		c.Completed += n
	case JobFailed:
		c.Failed += n
	}
	c.Total += n
}

// JobEventType is the lifecycle transition carried by a JobEvent
type JobEventType string

const (
	JobEventAdded     JobEventType = "added"
	JobEventActive    JobEventType = "active"
	JobEventProgress  JobEventType = "progress"
	JobEventCompleted JobEventType = "completed"
	JobEventRetrying  JobEventType = "retrying"
	JobEventFailed    JobEventType = "failed"
	JobEventStalled   JobEventType = "stalled"
	JobEventCleaned   JobEventType = "cleaned"
)

// JobEvent is published for every queue transition
type JobEvent struct {
	Type      JobEventType `json:"type"`
	Queue     string       `json:"queue"`
	JobID     string       `json:"jobId,omitempty"`
	State     JobState     `json:"state,omitempty"`
	Progress  int          `json:"progress,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Count     int          `json:"count,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
