package models

import "time"

// ConnectPayload is the job data of a connection request
type ConnectPayload struct {
	ProfileURL  string    `json:"profileUrl"`
	Message     string    `json:"message,omitempty"`
	BotID       string    `json:"botId,omitempty"` // Account routing id
	JobID       string    `json:"jobId"`
	RequestedAt time.Time `json:"requestedAt"`
	BulkRequest bool      `json:"bulkRequest,omitempty"`
	IsRetry     bool      `json:"isRetry,omitempty"`
	MaxRetries  int       `json:"maxRetries,omitempty"`
}

// ConnectResult is returned by the connect executor
type ConnectResult struct {
	Success      bool      `json:"success"`
	ProfileURL   string    `json:"profileUrl"`
	NoteIncluded bool      `json:"noteIncluded"`
	Skipped      bool      `json:"skipped,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReplyPayload is the job data of a reply
type ReplyPayload struct {
	ThreadID    string    `json:"threadId"`
	Message     string    `json:"message"`
	BotID       string    `json:"botId,omitempty"`
	JobID       string    `json:"jobId"`
	RequestedAt time.Time `json:"requestedAt"`
	BulkRequest bool      `json:"bulkRequest,omitempty"`
	IsRetry     bool      `json:"isRetry,omitempty"`
	MaxRetries  int       `json:"maxRetries,omitempty"`
}

// ReplyResult is returned by the reply executor
type ReplyResult struct {
	Success     bool      `json:"success"`
	ThreadID    string    `json:"threadId"`
	Message     string    `json:"message"` // First 100 characters followed by "..."
	MessageSent bool      `json:"messageSent"`
	Warning     string    `json:"warning,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConnectionStatus is the classification of a status check
type ConnectionStatus string

const (
	StatusPending       ConnectionStatus = "pending"
	StatusConnected     ConnectionStatus = "connected"
	StatusUnknown       ConnectionStatus = "unknown"
	StatusAlreadyMarked ConnectionStatus = "already_marked"
	StatusError         ConnectionStatus = "error"
)

// StatusCheckPayload checks one profile when ProfileURL is set, else sweeps the account
type StatusCheckPayload struct {
	BotID      string `json:"botId,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// StatusCheckResult is the outcome for one profile
type StatusCheckResult struct {
	ProfileURL       string           `json:"profileUrl"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	IsPending        bool             `json:"isPending"`
	MessageSent      bool             `json:"messageSent"`
	Skipped          bool             `json:"skipped,omitempty"`
	RecordingPath    string           `json:"recordingPath,omitempty"`
	Error            string           `json:"error,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// StatusSweepSummary counts the outcomes of a sweep
type StatusSweepSummary struct {
	Total         int `json:"total"`
	Connected     int `json:"connected"`
	Pending       int `json:"pending"`
	Unknown       int `json:"unknown"`
	Errors        int `json:"errors"`
	AlreadyMarked int `json:"alreadyMarked"`
	MessageSent   int `json:"messageSent"`
}

// StatusSweepResult is returned by the batch status check
type StatusSweepResult struct {
	Summary    StatusSweepSummary  `json:"summary"`
	Results    []StatusCheckResult `json:"results"`
	Reconciled int                 `json:"reconciled"`
}

// InboxPollPayload polls the inbox of one account
type InboxPollPayload struct {
	BotID string `json:"botId,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

// InboxPollResult summarises one inbox sweep
type InboxPollResult struct {
	Discovered     int      `json:"discovered"`
	NewThreads     int      `json:"newThreads"`
	MatchedThreads int      `json:"matchedThreads"`
	CheckedThreads int      `json:"checkedThreads"`
	UpdatedThreads int      `json:"updatedThreads"`
	NewMessages    int      `json:"newMessages"`
	ThreadErrors   []string `json:"threadErrors,omitempty"`
	Truncated      bool     `json:"truncated,omitempty"`
}

// ExtractPayload extracts the profiles of a campaign bot account
type ExtractPayload struct {
	CampaignID string `json:"campaignId"`
	BotID      string `json:"botId"`
	Force      bool   `json:"force,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// ExtractedProfile is the outcome for one profile
type ExtractedProfile struct {
	Link     string `json:"link"`
	Name     string `json:"name,omitempty"`
	Headline string `json:"headline,omitempty"`
	Location string `json:"location,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ExtractResult is returned by the extraction executor
type ExtractResult struct {
	CampaignID string             `json:"campaignId"`
	Total      int                `json:"total"`
	Extracted  int                `json:"extracted"`
	Skipped    int                `json:"skipped"`
	Failed     int                `json:"failed"`
	Profiles   []ExtractedProfile `json:"profiles"`
	Reconciled int                `json:"reconciled"`
}

// IdlePayload runs the warm-up routine on one account
type IdlePayload struct {
	BotID   string `json:"botId,omitempty"`
	Actions int    `json:"actions,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// IdleResult lists the actions performed by the warm-up routine
type IdleResult struct {
	Actions []string `json:"actions"`
}
