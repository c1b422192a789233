package models

import "time"

// ThreadMessage is one message read from a conversation
type ThreadMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Thread is a conversation matched to a known profile.
// Stored at MessageThreads/{botId}_{threadId}.
type Thread struct {
	ID               string          `json:"Id"`
	Name             string          `json:"name"`
	MatchedProfileID string          `json:"matchedProfileId"`
	CreatedAt        time.Time       `json:"createdAt"`
	LastMessages     []ThreadMessage `json:"lastMessages,omitempty"`
	LastChecked      *time.Time      `json:"lastChecked,omitempty"`
	Process          bool            `json:"process,omitempty"`
	LastReplyJobID   string          `json:"lastReplyJobId,omitempty"`
}

// ThreadDocID returns the document id of a thread for a bot
func ThreadDocID(botID, threadID string) string {
	return botID + "_" + threadID
}

// ThreadUpdate records messages newer than the thread's lastChecked
type ThreadUpdate struct {
	ThreadID  string
	Messages  []ThreadMessage
	CheckedAt time.Time
}
