package models

import "time"

// Profile is a target person record. Link is the unique key inside its document.
// Records are stored as generic maps so that fields owned by other systems survive merges;
// this struct is the typed read view.
type Profile struct {
	Link                  string     `json:"link"`
	Name                  string     `json:"name,omitempty"`
	Headline              string     `json:"headline,omitempty"`
	Location              string     `json:"location,omitempty"`
	MessageSent           bool       `json:"messageSent"`
	GeneratedMessage      string     `json:"generatedMessage,omitempty"`
	ConnectionRequested   bool       `json:"connectionRequested,omitempty"`
	ConnectionRequestedAt *time.Time `json:"connectionRequestedAt,omitempty"`
	ExtractedAt           *time.Time `json:"extractedAt,omitempty"`
	ExtractionError       string     `json:"extractionError,omitempty"`
}

// Profile field names. Each field is written by exactly one task kind.
const (
	FieldLink                  = "link"
	FieldName                  = "name"
	FieldHeadline              = "headline"
	FieldLocation              = "location"
	FieldMessageSent           = "messageSent"           // status-check
	FieldConnectionRequested   = "connectionRequested"   // connect
	FieldConnectionRequestedAt = "connectionRequestedAt" // connect
	FieldExtractedAt           = "extractedAt"           // extract
	FieldExtractionError       = "extractionError"       // extract
)

// ProfileLayout names the document shape holding an account's profiles
type ProfileLayout string

const (
	// LayoutFlat is ProfileSearches/{botId} with a profiles array
	LayoutFlat ProfileLayout = "flat"
	// LayoutCampaign is Campaigns/{campaignId}/bot_accounts/{botId} with a profiles array
	LayoutCampaign ProfileLayout = "campaign"
)

// ProfileUpdate is an observed outcome for one profile, keyed by link.
// Fields holds only the fields the producing task owns.
type ProfileUpdate struct {
	Link   string
	Fields map[string]interface{}
}

// ProfileBatch is the reconciliation input of one task run.
// Fields are compared for change; Touch is written only when something changed.
type ProfileBatch struct {
	Updates []ProfileUpdate
	Fields  map[string]interface{}
	Touch   map[string]interface{}
}
