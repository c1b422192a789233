package models

import "strings"

// Account is one operator login driving a bot. Accounts are created externally
// (YAML roster or environment) and never deleted by the service.
type Account struct {
	ID         string `yaml:"id" json:"id" validate:"required"`             // Short routing name, e.g. "primary"
	Email      string `yaml:"email" json:"email" validate:"required,email"` // Operator login
	Password   string `yaml:"password" json:"-" validate:"required"`        // Operator secret, never serialized
	CampaignID string `yaml:"campaign_id" json:"campaignId,omitempty"`      // Campaign owning the bot-account layout
	IMAPUser   string `yaml:"imap_user" json:"-"`                           // Optional mailbox receiving verification PINs
	IMAPPass   string `yaml:"imap_password" json:"-"`
}

// BotID is the stable identifier used as document key: "<email>_<secret>".
func (a Account) BotID() string {
	return a.Email + "_" + a.Password
}

// String avoids leaking the secret in logs and error messages.
func (a Account) String() string {
	return a.ID + " <" + maskEmail(a.Email) + ">"
}

func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 1 {
		return email
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}
