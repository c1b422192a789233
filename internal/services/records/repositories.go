package records

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// Repositories hands out the record views of an account over one document store
type Repositories struct {
	store   interfaces.DocumentStore
	threads *ThreadStore
	logger  arbor.ILogger
}

func NewRepositories(store interfaces.DocumentStore, logger arbor.ILogger) *Repositories {
	return &Repositories{
		store:   store,
		threads: NewThreadStore(store, logger),
		logger:  logger,
	}
}

// Flat returns the ProfileSearches view of account
func (r *Repositories) Flat(account models.Account) interfaces.ProfileRepository {
	return NewFlatProfiles(r.store, account.BotID(), r.logger)
}

// Campaign returns the bot-account view of account inside campaignID, falling back
// to the account's own campaign
func (r *Repositories) Campaign(account models.Account, campaignID string) interfaces.ProfileRepository {
	if campaignID == "" {
		campaignID = account.CampaignID
	}
	return NewCampaignProfiles(r.store, campaignID, account.BotID(), r.logger)
}

func (r *Repositories) Threads() interfaces.ThreadRepository {
	return r.threads
}
