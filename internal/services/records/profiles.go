package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

const profilesField = "profiles"

// ProfileStore keeps the profiles of one bot account in a single document holding a
// profiles array. The flat and campaign layouts differ only in where that document lives.
type ProfileStore struct {
	store      interfaces.DocumentStore
	layout     models.ProfileLayout
	collection string
	docID      string
	logger     arbor.ILogger
}

var _ interfaces.ProfileRepository = (*ProfileStore)(nil)

// NewFlatProfiles addresses ProfileSearches/{botId}
func NewFlatProfiles(store interfaces.DocumentStore, botID string, logger arbor.ILogger) *ProfileStore {
	return &ProfileStore{
		store:      store,
		layout:     models.LayoutFlat,
		collection: ProfileSearchesCollection,
		docID:      botID,
		logger:     logger,
	}
}

// NewCampaignProfiles addresses Campaigns/{campaignId}/bot_accounts/{botId}
func NewCampaignProfiles(store interfaces.DocumentStore, campaignID, botID string, logger arbor.ILogger) *ProfileStore {
	return &ProfileStore{
		store:      store,
		layout:     models.LayoutCampaign,
		collection: CampaignBotsCollection(campaignID),
		docID:      botID,
		logger:     logger,
	}
}

func (r *ProfileStore) Layout() models.ProfileLayout {
	return r.layout
}

// load returns the document and its profile maps; a missing document yields nil, nil
func (r *ProfileStore) load(ctx context.Context) (map[string]interface{}, []map[string]interface{}, error) {
	doc, err := r.store.Get(ctx, r.collection, r.docID)
	if errors.Is(err, interfaces.ErrDocumentNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	raw, _ := doc[profilesField].([]interface{})
	profiles := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			profiles = append(profiles, m)
		}
	}
	return doc, profiles, nil
}

// ListProfiles returns the stored profiles; an absent document has none
func (r *ProfileStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	_, raw, err := r.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles %s/%s: %w", r.collection, r.docID, err)
	}

	profiles := make([]models.Profile, 0, len(raw))
	for _, m := range raw {
		var p models.Profile
		if err := decodeInto(m, &p); err != nil {
			r.logger.Warn().Err(err).Str("collection", r.collection).Msg("Skipping malformed profile record")
			continue
		}
		if p.Link == "" {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (r *ProfileStore) Reconcile(ctx context.Context, batch models.ProfileBatch) (int, error) {
	unlock := profileDocLocks.lock(r.collection, r.docID)
	defer unlock()

	doc, profiles, err := r.load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load profiles %s/%s: %w", r.collection, r.docID, err)
	}
	if doc == nil {
		r.logger.Debug().
			Str("collection", r.collection).
			Str("doc", r.docID).
			Msg("No profile document, nothing to reconcile")
		return 0, nil
	}

	byLink := make(map[string]map[string]interface{}, len(profiles))
	for _, p := range profiles {
		if link, ok := p[models.FieldLink].(string); ok {
			byLink[NormalizeLink(link)] = p
		}
	}

	changed := 0
	for _, update := range batch.Updates {
		profile, ok := byLink[NormalizeLink(update.Link)]
		if !ok {
			r.logger.Debug().Str("link", update.Link).Msg("Profile not in document, skipping")
			continue
		}
		if mergeProfile(profile, update.Fields) {
			changed++
		}
	}

	docChanged := false
	for k, v := range batch.Fields {
		if !sameValue(doc[k], v) {
			docChanged = true
		}
	}

	if changed == 0 && !docChanged {
		return 0, nil
	}

	fields := map[string]interface{}{profilesField: profiles}
	for k, v := range batch.Fields {
		fields[k] = v
	}
	for k, v := range batch.Touch {
		fields[k] = v
	}
	if err := r.store.Update(ctx, r.collection, r.docID, fields); err != nil {
		return 0, fmt.Errorf("failed to write profiles %s/%s: %w", r.collection, r.docID, err)
	}

	r.logger.Debug().
		Str("collection", r.collection).
		Str("doc", r.docID).
		Int("changed", changed).
		Msg("Profiles reconciled")
	return changed, nil
}

type deleteField struct{}

// DeleteField removes a profile field during reconciliation
var DeleteField = deleteField{}

// mergeProfile applies owned fields to one stored profile and reports whether it
// changed. Empty values never overwrite, messageSent never goes back to false, and
// server timestamps are only stamped alongside a real change or into an empty slot.
// DeleteField is the only way to drop a value.
func mergeProfile(profile map[string]interface{}, fields map[string]interface{}) bool {
	changed := false
	var stamps []string

	for k, v := range fields {
		if v == interfaces.ServerTimestamp {
			stamps = append(stamps, k)
			continue
		}
		if v == DeleteField {
			if _, ok := profile[k]; ok {
				delete(profile, k)
				changed = true
			}
			continue
		}
		if isEmpty(v) {
			continue
		}
		if k == models.FieldMessageSent {
			v = truthy(profile[k]) || truthy(v)
		}
		if !sameValue(profile[k], v) {
			profile[k] = v
			changed = true
		}
	}

	for _, k := range stamps {
		if changed || profile[k] == nil {
			profile[k] = interfaces.ServerTimestamp
			changed = true
		}
	}
	return changed
}
