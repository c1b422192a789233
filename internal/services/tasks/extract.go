package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
	"github.com/ternarybob/outreach/internal/services/pacing"
	"github.com/ternarybob/outreach/internal/services/records"
)

const (
	extractSettle  = 3 * time.Second
	headingWait    = 10 * time.Second
	statusComplete = "completed"
)

var betweenExtractions = pacing.Between(2*time.Second, 4*time.Second)

// ProfileDetails are the fields read from a profile page
type ProfileDetails struct {
	Name     string
	Headline string
	Location string
}

// Extractor reads name, headline and location of the profiles assigned to a
// campaign bot account
type Extractor struct {
	executor
}

func NewExtractor(env Env) *Extractor {
	return &Extractor{executor: newExecutor(env, models.KindExtract)}
}

// Extract visits every profile not yet extracted (all of them when payload.Force is
// set) and writes the details back in one update
func (x *Extractor) Extract(ctx context.Context, account models.Account, payload models.ExtractPayload) (*models.ExtractResult, error) {
	repo := x.Records.Campaign(account, payload.CampaignID)
	profiles, err := repo.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.ExtractResult{
		CampaignID: payload.CampaignID,
		Total:      len(profiles),
		Profiles:   make([]models.ExtractedProfile, 0, len(profiles)),
	}
	if result.CampaignID == "" {
		result.CampaignID = account.CampaignID
	}

	var pending []models.Profile
	for _, p := range profiles {
		if p.ExtractedAt != nil && !payload.Force {
			result.Skipped++
			result.Profiles = append(result.Profiles, models.ExtractedProfile{Link: p.Link, Name: p.Name, Skipped: true})
			continue
		}
		pending = append(pending, p)
	}
	if len(pending) == 0 {
		x.Logger.Info().Str("campaign", result.CampaignID).Int("profiles", len(profiles)).Msg("No profiles to extract")
		return result, nil
	}

	if err := x.Pacer.Before(ctx, models.KindExtract); err != nil {
		return nil, err
	}
	session, err := x.Sessions.AcquireSession(ctx, account)
	if err != nil {
		return nil, err
	}
	defer x.closeSession(session)

	var batch models.ProfileBatch
	for i, p := range pending {
		details, err := x.extractOne(ctx, session, p.Link)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			x.fail(ctx, session, p.Link, err)
			x.Logger.Warn().Err(err).Str("profile", p.Link).Msg("Profile extraction failed")
			result.Failed++
			result.Profiles = append(result.Profiles, models.ExtractedProfile{Link: p.Link, Error: err.Error()})
			batch.Updates = append(batch.Updates, models.ProfileUpdate{
				Link:   p.Link,
				Fields: map[string]interface{}{models.FieldExtractionError: err.Error()},
			})
		} else {
			result.Extracted++
			result.Profiles = append(result.Profiles, models.ExtractedProfile{
				Link:     p.Link,
				Name:     details.Name,
				Headline: details.Headline,
				Location: details.Location,
			})
			batch.Updates = append(batch.Updates, models.ProfileUpdate{
				Link: p.Link,
				Fields: map[string]interface{}{
					models.FieldName:        details.Name,
					models.FieldHeadline:    details.Headline,
					models.FieldLocation:    details.Location,
					models.FieldExtractedAt: interfaces.ServerTimestamp,
					// a profile that failed on an earlier run no longer carries that error
					models.FieldExtractionError: records.DeleteField,
				},
			})
		}
		queue.ReportProgress(ctx, (i+1)*100/len(pending))

		if i < len(pending)-1 {
			if err := x.Pacer.SettleBetween(ctx, betweenExtractions); err != nil {
				return nil, err
			}
		}
	}

	batch.Fields = map[string]interface{}{"extractionStatus": statusComplete}
	batch.Touch = map[string]interface{}{"lastExtracted": interfaces.ServerTimestamp}
	result.Reconciled, err = repo.Reconcile(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to store extracted profiles: %w", err)
	}

	x.Logger.Info().
		Str("campaign", result.CampaignID).
		Int("extracted", result.Extracted).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Profile extraction finished")
	return result, nil
}

func (x *Extractor) extractOne(ctx context.Context, session interfaces.BrowserSession, link string) (ProfileDetails, error) {
	if err := x.navigate(ctx, session, link, interfaces.WaitDOMContentLoaded, extractSettle); err != nil {
		return ProfileDetails{}, err
	}
	if _, err := session.WaitFor(ctx, profileHeading, headingWait); err != nil {
		return ProfileDetails{}, err
	}
	html, err := session.HTML(ctx)
	if err != nil {
		return ProfileDetails{}, err
	}
	return ParseProfileDetails(html)
}

// ParseProfileDetails reads the profile fields from page HTML
func ParseProfileDetails(html string) (ProfileDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ProfileDetails{}, fmt.Errorf("failed to parse profile page: %w", err)
	}
	return ProfileDetails{
		Name:     firstText(doc, nameSelectors),
		Headline: firstText(doc, headlineSelectors),
		Location: firstText(doc, locationSelectors),
	}, nil
}

// firstText returns the text of the first selector matching a non-empty element
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
