package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
	"github.com/ternarybob/outreach/internal/services/browser"
	"github.com/ternarybob/outreach/internal/services/pacing"
	"github.com/ternarybob/outreach/internal/services/records"
)

const (
	profileSettle    = 10 * time.Second
	textboxTimeout   = 5 * time.Second
	afterSubmitPause = 2 * time.Second
)

var betweenProfiles = pacing.Between(3*time.Second, 8*time.Second)

// StatusChecker finds out whether connection requests were accepted and sends the
// prepared first message to profiles that became connections.
type StatusChecker struct {
	executor
	record bool
}

// NewStatusChecker creates the executor; record captures a screencast of every check
func NewStatusChecker(env Env, record bool) *StatusChecker {
	return &StatusChecker{executor: newExecutor(env, models.KindStatusCheck), record: record}
}

// Check examines one profile of the account's flat profile list
func (c *StatusChecker) Check(ctx context.Context, account models.Account, profileURL string) (*models.StatusCheckResult, error) {
	repo := c.Records.Flat(account)
	profile, err := findProfile(ctx, repo, profileURL)
	if err != nil {
		return nil, err
	}

	result, err := c.check(ctx, account, profile)
	if err != nil {
		return nil, err
	}
	c.reconcile(ctx, repo, []models.StatusCheckResult{*result})
	return result, nil
}

// Sweep checks every profile of the account. Per-profile failures are recorded in the
// results; only an authentication failure ends the sweep early.
func (c *StatusChecker) Sweep(ctx context.Context, account models.Account) (*models.StatusSweepResult, error) {
	repo := c.Records.Flat(account)
	profiles, err := repo.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	c.Logger.Info().
		Str("account", account.ID).
		Int("profiles", len(profiles)).
		Msg("Starting connection status sweep")

	sweep := &models.StatusSweepResult{Results: make([]models.StatusCheckResult, 0, len(profiles))}

	// Messages already sent must be recorded even when the sweep stops early
	abort := func(err error) (*models.StatusSweepResult, error) {
		if n := c.reconcile(context.WithoutCancel(ctx), repo, sweep.Results); n > 0 {
			c.Logger.Info().Str("account", account.ID).Int("reconciled", n).Msg("Recorded messages of an interrupted sweep")
		}
		return nil, err
	}

	for i, profile := range profiles {
		result, err := c.check(ctx, account, profile)
		if err != nil {
			if te, ok := models.AsTaskError(err); ok && te.IsAuth() {
				return abort(err)
			}
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			c.Logger.Warn().Err(err).Str("profile", profile.Link).Msg("Status check failed")
			result = &models.StatusCheckResult{
				ProfileURL:       profile.Link,
				ConnectionStatus: models.StatusError,
				Error:            err.Error(),
				Timestamp:        c.Now(),
			}
		}
		sweep.Results = append(sweep.Results, *result)
		countStatus(&sweep.Summary, result)
		queue.ReportProgress(ctx, (i+1)*100/len(profiles))

		if i < len(profiles)-1 && !result.Skipped {
			if err := c.Pacer.SettleBetween(ctx, betweenProfiles); err != nil {
				return abort(err)
			}
		}
	}

	sweep.Reconciled = c.reconcile(ctx, repo, sweep.Results)
	c.Logger.Info().
		Str("account", account.ID).
		Int("connected", sweep.Summary.Connected).
		Int("pending", sweep.Summary.Pending).
		Int("errors", sweep.Summary.Errors).
		Msg("Connection status sweep finished")
	return sweep, nil
}

func countStatus(s *models.StatusSweepSummary, r *models.StatusCheckResult) {
	s.Total++
	switch r.ConnectionStatus {
	case models.StatusConnected:
		s.Connected++
	case models.StatusPending:
		s.Pending++
	case models.StatusUnknown:
		s.Unknown++
	case models.StatusError:
		s.Errors++
	}
	if r.Skipped {
		s.AlreadyMarked++
	}
	if r.MessageSent {
		s.MessageSent++
	}
}

func (c *StatusChecker) check(ctx context.Context, account models.Account, profile models.Profile) (*models.StatusCheckResult, error) {
	if profile.MessageSent {
		return &models.StatusCheckResult{
			ProfileURL:       profile.Link,
			ConnectionStatus: models.StatusAlreadyMarked,
			MessageSent:      true,
			Skipped:          true,
			Timestamp:        c.Now(),
		}, nil
	}

	if err := c.Pacer.Before(ctx, models.KindStatusCheck); err != nil {
		return nil, err
	}
	session, err := c.Sessions.AcquireSession(ctx, account)
	if err != nil {
		return nil, err
	}
	defer c.closeSession(session)

	result := &models.StatusCheckResult{ProfileURL: profile.Link}
	if c.record {
		result.RecordingPath = c.startRecording(ctx, session, profile.Link)
		defer c.stopRecording(ctx, session)
	}

	if err := c.navigate(ctx, session, profile.Link, interfaces.WaitLoad, profileSettle); err != nil {
		return nil, c.fail(ctx, session, profile.Link, err)
	}

	status, control, err := classifyConnection(ctx, session)
	if err != nil {
		return nil, c.fail(ctx, session, profile.Link, err)
	}
	result.ConnectionStatus = status
	result.IsPending = status == models.StatusPending

	if status == models.StatusConnected {
		if strings.TrimSpace(profile.GeneratedMessage) == "" {
			c.Logger.Warn().Str("profile", profile.Link).Msg("Connected profile has no generated message, nothing sent")
		} else {
			if err := c.sendMessage(ctx, session, control, profile); err != nil {
				return nil, c.fail(ctx, session, profile.Link, err)
			}
			result.MessageSent = true
		}
	}

	result.Timestamp = c.Now()
	c.Logger.Info().
		Str("profile", profile.Link).
		Str("status", string(status)).
		Bool("message_sent", result.MessageSent).
		Msg("Connection status checked")
	return result, nil
}

// classifyConnection reads the profile page: pending > connected > unknown. A
// connected profile shows two "Message" buttons; the second one opens the composer.
func classifyConnection(ctx context.Context, session interfaces.BrowserSession) (models.ConnectionStatus, interfaces.Element, error) {
	pending, err := session.FindByText(ctx, anySpan, "Pending")
	if err != nil {
		return "", nil, err
	}
	if pending != nil {
		return models.StatusPending, nil, nil
	}

	labels, err := session.FindAll(ctx, buttonLabel)
	if err != nil {
		return "", nil, err
	}
	var controls []interfaces.Element
	for _, label := range labels {
		if elementText(ctx, label) == "Message" {
			controls = append(controls, label)
		}
	}
	if len(controls) > 1 {
		return models.StatusConnected, controls[1], nil
	}
	return models.StatusUnknown, nil, nil
}

func (c *StatusChecker) sendMessage(ctx context.Context, session interfaces.BrowserSession, control interfaces.Element, profile models.Profile) error {
	if err := control.Click(ctx); err != nil {
		return err
	}
	box, err := session.WaitFor(ctx, messageTextbox, textboxTimeout)
	if err != nil {
		return err
	}
	if box == nil {
		return models.NewTaskError(models.ErrElementNotFound, profile.Link, "message textbox did not open", nil)
	}
	if err := c.Typist.Type(ctx, session, box, profile.GeneratedMessage); err != nil {
		return err
	}

	submit, err := session.Find(ctx, messageSubmitButton)
	if err != nil {
		return err
	}
	if err := requireEnabled(ctx, submit, messageSubmitButton, profile.Link, "Submit button is disabled - message may be empty"); err != nil {
		return err
	}
	if err := submit.Click(ctx); err != nil {
		return err
	}
	return c.Pacer.Settle(ctx, afterSubmitPause)
}

func (c *StatusChecker) startRecording(ctx context.Context, session interfaces.BrowserSession, target string) string {
	rec, ok := session.(interfaces.RecordingSession)
	if !ok {
		return ""
	}
	dir := browser.RecordingDir(c.ArtifactsDir, c.kind, target, c.Now())
	if err := rec.StartRecording(ctx, dir); err != nil {
		c.Logger.Warn().Err(err).Msg("Failed to start recording")
		return ""
	}
	return dir
}

func (c *StatusChecker) stopRecording(ctx context.Context, session interfaces.BrowserSession) {
	rec, ok := session.(interfaces.RecordingSession)
	if !ok {
		return
	}
	if _, err := rec.StopRecording(context.WithoutCancel(ctx)); err != nil {
		c.Logger.Debug().Err(err).Msg("Failed to stop recording")
	}
}

// reconcile stores messageSent for the profiles that were messaged
func (c *StatusChecker) reconcile(ctx context.Context, repo interfaces.ProfileRepository, results []models.StatusCheckResult) int {
	var batch models.ProfileBatch
	for _, r := range results {
		if r.MessageSent && !r.Skipped {
			batch.Updates = append(batch.Updates, models.ProfileUpdate{
				Link:   r.ProfileURL,
				Fields: map[string]interface{}{models.FieldMessageSent: true},
			})
		}
	}
	if len(batch.Updates) == 0 {
		return 0
	}
	changed, err := repo.Reconcile(ctx, batch)
	if err != nil {
		c.Logger.Error().Err(err).Int("profiles", len(batch.Updates)).Msg("Failed to reconcile messageSent")
		return 0
	}
	return changed
}

// findProfile returns the stored profile for link, or a bare profile when none is stored
func findProfile(ctx context.Context, repo interfaces.ProfileRepository, link string) (models.Profile, error) {
	profiles, err := repo.ListProfiles(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	key := records.NormalizeLink(link)
	for _, p := range profiles {
		if records.NormalizeLink(p.Link) == key {
			return p, nil
		}
	}
	return models.Profile{Link: link}, nil
}
