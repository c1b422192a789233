package tasks

import (
	"context"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

const (
	headingTimeout     = 15 * time.Second
	connectSettle      = 2 * time.Second
	moreActionsSettle  = 30 * time.Second
	dialogTimeout      = 10 * time.Second
	noteSettle         = time.Second
	DefaultConnectNote = "Hi, I'd like to connect with you!"
)

// Connector sends connection requests
type Connector struct {
	executor
	defaultNote string
}

// NewConnector creates the executor; defaultNote is typed when a request carries no message
func NewConnector(env Env, defaultNote string) *Connector {
	if defaultNote == "" {
		defaultNote = DefaultConnectNote
	}
	return &Connector{executor: newExecutor(env, models.KindConnect), defaultNote: defaultNote}
}

// Send requests a connection with the profile at payload.ProfileURL
func (c *Connector) Send(ctx context.Context, account models.Account, payload models.ConnectPayload) (*models.ConnectResult, error) {
	repo := c.Records.Flat(account)
	profile, err := findProfile(ctx, repo, payload.ProfileURL)
	if err != nil {
		return nil, err
	}
	if profile.ConnectionRequested {
		c.Logger.Info().Str("profile", payload.ProfileURL).Msg("Connection already requested, skipping")
		return &models.ConnectResult{
			Success:    true,
			ProfileURL: payload.ProfileURL,
			Skipped:    true,
			Reason:     "connection already requested",
			Timestamp:  c.Now(),
		}, nil
	}

	if err := c.Pacer.Before(ctx, models.KindConnect); err != nil {
		return nil, err
	}
	session, err := c.Sessions.AcquireSession(ctx, account)
	if err != nil {
		return nil, err
	}
	defer c.closeSession(session)

	noteIncluded, err := c.connect(ctx, session, payload)
	if err != nil {
		if models.IsClientError(err) {
			return nil, err
		}
		return nil, c.fail(ctx, session, payload.ProfileURL, err)
	}

	c.reconcile(ctx, repo, payload.ProfileURL)
	c.Logger.Info().
		Str("profile", payload.ProfileURL).
		Bool("note", noteIncluded).
		Msg("Connection request sent")

	return &models.ConnectResult{
		Success:      true,
		ProfileURL:   payload.ProfileURL,
		NoteIncluded: noteIncluded,
		Timestamp:    c.Now(),
	}, nil
}

func (c *Connector) connect(ctx context.Context, session interfaces.BrowserSession, payload models.ConnectPayload) (bool, error) {
	target := payload.ProfileURL
	if err := c.navigate(ctx, session, target, interfaces.WaitLoad, connectSettle); err != nil {
		return false, err
	}
	if _, err := session.WaitFor(ctx, profileHeading, headingTimeout); err != nil {
		return false, err
	}

	connectSpan, err := c.classify(ctx, session, target)
	if err != nil {
		return false, err
	}
	if err := connectSpan.ClickClosest(ctx, buttonAncestor); err != nil {
		return false, err
	}
	if err := c.Pacer.Settle(ctx, connectSettle); err != nil {
		return false, err
	}

	addNote, err := session.WaitFor(ctx, addNoteButton, dialogTimeout)
	if err != nil {
		return false, err
	}
	if addNote == nil {
		send, err := session.WaitFor(ctx, sendWithoutNote, dialogTimeout)
		if err != nil {
			return false, err
		}
		if err := requireEnabled(ctx, send, sendWithoutNote, target, "Send button is disabled"); err != nil {
			return false, err
		}
		if err := send.Click(ctx); err != nil {
			return false, err
		}
		return false, c.Pacer.Settle(ctx, connectSettle)
	}

	if err := addNote.Click(ctx); err != nil {
		return false, err
	}
	if err := c.Pacer.Settle(ctx, noteSettle); err != nil {
		return false, err
	}
	textarea, err := session.WaitFor(ctx, noteTextarea, dialogTimeout)
	if err != nil {
		return false, err
	}
	if textarea == nil {
		return false, models.NewTaskError(models.ErrElementNotFound, target, noteTextarea+" not found", nil)
	}
	note := payload.Message
	if note == "" {
		note = c.defaultNote
	}
	if err := c.Typist.Type(ctx, session, textarea, note); err != nil {
		return false, err
	}

	send, err := session.WaitFor(ctx, sendInvitation, dialogTimeout)
	if err != nil {
		return false, err
	}
	if err := requireEnabled(ctx, send, sendInvitation, target, "Send button is disabled - message may be empty"); err != nil {
		return false, err
	}
	if err := send.Click(ctx); err != nil {
		return false, err
	}
	return true, c.Pacer.Settle(ctx, connectSettle)
}

// classify returns the Connect control, or a typed error naming why there is none:
// already connected > already pending > follow-only without Connect in the overflow menu.
func (c *Connector) classify(ctx context.Context, session interfaces.BrowserSession, target string) (interfaces.Element, error) {
	badge, err := session.FindByText(ctx, firstDegreeBadge, "1st")
	if err != nil {
		return nil, err
	}
	if badge != nil {
		return nil, models.NewTaskError(models.ErrAlreadyConnected, target, "Already connected with this profile", nil)
	}

	pending, err := session.FindByText(ctx, anySpan, "Pending")
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, models.NewTaskError(models.ErrAlreadyPending, target, "Connection request already pending", nil)
	}

	connect, err := session.FindByText(ctx, anySpan, "Connect")
	if err != nil {
		return nil, err
	}
	if connect != nil {
		return connect, nil
	}

	follow, err := session.FindByText(ctx, anySpan, "Follow")
	if err != nil {
		return nil, err
	}
	if follow != nil {
		more, err := session.Find(ctx, moreActionsButton)
		if err != nil {
			return nil, err
		}
		if more != nil {
			if err := more.Click(ctx); err != nil {
				return nil, err
			}
			if err := c.Pacer.Settle(ctx, moreActionsSettle); err != nil {
				return nil, err
			}
			connect, err = session.FindByText(ctx, anySpan, "Connect")
			if err != nil {
				return nil, err
			}
			if connect != nil {
				return connect, nil
			}
		}
	}
	return nil, models.NewTaskError(models.ErrNotConnectable, target, "Profile offers no Connect action", nil)
}

// reconcile marks the request on the flat profile list; profiles outside it are left alone
func (c *Connector) reconcile(ctx context.Context, repo interfaces.ProfileRepository, link string) {
	_, err := repo.Reconcile(ctx, models.ProfileBatch{Updates: []models.ProfileUpdate{{
		Link: link,
		Fields: map[string]interface{}{
			models.FieldConnectionRequested:   true,
			models.FieldConnectionRequestedAt: interfaces.ServerTimestamp,
		},
	}}})
	if err != nil {
		c.Logger.Error().Err(err).Str("profile", link).Msg("Failed to reconcile connection request")
	}
}
