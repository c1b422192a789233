package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/queue"
)

const (
	inboxSettle        = 5 * time.Second
	openThreadPoll     = 500 * time.Millisecond
	openThreadAttempts = 20
	threadOpenSettle   = 3 * time.Second
	messageListTimeout = 10 * time.Second
	messageListSettle  = 2 * time.Second
	betweenThreads     = 2 * time.Second
	DefaultInboxCap    = 200
)

// conversation is one entry of the messaging sidebar
type conversation struct {
	ID   string
	Name string
}

// InboxPoller discovers conversations with known profiles and records their new messages
type InboxPoller struct {
	executor
	maxThreads int
}

// NewInboxPoller creates the executor; maxThreads bounds the sidebar walk
func NewInboxPoller(env Env, maxThreads int) *InboxPoller {
	if maxThreads <= 0 {
		maxThreads = DefaultInboxCap
	}
	return &InboxPoller{executor: newExecutor(env, models.KindInboxPoll), maxThreads: maxThreads}
}

// Poll walks the inbox of account: new conversations matching a known profile are
// stored, then every stored conversation is read for messages newer than its last check.
func (p *InboxPoller) Poll(ctx context.Context, account models.Account) (*models.InboxPollResult, error) {
	if err := p.Pacer.Before(ctx, models.KindInboxPoll); err != nil {
		return nil, err
	}
	session, err := p.Sessions.AcquireSession(ctx, account)
	if err != nil {
		return nil, err
	}
	defer p.closeSession(session)

	botID := account.BotID()
	threads := p.Records.Threads()
	result := &models.InboxPollResult{}

	if err := p.navigate(ctx, session, messagingURL, interfaces.WaitLoad, inboxSettle); err != nil {
		return nil, p.fail(ctx, session, account.ID, err)
	}
	found, truncated, err := p.listConversations(ctx, session)
	if err != nil {
		return nil, p.fail(ctx, session, account.ID, err)
	}
	result.Discovered = len(found)
	result.Truncated = truncated
	queue.ReportProgress(ctx, 25)

	stored, err := threads.ListThreads(ctx, botID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(stored))
	for _, t := range stored {
		known[t.ID] = true
	}

	profiles, err := p.Records.Flat(account).ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	var matched []models.Thread
	for _, c := range found {
		if known[c.ID] {
			continue
		}
		known[c.ID] = true
		result.NewThreads++
		profile, ok := matchProfile(c.Name, profiles)
		if !ok {
			p.Logger.Debug().Str("thread", c.ID).Str("name", c.Name).Msg("Conversation matches no known profile")
			continue
		}
		matched = append(matched, models.Thread{ID: c.ID, Name: c.Name, MatchedProfileID: profile.Link})
	}
	if err := threads.CreateThreads(ctx, botID, matched); err != nil {
		return nil, err
	}
	result.MatchedThreads = len(matched)
	queue.ReportProgress(ctx, 40)

	stored, err = threads.ListThreads(ctx, botID)
	if err != nil {
		return nil, err
	}

	var updates []models.ThreadUpdate
	for i, t := range stored {
		update, err := p.readThread(ctx, session, t)
		result.CheckedThreads++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.Logger.Warn().Err(err).Str("thread", t.ID).Msg("Failed to read thread")
			result.ThreadErrors = append(result.ThreadErrors, fmt.Sprintf("%s: %v", t.ID, err))
		} else if len(update.Messages) > 0 {
			updates = append(updates, update)
			result.NewMessages += len(update.Messages)
		}
		queue.ReportProgress(ctx, 40+(i+1)*55/len(stored))

		if err := p.Pacer.Settle(ctx, betweenThreads); err != nil {
			return nil, err
		}
	}

	result.UpdatedThreads, err = threads.RecordMessages(ctx, botID, updates)
	if err != nil {
		return nil, err
	}

	p.Logger.Info().
		Str("account", account.ID).
		Int("discovered", result.Discovered).
		Int("matched", result.MatchedThreads).
		Int("updated", result.UpdatedThreads).
		Int("messages", result.NewMessages).
		Msg("Inbox polled")
	return result, nil
}

// listConversations opens the sidebar entries one position at a time until a
// position is empty or the cap is reached. Entries without a link are skipped.
func (p *InboxPoller) listConversations(ctx context.Context, session interfaces.BrowserSession) ([]conversation, bool, error) {
	var found []conversation
	for i := 1; ; i++ {
		item, err := session.Find(ctx, fmt.Sprintf(conversationItem, i))
		if err != nil {
			return nil, false, err
		}
		if item == nil {
			return found, false, nil
		}
		if i > p.maxThreads {
			p.Logger.Warn().Int("cap", p.maxThreads).Msg("Conversation list truncated")
			return found, true, nil
		}

		link, err := item.Find(ctx, conversationLink)
		if err != nil {
			return nil, false, err
		}
		if link == nil {
			continue
		}
		if err := link.Click(ctx); err != nil {
			return nil, false, err
		}

		id, err := p.waitForThread(ctx, session)
		if err != nil {
			return nil, false, err
		}
		if id == "" {
			p.Logger.Debug().Int("position", i).Msg("Conversation did not open")
			continue
		}
		name, err := session.Text(ctx, threadHeader)
		if err != nil {
			return nil, false, err
		}
		found = append(found, conversation{ID: id, Name: strings.TrimSpace(name)})
	}
}

// waitForThread polls the URL until it names a thread; "" when it never does
func (p *InboxPoller) waitForThread(ctx context.Context, session interfaces.BrowserSession) (string, error) {
	for attempt := 0; attempt < openThreadAttempts; attempt++ {
		url, err := session.URL(ctx)
		if err != nil {
			return "", err
		}
		if id, ok := threadIDFromURL(url); ok {
			return id, nil
		}
		if err := p.Pacer.Settle(ctx, openThreadPoll); err != nil {
			return "", err
		}
	}
	return "", nil
}

// readThread collects the counterpart's messages newer than the thread's last check
func (p *InboxPoller) readThread(ctx context.Context, session interfaces.BrowserSession, t models.Thread) (models.ThreadUpdate, error) {
	update := models.ThreadUpdate{ThreadID: t.ID}
	if err := p.navigate(ctx, session, fmt.Sprintf(threadURLFormat, t.ID), interfaces.WaitLoad, threadOpenSettle); err != nil {
		return update, err
	}
	list, err := session.WaitFor(ctx, messageList, messageListTimeout)
	if err != nil {
		return update, err
	}
	if list == nil {
		return update, models.NewTaskError(models.ErrElementNotFound, t.ID, "message list not found", nil)
	}
	if err := p.Pacer.Settle(ctx, messageListSettle); err != nil {
		return update, err
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return update, err
	}
	now := p.Now()
	messages, err := parseThreadMessages(html, t.Name, now)
	if err != nil {
		return update, err
	}

	var since time.Time
	if t.LastChecked != nil {
		since = *t.LastChecked
	}
	for _, m := range messages {
		if m.Timestamp.After(since) {
			update.Messages = append(update.Messages, m)
		}
	}
	update.CheckedAt = now
	return update, nil
}
