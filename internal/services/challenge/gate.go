// Package challenge resolves the security checks shown after a login. The Gate
// blocks the login until an operator confirms the challenge was completed, from the
// console, the HTTP API or Telegram. The PinResolver completes e-mailed PIN
// challenges without an operator.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// ErrNoPendingChallenge is returned when a confirmation matches no waiting login
var ErrNoPendingChallenge = errors.New("no pending challenge")

// Pending describes one login waiting for an operator
type Pending struct {
	AccountID string    `json:"accountId"`
	URL       string    `json:"url"`
	Since     time.Time `json:"since"`
}

type waiter struct {
	pending Pending
	done    chan struct{}
}

// Gate parks challenged logins until confirmed
type Gate struct {
	mu        sync.Mutex
	waiters   map[string]*waiter
	notifiers []interfaces.Notifier
	now       func() time.Time
	logger    arbor.ILogger
}

var _ interfaces.ChallengeResolver = (*Gate)(nil)

// NewGate creates a gate announcing challenges to notifiers
func NewGate(logger arbor.ILogger, notifiers ...interfaces.Notifier) *Gate {
	return &Gate{
		waiters:   make(map[string]*waiter),
		notifiers: notifiers,
		now:       time.Now,
		logger:    logger,
	}
}

// AddNotifier registers another channel for challenge announcements
func (g *Gate) AddNotifier(n interfaces.Notifier) {
	g.mu.Lock()
	g.notifiers = append(g.notifiers, n)
	g.mu.Unlock()
}

// Resolve blocks until the account's challenge is confirmed or ctx ends
func (g *Gate) Resolve(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	url, _ := session.URL(ctx)
	w := &waiter{
		pending: Pending{AccountID: account.ID, URL: url, Since: g.now()},
		done:    make(chan struct{}),
	}

	g.mu.Lock()
	if prev, ok := g.waiters[account.ID]; ok {
		close(prev.done)
	}
	g.waiters[account.ID] = w
	notifiers := append([]interfaces.Notifier(nil), g.notifiers...)
	g.mu.Unlock()

	g.logger.Warn().
		Str("account", account.ID).
		Str("url", url).
		Msg("Complete the security challenge in the browser, then confirm")

	message := fmt.Sprintf("Security challenge for account %s (%s). Complete it in the browser, then confirm with /confirm %s",
		account.ID, url, account.ID)
	for _, n := range notifiers {
		if err := n.Notify(ctx, message); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to send challenge notification")
		}
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		if g.waiters[account.ID] == w {
			delete(g.waiters, account.ID)
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Confirm releases the login waiting for accountID. An empty id confirms the oldest.
func (g *Gate) Confirm(accountID string) (Pending, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if accountID == "" {
		var oldest *waiter
		for id, w := range g.waiters {
			if oldest == nil || w.pending.Since.Before(oldest.pending.Since) {
				oldest, accountID = w, id
			}
		}
	}

	w, ok := g.waiters[accountID]
	if !ok {
		return Pending{}, fmt.Errorf("%w for account %q", ErrNoPendingChallenge, accountID)
	}
	delete(g.waiters, accountID)
	close(w.done)

	g.logger.Info().Str("account", accountID).Msg("Security challenge confirmed")
	return w.pending, nil
}

// Pending lists waiting logins, oldest first
func (g *Gate) Pending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	list := make([]Pending, 0, len(g.waiters))
	for _, w := range g.waiters {
		list = append(list, w.pending)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Since.Before(list[j].Since) })
	return list
}
