package challenge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/services/pacing"
)

const (
	pinInputSelector  = `input[name="pin"]`
	pinSubmitSelector = "#email-pin-submit-button"
	pinSettle         = 5 * time.Second
	// Mail clocks drift; accept messages sent shortly before the challenge appeared
	pinLookback = 2 * time.Minute
)

// MailboxFunc returns the mailbox receiving PINs for account, nil when it has none
type MailboxFunc func(account models.Account) Mailbox

// PinResolver completes e-mailed PIN challenges by reading the code from the
// account's inbox. Anything it cannot handle goes to next.
type PinResolver struct {
	mailboxFor MailboxFunc
	next       interfaces.ChallengeResolver
	typist     *pacing.Typist
	sleeper    pacing.Sleeper
	poll       time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     arbor.ILogger
}

var _ interfaces.ChallengeResolver = (*PinResolver)(nil)

// PinOption configures a PinResolver
type PinOption func(*PinResolver)

// WithPinTypist replaces the typist entering the code
func WithPinTypist(t *pacing.Typist) PinOption {
	return func(r *PinResolver) { r.typist = t }
}

// WithPinSleeper replaces the sleeper used between mailbox polls
func WithPinSleeper(s pacing.Sleeper) PinOption {
	return func(r *PinResolver) { r.sleeper = s }
}

// WithPinClock replaces time.Now
func WithPinClock(now func() time.Time) PinOption {
	return func(r *PinResolver) { r.now = now }
}

// NewPinResolver creates a resolver polling every config.PollInterval for up to config.Timeout
func NewPinResolver(config common.IMAPConfig, mailboxFor MailboxFunc, next interfaces.ChallengeResolver, logger arbor.ILogger, opts ...PinOption) *PinResolver {
	r := &PinResolver{
		mailboxFor: mailboxFor,
		next:       next,
		typist:     pacing.NewTypist(),
		sleeper:    pacing.RealSleeper{},
		poll:       common.ParseDuration(config.PollInterval, 10*time.Second),
		timeout:    common.ParseDuration(config.Timeout, 5*time.Minute),
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IMAPMailboxes returns a MailboxFunc backed by IMAP
func IMAPMailboxes(config common.IMAPConfig, logger arbor.ILogger) MailboxFunc {
	return func(account models.Account) Mailbox {
		if mb := NewIMAPMailbox(config, account, logger); mb != nil {
			return mb
		}
		return nil
	}
}

// Resolve enters the e-mailed PIN when the page asks for one
func (r *PinResolver) Resolve(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	input, err := session.Find(ctx, pinInputSelector)
	if err != nil {
		return err
	}
	var mailbox Mailbox
	if input != nil && r.mailboxFor != nil {
		mailbox = r.mailboxFor(account)
	}
	if mailbox == nil {
		return r.fallback(ctx, account, session)
	}

	since := r.now().Add(-pinLookback)
	r.logger.Info().Str("account", account.ID).Msg("Waiting for e-mailed verification PIN")

	for waited := time.Duration(0); waited <= r.timeout; waited += r.poll {
		emails, err := mailbox.FetchUnread(ctx, since)
		if err != nil {
			r.logger.Warn().Err(err).Str("account", account.ID).Msg("Failed to read mailbox")
		} else if pin, uid, ok := findPIN(emails); ok {
			if err := r.submit(ctx, session, input, pin); err != nil {
				return err
			}
			if err := mailbox.MarkRead(ctx, uid); err != nil {
				r.logger.Debug().Err(err).Msg("Failed to mark PIN e-mail as read")
			}
			r.logger.Info().Str("account", account.ID).Msg("Verification PIN submitted")
			return nil
		}

		if err := r.sleeper.Sleep(ctx, r.poll); err != nil {
			return err
		}
	}

	r.logger.Warn().
		Str("account", account.ID).
		Dur("timeout", r.timeout).
		Msg("No verification PIN received, asking the operator")
	return r.fallback(ctx, account, session)
}

func (r *PinResolver) fallback(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	if r.next == nil {
		return fmt.Errorf("challenge for %s cannot be resolved automatically", account.ID)
	}
	return r.next.Resolve(ctx, account, session)
}

func (r *PinResolver) submit(ctx context.Context, session interfaces.BrowserSession, input interfaces.Element, pin string) error {
	if err := r.typist.Type(ctx, session, input, pin); err != nil {
		return fmt.Errorf("failed to type PIN: %w", err)
	}
	button, err := session.Find(ctx, pinSubmitSelector)
	if err != nil {
		return err
	}
	if button == nil {
		return models.NewTaskError(models.ErrElementNotFound, pinSubmitSelector, "PIN submit button not found", nil)
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("failed to submit PIN: %w", err)
	}
	return r.sleeper.Sleep(ctx, pinSettle)
}

// findPIN picks the code from the newest LinkedIn verification e-mail
func findPIN(emails []Email) (string, uint32, bool) {
	sorted := append([]Email(nil), emails...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })

	for _, e := range sorted {
		if !isVerificationMail(e) {
			continue
		}
		if pin, ok := DetectPIN(e.Subject + "\n" + e.Body); ok {
			return pin, e.UID, true
		}
	}
	return "", 0, false
}

func isVerificationMail(e Email) bool {
	from := strings.ToLower(e.From)
	subject := strings.ToLower(e.Subject)
	return strings.Contains(from, "linkedin") ||
		strings.Contains(subject, "pin") ||
		strings.Contains(subject, "verification")
}
