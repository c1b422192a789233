package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/services/pacing"
)

const (
	landmarkSelector = `[aria-label="Search"]`
	usernameSelector = "#username"
	passwordSelector = "#password"
	submitSelector   = `button[type="submit"]`

	landmarkTimeout = 10 * time.Second
	fieldTimeout    = 10 * time.Second
	feedSettle      = 5 * time.Second
	loginSettle     = 3 * time.Second
	submitSettle    = 8 * time.Second
)

// challengeMarkers identify a post-login security challenge page (lowercase)
var challengeMarkers = []string{"security challenge", "verification"}

// Service hands out authenticated browser sessions, one per account at a time.
// Cookies from the last successful login are reused while they stay fresh.
type Service struct {
	driver      interfaces.BrowserDriver
	credentials interfaces.CredentialStorage
	resolver    interfaces.ChallengeResolver
	pacer       *pacing.Pacer
	typist      *pacing.Typist
	locks       *keyedLock
	now         func() time.Time
	logger      arbor.ILogger

	feedURL         string
	loginURL        string
	navTimeout      time.Duration
	navRetryTimeout time.Duration
	warnHorizon     time.Duration
}

var _ interfaces.SessionProvider = (*Service)(nil)

// Option configures the Service
type Option func(*Service)

// WithChallengeResolver sets the resolver invoked on a security challenge page
func WithChallengeResolver(r interfaces.ChallengeResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithPacer replaces the pacer used for settle waits
func WithPacer(p *pacing.Pacer) Option {
	return func(s *Service) {
		s.pacer = p
	}
}

// WithTypist replaces the typist used for the login form
func WithTypist(t *pacing.Typist) Option {
	return func(s *Service) {
		s.typist = t
	}
}

// WithClock replaces time.Now for cookie validation
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the authentication service
func NewService(config common.AuthConfig, driver interfaces.BrowserDriver, credentials interfaces.CredentialStorage, logger arbor.ILogger, opts ...Option) *Service {
	s := &Service{
		driver:          driver,
		credentials:     credentials,
		pacer:           pacing.NewPacer(logger),
		typist:          pacing.NewTypist(),
		locks:           newKeyedLock(),
		now:             time.Now,
		logger:          logger,
		feedURL:         config.FeedURL,
		loginURL:        config.LoginURL,
		navTimeout:      common.ParseDuration(config.NavTimeout, 30*time.Second),
		navRetryTimeout: common.ParseDuration(config.NavRetryTimeout, 60*time.Second),
		warnHorizon:     common.ParseDuration(config.WarnHorizon, time.Hour),
	}
	if s.feedURL == "" {
		s.feedURL = "https://www.linkedin.com/feed/"
	}
	if s.loginURL == "" {
		s.loginURL = "https://www.linkedin.com/login"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireSession returns a logged-in session for account. The caller must Close it,
// which releases the account for other tasks.
func (s *Service) AcquireSession(ctx context.Context, account models.Account) (interfaces.BrowserSession, error) {
	if err := s.locks.Lock(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("waiting for account %s: %w", account.ID, err)
	}
	release := func() { s.locks.Unlock(account.ID) }

	session, err := s.driver.Launch(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if err := s.authenticate(ctx, account, session); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			s.logger.Debug().Err(closeErr).Msg("Failed to close session after auth failure")
		}
		release()
		return nil, err
	}

	return &lockedSession{BrowserSession: session, release: release}, nil
}

func (s *Service) authenticate(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	bundle, err := s.credentials.Load(ctx, account.ID)
	switch {
	case errors.Is(err, interfaces.ErrCredentialsNotFound):
		s.logger.Info().Str("account", account.ID).Msg("No stored cookies, logging in")
	case err != nil:
		s.logger.Warn().Err(err).Str("account", account.ID).Msg("Failed to load stored cookies, logging in")
	default:
		if s.bundleUsable(account, bundle) {
			err := s.resume(ctx, session, bundle)
			if err == nil {
				s.logger.Info().Str("account", account.ID).Msg("Session restored from stored cookies")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("account", account.ID).Msg("Stored cookies rejected, logging in")
		}
	}

	if err := s.login(ctx, account, session); err != nil {
		return err
	}
	s.saveBundle(ctx, account, session)
	return nil
}

func (s *Service) bundleUsable(account models.Account, bundle *models.CredentialBundle) bool {
	result := models.ValidateBundle(bundle, s.now(), s.warnHorizon)
	for _, check := range result.Checks {
		switch check.State {
		case models.CookieExpiringSoon:
			s.logger.Warn().
				Str("account", account.ID).
				Str("cookie", check.Name).
				Dur("expires_in", check.ExpiresIn).
				Msg("Cookie expiring soon")
		case models.CookieMissing, models.CookieExpired:
			s.logger.Info().
				Str("account", account.ID).
				Str("cookie", check.Name).
				Str("state", string(check.State)).
				Msg("Critical cookie not usable")
		}
	}
	return result.Usable
}

// resume injects stored cookies and confirms the feed loads logged in
func (s *Service) resume(ctx context.Context, session interfaces.BrowserSession, bundle *models.CredentialBundle) error {
	if err := session.SetCookies(ctx, bundle.Cookies); err != nil {
		return fmt.Errorf("failed to inject cookies: %w", err)
	}

	err := session.Navigate(ctx, s.feedURL, interfaces.NavigateOptions{Timeout: s.navTimeout})
	if err != nil {
		s.logger.Debug().Err(err).Msg("Feed navigation failed, retrying with longer timeout")
		err = session.Navigate(ctx, s.feedURL, interfaces.NavigateOptions{Timeout: s.navRetryTimeout})
	}
	if err != nil {
		return err
	}

	if err := s.pacer.Settle(ctx, feedSettle); err != nil {
		return err
	}
	return s.confirmLandmark(ctx, session)
}

func (s *Service) login(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	if err := session.Navigate(ctx, s.loginURL, interfaces.NavigateOptions{Timeout: s.navRetryTimeout}); err != nil {
		return err
	}
	if err := s.pacer.Settle(ctx, loginSettle); err != nil {
		return err
	}

	if err := s.fill(ctx, session, usernameSelector, account.Email); err != nil {
		return err
	}
	if err := s.fill(ctx, session, passwordSelector, account.Password); err != nil {
		return err
	}

	submit, err := session.Find(ctx, submitSelector)
	if err != nil {
		return err
	}
	if submit == nil {
		return models.NewTaskError(models.ErrElementNotFound, account.ID, "login submit button not found", nil)
	}
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	if err := s.pacer.Settle(ctx, submitSettle); err != nil {
		return err
	}

	current, err := session.URL(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(current, "feed") {
		if !s.isChallenge(ctx, session) {
			return models.NewLoginFailed(account.ID, current)
		}
		if s.resolver == nil {
			return models.NewLoginFailed(account.ID, current)
		}
		s.logger.Warn().Str("account", account.ID).Str("url", current).Msg("Security challenge detected, waiting for resolution")
		if err := s.resolver.Resolve(ctx, account, session); err != nil {
			return fmt.Errorf("security challenge not resolved: %w", err)
		}
		s.logger.Info().Str("account", account.ID).Msg("Security challenge resolved")
	}

	if err := s.confirmLandmark(ctx, session); err != nil {
		return models.NewSessionUnconfirmed(account.ID, err)
	}
	s.logger.Info().Str("account", account.ID).Msg("Logged in")
	return nil
}

func (s *Service) fill(ctx context.Context, session interfaces.BrowserSession, selector, value string) error {
	el, err := session.WaitFor(ctx, selector, fieldTimeout)
	if err != nil {
		return err
	}
	if el == nil {
		return models.NewTaskError(models.ErrElementNotFound, selector, "login field not found: "+selector, nil)
	}
	return s.typist.Type(ctx, session, el, value)
}

// isChallenge inspects the page body for a challenge marker
func (s *Service) isChallenge(ctx context.Context, session interfaces.BrowserSession) bool {
	var body string
	if html, err := session.HTML(ctx); err == nil {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			body = doc.Find("body").Text()
		}
	}
	if body == "" {
		body, _ = session.Text(ctx, "body")
	}
	return containsChallenge(body)
}

func containsChallenge(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (s *Service) confirmLandmark(ctx context.Context, session interfaces.BrowserSession) error {
	el, err := session.WaitFor(ctx, landmarkSelector, landmarkTimeout)
	if err != nil {
		return err
	}
	if el == nil {
		return errors.New("logged-in landmark not found")
	}
	return nil
}

// saveBundle replaces the stored cookies; failure only costs the next login
func (s *Service) saveBundle(ctx context.Context, account models.Account, session interfaces.BrowserSession) {
	cookies, err := session.Cookies(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("account", account.ID).Msg("Failed to read cookies after login")
		return
	}
	bundle := &models.CredentialBundle{AccountID: account.ID, Cookies: cookies, SavedAt: s.now()}
	if err := s.credentials.Save(ctx, bundle); err != nil {
		s.logger.Warn().Err(err).Str("account", account.ID).Msg("Failed to save cookies")
		return
	}
	s.logger.Debug().Str("account", account.ID).Int("cookies", len(cookies)).Msg("Cookies saved")
}

// Busy reports whether account currently holds a session
func (s *Service) Busy(accountID string) bool {
	return s.locks.Held(accountID)
}
