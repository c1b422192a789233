package auth

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/services/browser/browsertest"
	"github.com/ternarybob/outreach/internal/services/pacing"
	"github.com/ternarybob/outreach/internal/storage/file"
)

const (
	feedURL  = "https://www.linkedin.com/feed/"
	loginURL = "https://www.linkedin.com/login"
)

var testNow = time.Unix(1_700_000_000, 0)

var testAccount = models.Account{ID: "primary", Email: "jane@example.com", Password: "s3cret"}

func freshCookies(expires time.Time) []models.Cookie {
	exp := float64(expires.Unix())
	return []models.Cookie{
		{Name: "li_at", Value: "token", Domain: ".linkedin.com", Path: "/", Expires: exp, Secure: true, HTTPOnly: true},
		{Name: "li_rm", Value: "remember", Domain: ".linkedin.com", Path: "/", Expires: exp},
		{Name: "JSESSIONID", Value: "ajax:1", Domain: ".www.linkedin.com", Path: "/", Expires: -1, Session: true},
	}
}

type fixture struct {
	driver   *browsertest.Driver
	store    interfaces.CredentialStorage
	service  *Service
	username *browsertest.Element
	password *browsertest.Element
	submit   *browsertest.Element
}

// newFixture scripts a site whose login form lands on afterSubmit
func newFixture(t *testing.T, afterSubmit *browsertest.Page, opts ...Option) *fixture {
	t.Helper()
	logger := arbor.NewNoOpLogger()

	store, err := file.NewCredentialStorage(t.TempDir(), logger)
	require.NoError(t, err)

	f := &fixture{
		driver:   browsertest.NewDriver(),
		store:    store,
		username: browsertest.NewElement("username", ""),
		password: browsertest.NewElement("password", ""),
		submit:   browsertest.NewElement("submit", "Sign in"),
	}
	f.submit.OnClick = func(s *browsertest.Session) {
		s.GrantCookies(freshCookies(testNow.Add(365 * 24 * time.Hour)))
		s.Load(afterSubmit)
	}

	feed := browsertest.NewPage(feedURL).Add(landmarkSelector, browsertest.NewElement("search", ""))
	login := browsertest.NewPage(loginURL).
		Add(usernameSelector, f.username).
		Add(passwordSelector, f.password).
		Add(submitSelector, f.submit)
	f.driver.Route(feedURL, feed).Route(loginURL, login)

	sleeper := &pacing.RecordingSleeper{}
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithPacer(pacing.NewPacer(logger, pacing.WithPacerSleeper(sleeper))),
		WithTypist(pacing.NewTypist(pacing.WithTypistSleeper(sleeper), pacing.WithTypistRand(rand.New(rand.NewSource(1))))),
	}
	config := common.AuthConfig{FeedURL: feedURL, LoginURL: loginURL}
	f.service = NewService(config, f.driver, store, logger, append(base, opts...)...)
	return f
}

func feedPage() *browsertest.Page {
	return browsertest.NewPage(feedURL).Add(landmarkSelector, browsertest.NewElement("search", ""))
}

func TestExpiredCriticalCookieForcesFreshLogin(t *testing.T) {
	f := newFixture(t, feedPage())
	ctx := context.Background()

	stale := freshCookies(testNow.Add(24 * time.Hour))
	stale[0].Expires = float64(testNow.Add(-time.Minute).Unix())
	require.NoError(t, f.store.Save(ctx, &models.CredentialBundle{AccountID: "primary", Cookies: stale}))

	session, err := f.service.AcquireSession(ctx, testAccount)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, []string{loginURL}, f.driver.Last().Navigations())
	assert.Equal(t, "jane@example.com", f.username.Value())
	assert.Equal(t, "s3cret", f.password.Value())
	assert.Equal(t, 1, f.submit.Clicks())

	saved, err := f.store.Load(ctx, "primary")
	require.NoError(t, err)
	li, ok := saved.Cookie("li_at")
	require.True(t, ok)
	assert.True(t, li.ExpiresAt().After(testNow))
}

func TestBundleRoundTripIsReused(t *testing.T) {
	f := newFixture(t, feedPage())
	ctx := context.Background()

	first, err := f.service.AcquireSession(ctx, testAccount)
	require.NoError(t, err)
	require.NoError(t, first.Close())
	assert.Equal(t, []string{loginURL}, f.driver.Last().Navigations())

	second, err := f.service.AcquireSession(ctx, testAccount)
	require.NoError(t, err)
	defer second.Close()

	resumed := f.driver.Last()
	assert.Equal(t, []string{feedURL}, resumed.Navigations())
	cookies, err := resumed.Cookies(ctx)
	require.NoError(t, err)
	assert.Len(t, cookies, 3)
	assert.Equal(t, 1, f.submit.Clicks())
}

func TestFeedNavigationRetriedOnce(t *testing.T) {
	f := newFixture(t, feedPage())
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &models.CredentialBundle{AccountID: "primary", Cookies: freshCookies(testNow.Add(48 * time.Hour))}))

	f.driver.FailNavigation(feedURL, models.NewTaskError(models.ErrNavigationTimeout, feedURL, "navigation timed out", nil))

	session, err := f.service.AcquireSession(ctx, testAccount)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, []string{feedURL, feedURL}, f.driver.Last().Navigations())
	assert.Zero(t, f.submit.Clicks())
}

func TestRejectedCookiesFallBackToLogin(t *testing.T) {
	f := newFixture(t, feedPage())
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &models.CredentialBundle{AccountID: "primary", Cookies: freshCookies(testNow.Add(48 * time.Hour))}))

	// Feed served without the logged-in landmark
	f.driver.Route(feedURL, browsertest.NewPage(feedURL))
	f.submit.OnClick = func(s *browsertest.Session) {
		s.GrantCookies(freshCookies(testNow.Add(72 * time.Hour)))
		s.Load(feedPage())
	}

	session, err := f.service.AcquireSession(ctx, testAccount)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, []string{feedURL, loginURL}, f.driver.Last().Navigations())
	assert.Equal(t, 1, f.submit.Clicks())
}

func TestLoginFailedWithoutChallenge(t *testing.T) {
	rejected := browsertest.NewPage("https://www.linkedin.com/uas/login-submit")
	rejected.HTML = "<html><body><p>Wrong email or password.</p></body></html>"
	f := newFixture(t, rejected)

	_, err := f.service.AcquireSession(context.Background(), testAccount)
	require.Error(t, err)

	te, ok := models.AsTaskError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrLoginFailed, te.Kind)
	assert.False(t, te.Retryable)
	assert.Equal(t, "Login failed. Current URL: https://www.linkedin.com/uas/login-submit", te.Message)

	assert.True(t, f.driver.Last().Closed())
	assert.False(t, f.service.Busy("primary"))
}

type fakeResolver struct {
	calls int
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	session.(*browsertest.Session).Load(feedPage())
	return nil
}

func TestChallengeIsResolvedBeforeConfirming(t *testing.T) {
	challenge := browsertest.NewPage("https://www.linkedin.com/checkpoint/challenge/abc")
	challenge.HTML = "<html><body><h1>Let's do a quick Security Challenge</h1></body></html>"

	resolver := &fakeResolver{}
	f := newFixture(t, challenge, WithChallengeResolver(resolver))

	session, err := f.service.AcquireSession(context.Background(), testAccount)
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, 1, resolver.calls)
}

func TestChallengeResolverFailureAbortsLogin(t *testing.T) {
	challenge := browsertest.NewPage("https://www.linkedin.com/checkpoint/challenge/abc")
	challenge.HTML = "<html><body>Enter the verification code</body></html>"

	resolver := &fakeResolver{err: context.Canceled}
	f := newFixture(t, challenge, WithChallengeResolver(resolver))

	_, err := f.service.AcquireSession(context.Background(), testAccount)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.service.Busy("primary"))
}

func TestMissingLandmarkAfterLoginIsUnconfirmed(t *testing.T) {
	f := newFixture(t, browsertest.NewPage(feedURL))

	_, err := f.service.AcquireSession(context.Background(), testAccount)
	te, ok := models.AsTaskError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrSessionUnconfirmed, te.Kind)
	assert.True(t, te.Retryable)
}

func TestSessionsOfOneAccountAreSerialized(t *testing.T) {
	f := newFixture(t, feedPage())

	first, err := f.service.AcquireSession(context.Background(), testAccount)
	require.NoError(t, err)
	assert.True(t, f.service.Busy("primary"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.service.AcquireSession(ctx, testAccount)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	other := models.Account{ID: "secondary", Email: "joe@example.com", Password: "pw"}
	second, err := f.service.AcquireSession(context.Background(), other)
	require.NoError(t, err)
	require.NoError(t, second.Close())

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	assert.False(t, f.service.Busy("primary"))

	third, err := f.service.AcquireSession(context.Background(), testAccount)
	require.NoError(t, err)
	require.NoError(t, third.Close())
}

func TestLaunchFailureReleasesLock(t *testing.T) {
	f := newFixture(t, feedPage())
	f.driver.LaunchErr = errors.New("no chrome")

	_, err := f.service.AcquireSession(context.Background(), testAccount)
	assert.Error(t, err)
	assert.False(t, f.service.Busy("primary"))
}

func TestContainsChallenge(t *testing.T) {
	assert.True(t, containsChallenge("Quick SECURITY CHALLENGE"))
	assert.True(t, containsChallenge("email verification required"))
	assert.False(t, containsChallenge("Welcome back"))
}
