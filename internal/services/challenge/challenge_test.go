package challenge

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
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
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func challengeSession(t *testing.T) *browsertest.Session {
	t.Helper()
	driver := browsertest.NewDriver()
	driver.Route("https://www.linkedin.com/checkpoint/challenge/x", browsertest.NewPage("https://www.linkedin.com/checkpoint/challenge/x"))
	s, err := driver.Launch(context.Background())
	require.NoError(t, err)
	session := s.(*browsertest.Session)
	session.LoadURL("https://www.linkedin.com/checkpoint/challenge/x")
	return session
}

// waitPending polls until n challenges are parked
func waitPending(t *testing.T, g *Gate, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(g.Pending()) == n }, time.Second, 5*time.Millisecond)
}

func TestGateBlocksUntilConfirmed(t *testing.T) {
	notifier := &recordingNotifier{}
	gate := NewGate(arbor.NewNoOpLogger(), notifier)
	account := models.Account{ID: "primary"}

	done := make(chan error, 1)
	session := challengeSession(t)
	go func() { done <- gate.Resolve(context.Background(), account, session) }()

	waitPending(t, gate, 1)
	pending := gate.Pending()[0]
	assert.Equal(t, "primary", pending.AccountID)
	assert.Contains(t, pending.URL, "checkpoint")
	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("resolve returned before confirmation")
	default:
	}

	_, err := gate.Confirm("primary")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Empty(t, gate.Pending())
}

func TestGateConfirmUnknownAccount(t *testing.T) {
	gate := NewGate(arbor.NewNoOpLogger())
	_, err := gate.Confirm("nobody")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
	_, err = gate.Confirm("")
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestGateResolveHonoursContext(t *testing.T) {
	gate := NewGate(arbor.NewNoOpLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := gate.Resolve(ctx, models.Account{ID: "primary"}, challengeSession(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, gate.Pending())
}

func TestGateEmptyConfirmTakesOldest(t *testing.T) {
	gate := NewGate(arbor.NewNoOpLogger())
	clock := time.Unix(100, 0)
	var mu sync.Mutex
	gate.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	results := make(chan string, 2)
	for i, id := range []string{"first", "second"} {
		session := challengeSession(t)
		go func(id string) {
			if err := gate.Resolve(context.Background(), models.Account{ID: id}, session); err == nil {
				results <- id
			}
		}(id)
		waitPending(t, gate, i+1)
	}

	pending, err := gate.Confirm("")
	require.NoError(t, err)
	assert.Equal(t, "first", pending.AccountID)
	assert.Equal(t, "first", <-results)

	_, err = gate.Confirm("")
	require.NoError(t, err)
	assert.Equal(t, "second", <-results)
}

func TestConsoleConfirmsOnEnter(t *testing.T) {
	gate := NewGate(arbor.NewNoOpLogger())
	done := make(chan error, 1)
	session := challengeSession(t)
	go func() { done <- gate.Resolve(context.Background(), models.Account{ID: "primary"}, session) }()
	waitPending(t, gate, 1)

	out := &bytes.Buffer{}
	console := NewConsole(gate, strings.NewReader("\n"), out, arbor.NewNoOpLogger())
	console.Run(context.Background())

	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "Confirmed challenge for primary")
}

func TestConsoleReportsUnknownAccount(t *testing.T) {
	out := &bytes.Buffer{}
	console := NewConsole(NewGate(arbor.NewNoOpLogger()), strings.NewReader("ghost\n\n"), out, arbor.NewNoOpLogger())
	console.Run(context.Background())
	assert.Equal(t, "No challenge pending for \"ghost\"\n", out.String())
}

func TestTelegramReplies(t *testing.T) {
	gate := NewGate(arbor.NewNoOpLogger())
	tg := &Telegram{
		gate:   gate,
		stats:  func(ctx context.Context) (string, error) { return "connect: 2 waiting", nil },
		logger: arbor.NewNoOpLogger(),
	}
	ctx := context.Background()

	assert.Equal(t, "No pending challenges", tg.reply(ctx, "/pending"))
	assert.Equal(t, "connect: 2 waiting", tg.reply(ctx, "/stats@OutreachBot"))
	assert.Contains(t, tg.reply(ctx, "/confirm primary"), "no pending challenge")

	done := make(chan error, 1)
	session := challengeSession(t)
	go func() { done <- gate.Resolve(ctx, models.Account{ID: "primary"}, session) }()
	waitPending(t, gate, 1)

	assert.Contains(t, tg.reply(ctx, "/pending"), "primary waiting")
	assert.Equal(t, "Confirmed challenge for primary", tg.reply(ctx, "/confirm primary"))
	require.NoError(t, <-done)

	tg.stats = func(ctx context.Context) (string, error) { return "", errors.New("queue closed") }
	assert.Equal(t, "Stats unavailable: queue closed", tg.reply(ctx, "/stats"))
}

func TestDetectPIN(t *testing.T) {
	cases := map[string]string{
		"Here's your verification code 482913":                 "482913",
		"Your PIN: 120045\nThis code expires in 15 minutes":    "120045",
		"Hi Jane,\n\n  774210  \n\nUse this to finish sign in": "774210",
		"Subject: Jane, here's your PIN 555123":                "555123",
	}
	for text, want := range cases {
		pin, ok := DetectPIN(text)
		assert.True(t, ok, text)
		assert.Equal(t, want, pin, text)
	}

	_, ok := DetectPIN("Welcome to LinkedIn, call 12345")
	assert.False(t, ok)
}

type fakeMailbox struct {
	mu      sync.Mutex
	batches [][]Email
	fetches int
	read    []uint32
}

func (m *fakeMailbox) FetchUnread(ctx context.Context, since time.Time) ([]Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *fakeMailbox) MarkRead(ctx context.Context, uids ...uint32) error {
	m.mu.Lock()
	m.read = append(m.read, uids...)
	m.mu.Unlock()
	return nil
}

type countingResolver struct{ calls int }

func (r *countingResolver) Resolve(ctx context.Context, account models.Account, session interfaces.BrowserSession) error {
	r.calls++
	return nil
}

func pinSession(t *testing.T) (*browsertest.Session, *browsertest.Element, *browsertest.Element) {
	t.Helper()
	input := browsertest.NewElement("pin", "")
	submit := browsertest.NewElement("submit", "Submit")
	page := browsertest.NewPage("https://www.linkedin.com/checkpoint/challenge/pin").
		Add(pinInputSelector, input).
		Add(pinSubmitSelector, submit)

	driver := browsertest.NewDriver()
	s, err := driver.Launch(context.Background())
	require.NoError(t, err)
	session := s.(*browsertest.Session)
	session.Load(page)
	return session, input, submit
}

func newTestPinResolver(mailbox Mailbox, next *countingResolver) *PinResolver {
	sleeper := &pacing.RecordingSleeper{}
	config := common.IMAPConfig{PollInterval: "10s", Timeout: "30s"}
	return NewPinResolver(config, func(models.Account) Mailbox { return mailbox }, next, arbor.NewNoOpLogger(),
		WithPinSleeper(sleeper),
		WithPinTypist(pacing.NewTypist(pacing.WithTypistSleeper(sleeper), pacing.WithTypistRand(rand.New(rand.NewSource(1))))),
	)
}

func TestPinResolverTypesNewestCode(t *testing.T) {
	session, input, submit := pinSession(t)
	now := time.Now()
	mailbox := &fakeMailbox{batches: [][]Email{
		nil,
		{
			{UID: 7, From: "security-noreply@linkedin.com", Subject: "Here's your verification code 111111", Date: now.Add(-time.Hour)},
			{UID: 9, From: "security-noreply@linkedin.com", Subject: "Here's your verification code 654321", Date: now},
			{UID: 8, From: "news@example.com", Subject: "Weekly digest 999999", Date: now},
		},
	}}
	next := &countingResolver{}

	err := newTestPinResolver(mailbox, next).Resolve(context.Background(), models.Account{ID: "primary"}, session)
	require.NoError(t, err)

	assert.Equal(t, "654321", input.Value())
	assert.Equal(t, 1, submit.Clicks())
	assert.Equal(t, []uint32{9}, mailbox.read)
	assert.Equal(t, 2, mailbox.fetches)
	assert.Zero(t, next.calls)
}

func TestPinResolverFallsBackAfterTimeout(t *testing.T) {
	session, _, submit := pinSession(t)
	mailbox := &fakeMailbox{}
	next := &countingResolver{}

	err := newTestPinResolver(mailbox, next).Resolve(context.Background(), models.Account{ID: "primary"}, session)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Zero(t, submit.Clicks())
	assert.Equal(t, 4, mailbox.fetches)
}

func TestPinResolverDefersNonPinChallenges(t *testing.T) {
	mailbox := &fakeMailbox{}
	next := &countingResolver{}

	err := newTestPinResolver(mailbox, next).Resolve(context.Background(), models.Account{ID: "primary"}, challengeSession(t))
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Zero(t, mailbox.fetches)
}

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("bot@example.com", "ops@example.com", "Outreach: action required", "line one\nline two", time.Unix(0, 0).UTC())
	assert.True(t, strings.HasPrefix(msg, "From: bot@example.com\r\nTo: ops@example.com\r\n"))
	assert.Contains(t, msg, "Subject: Outreach: action required\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline one\r\nline two\r\n"))
}

func TestMailNotifierRequiresRecipient(t *testing.T) {
	_, err := NewMailNotifier(common.SMTPConfig{Host: "smtp.example.com", Username: "u", Password: "p"}, arbor.NewNoOpLogger())
	assert.Error(t, err)
}
