package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/outreach/internal/models"
)

// WaitUntil selects when a navigation is considered done
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
)

// NavigateOptions bounds a navigation
type NavigateOptions struct {
	Timeout   time.Duration
	WaitUntil WaitUntil
}

// Keys understood by BrowserSession.Press
const (
	KeyBackspace = "Backspace"
	KeyEnter     = "Enter"
)

// BrowserDriver launches browser sessions
type BrowserDriver interface {
	Launch(ctx context.Context) (BrowserSession, error)
}

// BrowserSession is one stateful browser tab. Lookups return a nil element (and nil
// error) when nothing matches; errors are reserved for driver failures.
type BrowserSession interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	URL(ctx context.Context) (string, error)
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// FindByText returns the first element matching selector whose trimmed text equals text
	FindByText(ctx context.Context, selector, text string) (Element, error)
	// WaitFor polls for a visible element until timeout; nil when it never appears
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	Press(ctx context.Context, key string) error
	SendKeys(ctx context.Context, text string) error
	Scroll(ctx context.Context, dy int) error
	HTML(ctx context.Context) (string, error)
	// Text returns the inner text of the first element matching selector, "" when absent
	Text(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context, path string) error
	Cookies(ctx context.Context) ([]models.Cookie, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	Close() error
}

// Element is a handle on one DOM node
type Element interface {
	Click(ctx context.Context) error
	ClickCount(ctx context.Context, count int) error
	// ClickClosest clicks the nearest ancestor (or self) matching selector
	ClickClosest(ctx context.Context, selector string) error
	Type(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	IsEnabled(ctx context.Context) (bool, error)
	Find(ctx context.Context, selector string) (Element, error)
}

// RecordingSession is implemented by sessions able to capture a screencast
type RecordingSession interface {
	StartRecording(ctx context.Context, dir string) error
	StopRecording(ctx context.Context) (string, error)
}

// SessionProvider hands out authenticated sessions. Closing the session releases the
// account for the next caller.
type SessionProvider interface {
	AcquireSession(ctx context.Context, account models.Account) (BrowserSession, error)
}

// ChallengeResolver completes a security challenge shown after login. It blocks until
// the challenge is resolved or ctx ends.
type ChallengeResolver interface {
	Resolve(ctx context.Context, account models.Account, session BrowserSession) error
}

// Notifier delivers operator notifications
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
