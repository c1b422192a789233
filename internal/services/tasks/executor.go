// Package tasks holds the browser-driven task executors. Each executor acquires an
// authenticated session for one account, acts at most once on the page it visits and
// reconciles what it observed into the account's records.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/services/browser"
	"github.com/ternarybob/outreach/internal/services/pacing"
)

const (
	pageTimeout  = 30 * time.Second
	resultPrefix = 100
)

// Records resolves the record views of an account
type Records interface {
	Flat(account models.Account) interfaces.ProfileRepository
	Campaign(account models.Account, campaignID string) interfaces.ProfileRepository
	Threads() interfaces.ThreadRepository
}

// Env carries what every executor shares
type Env struct {
	Sessions     interfaces.SessionProvider
	Records      Records
	Pacer        *pacing.Pacer
	Typist       *pacing.Typist
	ArtifactsDir string
	Logger       arbor.ILogger
	Now          func() time.Time
}

func (e Env) withDefaults() Env {
	if e.Pacer == nil {
		e.Pacer = pacing.NewPacer(e.Logger)
	}
	if e.Typist == nil {
		e.Typist = pacing.NewTypist()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// executor is the shared part of every task kind
type executor struct {
	Env
	kind string
}

func newExecutor(env Env, kind string) executor {
	return executor{Env: env.withDefaults(), kind: kind}
}

// navigate loads url and waits settle afterwards
func (e *executor) navigate(ctx context.Context, session interfaces.BrowserSession, url string, wait interfaces.WaitUntil, settle time.Duration) error {
	if wait == "" {
		wait = interfaces.WaitLoad
	}
	if err := session.Navigate(ctx, url, interfaces.NavigateOptions{Timeout: pageTimeout, WaitUntil: wait}); err != nil {
		if _, ok := models.AsTaskError(err); ok {
			return err
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return e.Pacer.Settle(ctx, settle)
}

// fail saves a screenshot of the page that led to err and returns err
func (e *executor) fail(ctx context.Context, session interfaces.BrowserSession, target string, err error) error {
	if path := browser.CaptureFailure(ctx, session, e.ArtifactsDir, e.kind, target, e.Logger); path != "" {
		e.Logger.Debug().Str("kind", e.kind).Str("target", target).Str("screenshot", path).Msg("Task failure captured")
	}
	return err
}

// closeSession releases the account; close errors only matter to the log
func (e *executor) closeSession(session interfaces.BrowserSession) {
	if err := session.Close(); err != nil {
		e.Logger.Debug().Err(err).Str("kind", e.kind).Msg("Failed to close browser session")
	}
}

// requireEnabled resolves the control a task is about to press
func requireEnabled(ctx context.Context, el interfaces.Element, selector, target, disabledMsg string) error {
	if el == nil {
		return models.NewTaskError(models.ErrElementNotFound, target, selector+" not found", nil)
	}
	enabled, err := el.IsEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return models.NewTaskError(models.ErrActionRejected, target, disabledMsg, nil)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func elementText(ctx context.Context, el interfaces.Element) string {
	if el == nil {
		return ""
	}
	text, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
