package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
	"github.com/ternarybob/outreach/internal/services/pacing"
)

const (
	DefaultIdleActions = 5
	scrollStep         = 600
	scrollRepeats      = 5
)

var (
	shortPause  = pacing.Between(time.Second, 4*time.Second)
	readingTime = pacing.Between(2*time.Second, 5*time.Second)
)

// Idler browses the feed like a person would, between real work
type Idler struct {
	executor
	actions int
}

func NewIdler(env Env, actions int) *Idler {
	if actions <= 0 {
		actions = DefaultIdleActions
	}
	return &Idler{executor: newExecutor(env, models.KindIdle), actions: actions}
}

type idleAction struct {
	name string
	run  func(ctx context.Context, session interfaces.BrowserSession) error
}

// Run performs n random actions on the feed; n <= 0 uses the configured count
func (d *Idler) Run(ctx context.Context, account models.Account, n int) (*models.IdleResult, error) {
	if n <= 0 {
		n = d.actions
	}
	session, err := d.Sessions.AcquireSession(ctx, account)
	if err != nil {
		return nil, err
	}
	defer d.closeSession(session)

	if err := d.navigate(ctx, session, feedURL, interfaces.WaitLoad, 0); err != nil {
		return nil, d.fail(ctx, session, account.ID, err)
	}
	if err := d.Pacer.SettleBetween(ctx, shortPause); err != nil {
		return nil, err
	}

	actions := []idleAction{
		{"scroll", d.scroll},
		{"like", d.like},
		{"notifications", d.notifications},
		{"profile", d.visitProfile},
		{"pause", d.pause},
	}

	result := &models.IdleResult{Actions: make([]string, 0, n)}
	for i := 0; i < n; i++ {
		action := actions[d.Pacer.Intn(len(actions))]
		if err := action.run(ctx, session); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, d.fail(ctx, session, account.ID, err)
		}
		result.Actions = append(result.Actions, action.name)
	}

	d.Logger.Debug().Str("account", account.ID).Strs("actions", result.Actions).Msg("Idle routine finished")
	return result, nil
}

func (d *Idler) scroll(ctx context.Context, session interfaces.BrowserSession) error {
	for i := 0; i < scrollRepeats; i++ {
		if err := session.Scroll(ctx, scrollStep); err != nil {
			return err
		}
		if err := d.Pacer.SettleBetween(ctx, shortPause); err != nil {
			return err
		}
	}
	return nil
}

func (d *Idler) like(ctx context.Context, session interfaces.BrowserSession) error {
	buttons, err := session.FindAll(ctx, unpressedLike)
	if err != nil {
		return err
	}
	if len(buttons) > 0 {
		if err := buttons[d.Pacer.Intn(len(buttons))].Click(ctx); err != nil {
			return err
		}
	}
	return d.Pacer.SettleBetween(ctx, shortPause)
}

func (d *Idler) notifications(ctx context.Context, session interfaces.BrowserSession) error {
	if err := d.navigate(ctx, session, notificationsURL, interfaces.WaitLoad, 0); err != nil {
		return err
	}
	if err := d.Pacer.SettleBetween(ctx, readingTime); err != nil {
		return err
	}
	if err := d.navigate(ctx, session, feedURL, interfaces.WaitLoad, 0); err != nil {
		return err
	}
	return d.Pacer.SettleBetween(ctx, shortPause)
}

func (d *Idler) visitProfile(ctx context.Context, session interfaces.BrowserSession) error {
	links, err := session.FindAll(ctx, feedProfileLink)
	if err != nil {
		return err
	}
	if len(links) > 0 {
		href, err := links[d.Pacer.Intn(len(links))].Attribute(ctx, "href")
		if err != nil {
			return err
		}
		if strings.HasPrefix(href, "/") {
			href = linkedInOrigin + href
		}
		if href != "" {
			if err := d.navigate(ctx, session, href, interfaces.WaitLoad, 0); err != nil {
				return err
			}
			if err := d.Pacer.SettleBetween(ctx, readingTime); err != nil {
				return err
			}
			if err := d.navigate(ctx, session, feedURL, interfaces.WaitLoad, 0); err != nil {
				return err
			}
		}
	}
	return d.Pacer.SettleBetween(ctx, shortPause)
}

func (d *Idler) pause(ctx context.Context, session interfaces.BrowserSession) error {
	return d.Pacer.SettleBetween(ctx, shortPause)
}
