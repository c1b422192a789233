package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// RodDriver is the go-rod alternative to ChromedpDriver
type RodDriver struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewRodDriver creates a rod-backed driver
func NewRodDriver(config common.BrowserConfig, logger arbor.ILogger) *RodDriver {
	return &RodDriver{config: config, logger: logger}
}

var _ interfaces.BrowserDriver = (*RodDriver)(nil)

// Launch starts a browser and opens a blank page
func (d *RodDriver) Launch(ctx context.Context) (interfaces.BrowserSession, error) {
	l := launcher.New().
		Leakless(false).
		Headless(d.config.Headless).
		NoSandbox(d.config.NoSandbox).
		Set("window-size", fmt.Sprintf("%d,%d", d.config.WindowWidth, d.config.WindowHeight))
	if d.config.ExecPath != "" {
		l = l.Bin(d.config.ExecPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if d.config.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.config.UserAgent}); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to override user agent")
		}
	}

	d.logger.Debug().Bool("headless", d.config.Headless).Msg("Rod browser session launched")
	return &rodSession{browser: b, launcher: l, page: p, logger: d.logger}, nil
}

type rodSession struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	page      *rod.Page
	logger    arbor.ILogger
	closeOnce sync.Once
}

var _ interfaces.BrowserSession = (*rodSession)(nil)

// on binds the page to ctx and an optional timeout
func (s *rodSession) on(ctx context.Context, timeout time.Duration) *rod.Page {
	p := s.page.Context(ctx)
	if timeout > 0 {
		p = p.Timeout(timeout)
	}
	return p
}

func (s *rodSession) Navigate(ctx context.Context, url string, opts interfaces.NavigateOptions) error {
	p := s.on(ctx, opts.Timeout)

	var err error
	if opts.WaitUntil == interfaces.WaitDOMContentLoaded {
		wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
		if err = p.Navigate(url); err == nil {
			wait()
		}
	} else {
		if err = p.Navigate(url); err == nil {
			err = p.WaitLoad()
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewTaskError(models.ErrNavigationTimeout, url, "navigation timed out", err)
	}
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *rodSession) URL(ctx context.Context) (string, error) {
	info, err := s.on(ctx, lookupTimeout).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *rodSession) Find(ctx context.Context, selector string) (interfaces.Element, error) {
	elements, err := s.on(ctx, lookupTimeout).Elements(selector)
	if err != nil || len(elements) == 0 {
		return nil, err
	}
	return &rodElement{s: s, el: elements[0]}, nil
}

func (s *rodSession) FindAll(ctx context.Context, selector string) ([]interfaces.Element, error) {
	elements, err := s.on(ctx, lookupTimeout).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapRod(s, elements), nil
}

func (s *rodSession) FindByText(ctx context.Context, selector, text string) (interfaces.Element, error) {
	elements, err := s.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	return firstWithText(ctx, elements, text)
}

func (s *rodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (interfaces.Element, error) {
	el, err := s.on(ctx, timeout).Element(selector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	return &rodElement{s: s, el: el.Context(context.Background())}, nil
}

func (s *rodSession) Press(ctx context.Context, key string) error {
	k := input.Enter
	switch key {
	case interfaces.KeyBackspace:
		k = input.Backspace
	case interfaces.KeyEnter:
		k = input.Enter
	default:
		return s.SendKeys(ctx, key)
	}
	return s.on(ctx, lookupTimeout).Keyboard.Press(k)
}

func (s *rodSession) SendKeys(ctx context.Context, text string) error {
	return s.on(ctx, lookupTimeout).InsertText(text)
}

func (s *rodSession) Scroll(ctx context.Context, dy int) error {
	return s.on(ctx, lookupTimeout).Mouse.Scroll(0, float64(dy), 5)
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.on(ctx, lookupTimeout).HTML()
}

func (s *rodSession) Text(ctx context.Context, selector string) (string, error) {
	el, err := s.Find(ctx, selector)
	if err != nil || el == nil {
		return "", err
	}
	return el.Text(ctx)
}

func (s *rodSession) Screenshot(ctx context.Context, path string) error {
	buf, err := s.on(ctx, startupTimeout).Screenshot(true, nil)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

func (s *rodSession) Cookies(ctx context.Context) ([]models.Cookie, error) {
	cookies, err := s.on(ctx, lookupTimeout).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return fromRodCookies(cookies), nil
}

func (s *rodSession) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	return s.on(ctx, lookupTimeout).SetCookies(toRodCookieParams(cookies, time.Now()))
}

func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		if err := s.browser.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Browser close returned error")
		}
		s.launcher.Kill()
		s.logger.Debug().Msg("Rod browser session closed")
	})
	return nil
}

type rodElement struct {
	s  *rodSession
	el *rod.Element
}

func wrapRod(s *rodSession, elements rod.Elements) []interfaces.Element {
	out := make([]interfaces.Element, 0, len(elements))
	for _, el := range elements {
		out = append(out, &rodElement{s: s, el: el})
	}
	return out
}

func (e *rodElement) on(ctx context.Context) *rod.Element {
	return e.el.Context(ctx).Timeout(lookupTimeout)
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.on(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) ClickCount(ctx context.Context, count int) error {
	return e.on(ctx).Click(proto.InputMouseButtonLeft, count)
}

func (e *rodElement) ClickClosest(ctx context.Context, selector string) error {
	closest, err := e.s.on(ctx, lookupTimeout).ElementByJS(
		rod.Eval(`(sel) => this.closest(sel)`, selector).This(e.el.Object))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.NewTaskError(models.ErrElementNotFound, selector, "no enclosing "+selector, err)
		}
		return err
	}
	return closest.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Type(ctx context.Context, text string) error {
	return e.on(ctx).Input(text)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.on(ctx).Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.on(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (e *rodElement) IsEnabled(ctx context.Context) (bool, error) {
	disabled, err := e.on(ctx).Disabled()
	if err != nil {
		return false, err
	}
	if disabled {
		return false, nil
	}
	aria, err := e.Attribute(ctx, "aria-disabled")
	if err != nil {
		return false, err
	}
	return aria != "true", nil
}

func (e *rodElement) Find(ctx context.Context, selector string) (interfaces.Element, error) {
	elements, err := e.on(ctx).Elements(selector)
	if err != nil || len(elements) == 0 {
		return nil, err
	}
	return &rodElement{s: e.s, el: elements[0]}, nil
}
