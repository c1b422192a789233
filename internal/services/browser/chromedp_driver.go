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

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

const (
	startupTimeout = 30 * time.Second
	lookupTimeout  = 10 * time.Second
)

// ChromedpDriver launches one Chrome process per session
type ChromedpDriver struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewChromedpDriver creates a chromedp-backed driver
func NewChromedpDriver(config common.BrowserConfig, logger arbor.ILogger) *ChromedpDriver {
	return &ChromedpDriver{config: config, logger: logger}
}

var _ interfaces.BrowserDriver = (*ChromedpDriver)(nil)

func (d *ChromedpDriver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-setuid-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(d.config.WindowWidth, d.config.WindowHeight),
	)
	if d.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.config.UserAgent))
	}
	if d.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.ExecPath))
	}
	return opts
}

// Launch starts a browser and opens a blank tab
func (d *ChromedpDriver) Launch(ctx context.Context) (interfaces.BrowserSession, error) {
	startTime := time.Now()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			d.logger.Debug().Msgf("chromedp: "+s, i...)
		}),
	)

	s := &chromedpSession{
		tabCtx:          tabCtx,
		tabCancel:       tabCancel,
		allocatorCancel: allocatorCancel,
		logger:          d.logger,
	}

	if err := s.run(ctx, startupTimeout, chromedp.Navigate("about:blank")); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	d.logger.Debug().
		Dur("startup_time", time.Since(startTime)).
		Bool("headless", d.config.Headless).
		Msg("Browser session launched")

	return s, nil
}

// chromedpSession is one tab of a dedicated browser process
type chromedpSession struct {
	tabCtx          context.Context
	tabCancel       context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          arbor.ILogger

	closeOnce sync.Once
	recorder  *screencastRecorder
}

var (
	_ interfaces.BrowserSession   = (*chromedpSession)(nil)
	_ interfaces.RecordingSession = (*chromedpSession)(nil)
)

// run executes actions on the tab, bounded by timeout and by the caller's ctx
func (s *chromedpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, timeout)
		defer timeoutCancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *chromedpSession) Navigate(ctx context.Context, url string, opts interfaces.NavigateOptions) error {
	err := s.run(ctx, opts.Timeout, chromedp.Navigate(url))
	if err == nil {
		return nil
	}

	// The load event may lag far behind a usable DOM
	if opts.WaitUntil == interfaces.WaitDOMContentLoaded && errors.Is(err, context.DeadlineExceeded) {
		var state string
		if stateErr := s.run(ctx, lookupTimeout, chromedp.Evaluate(`document.readyState`, &state)); stateErr == nil && state != "loading" {
			return nil
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewTaskError(models.ErrNavigationTimeout, url, "navigation timed out", err)
	}
	return fmt.Errorf("navigation to %s failed: %w", url, err)
}

func (s *chromedpSession) URL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, lookupTimeout, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (s *chromedpSession) nodes(ctx context.Context, selector string, from *cdp.Node) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if from != nil {
		opts = append(opts, chromedp.FromNode(from))
	}
	if err := s.run(ctx, lookupTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s failed: %w", selector, err)
	}
	return nodes, nil
}

func (s *chromedpSession) Find(ctx context.Context, selector string) (interfaces.Element, error) {
	nodes, err := s.nodes(ctx, selector, nil)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &chromedpElement{s: s, node: nodes[0]}, nil
}

func (s *chromedpSession) FindAll(ctx context.Context, selector string) ([]interfaces.Element, error) {
	nodes, err := s.nodes(ctx, selector, nil)
	if err != nil {
		return nil, err
	}
	elements := make([]interfaces.Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &chromedpElement{s: s, node: n})
	}
	return elements, nil
}

func (s *chromedpSession) FindByText(ctx context.Context, selector, text string) (interfaces.Element, error) {
	elements, err := s.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	return firstWithText(ctx, elements, text)
}

func (s *chromedpSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (interfaces.Element, error) {
	err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, nil
		}
		return nil, err
	}
	return s.Find(ctx, selector)
}

func (s *chromedpSession) Press(ctx context.Context, key string) error {
	switch key {
	case interfaces.KeyBackspace:
		key = kb.Backspace
	case interfaces.KeyEnter:
		key = kb.Enter
	}
	return s.run(ctx, lookupTimeout, chromedp.KeyEvent(key))
}

func (s *chromedpSession) SendKeys(ctx context.Context, text string) error {
	return s.run(ctx, lookupTimeout, chromedp.KeyEvent(text))
}

func (s *chromedpSession) Scroll(ctx context.Context, dy int) error {
	return s.run(ctx, lookupTimeout, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, dy), nil))
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, lookupTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromedpSession) Text(ctx context.Context, selector string) (string, error) {
	el, err := s.Find(ctx, selector)
	if err != nil || el == nil {
		return "", err
	}
	return el.Text(ctx)
}

func (s *chromedpSession) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, startupTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

func (s *chromedpSession) Cookies(ctx context.Context) ([]models.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, lookupTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return fromNetworkCookies(cookies), nil
}

func (s *chromedpSession) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	params := toCookieParams(cookies, time.Now())

	return s.run(ctx, lookupTimeout,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			failed := 0
			for _, c := range params {
				if err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					WithExpires(c.Expires).
					Do(ctx); err != nil {
					failed++
					s.logger.Warn().Err(err).Str("cookie_name", c.Name).Msg("Failed to inject cookie")
				}
			}
			if failed == len(params) && failed > 0 {
				return fmt.Errorf("no cookie could be injected")
			}
			return nil
		}),
	)
}

// StartRecording captures screencast frames into dir until StopRecording
func (s *chromedpSession) StartRecording(ctx context.Context, dir string) error {
	if s.recorder != nil {
		return fmt.Errorf("recording already running")
	}
	rec, err := startScreencast(s.tabCtx, dir, s.logger)
	if err != nil {
		return err
	}
	s.recorder = rec
	return nil
}

// StopRecording stops the screencast and returns the frame directory
func (s *chromedpSession) StopRecording(ctx context.Context) (string, error) {
	if s.recorder == nil {
		return "", nil
	}
	rec := s.recorder
	s.recorder = nil
	return rec.stop(s.tabCtx)
}

func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		if s.recorder != nil {
			if _, err := s.StopRecording(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to stop recording on close")
			}
		}
		s.tabCancel()
		s.allocatorCancel()
		s.logger.Debug().Msg("Browser session closed")
	})
	return nil
}

// chromedpElement is a DOM node of a chromedp session
type chromedpElement struct {
	s    *chromedpSession
	node *cdp.Node
}

func (e *chromedpElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *chromedpElement) Click(ctx context.Context) error {
	return e.s.run(ctx, lookupTimeout, chromedp.MouseClickNode(e.node))
}

func (e *chromedpElement) ClickCount(ctx context.Context, count int) error {
	return e.s.run(ctx, lookupTimeout, chromedp.MouseClickNode(e.node, chromedp.ClickCount(count)))
}

// ClickClosest tags the nearest matching ancestor, then clicks it with the mouse
func (e *chromedpElement) ClickClosest(ctx context.Context, selector string) error {
	token := uuid.New().String()
	var found bool
	err := e.s.run(ctx, lookupTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return dom.SetAttributeValue(e.node.NodeID, "data-outreach-ref", token).Do(ctx)
		}),
		chromedp.Evaluate(fmt.Sprintf(`(() => {
			const el = document.querySelector('[data-outreach-ref=%q]');
			const target = el ? el.closest(%q) : null;
			if (!target) return false;
			target.setAttribute('data-outreach-target', %q);
			return true;
		})()`, token, selector, token), &found),
	)
	if err != nil {
		return err
	}
	if !found {
		return models.NewTaskError(models.ErrElementNotFound, selector, "no enclosing "+selector, nil)
	}

	nodes, err := e.s.nodes(ctx, fmt.Sprintf(`[data-outreach-target=%q]`, token), nil)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return models.NewTaskError(models.ErrElementNotFound, selector, "enclosing "+selector+" vanished", nil)
	}
	return e.s.run(ctx, lookupTimeout, chromedp.MouseClickNode(nodes[0]))
}

func (e *chromedpElement) Type(ctx context.Context, text string) error {
	return e.s.run(ctx, lookupTimeout, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *chromedpElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.s.run(ctx, lookupTimeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *chromedpElement) Attribute(ctx context.Context, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	if err := e.s.run(ctx, lookupTimeout, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return value, nil
}

func (e *chromedpElement) IsEnabled(ctx context.Context) (bool, error) {
	var (
		disabled     string
		hasDisabled  bool
		ariaDisabled string
		hasAria      bool
	)
	err := e.s.run(ctx, lookupTimeout,
		chromedp.AttributeValue(e.ids(), "disabled", &disabled, &hasDisabled, chromedp.ByNodeID),
		chromedp.AttributeValue(e.ids(), "aria-disabled", &ariaDisabled, &hasAria, chromedp.ByNodeID),
	)
	if err != nil {
		return false, err
	}
	return !hasDisabled && !(hasAria && ariaDisabled == "true"), nil
}

func (e *chromedpElement) Find(ctx context.Context, selector string) (interfaces.Element, error) {
	nodes, err := e.s.nodes(ctx, selector, e.node)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &chromedpElement{s: e.s, node: nodes[0]}, nil
}

// firstWithText returns the first element whose trimmed text equals text
func firstWithText(ctx context.Context, elements []interfaces.Element, text string) (interfaces.Element, error) {
	for _, el := range elements {
		t, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if strings.TrimSpace(t) == text {
			return el, nil
		}
	}
	return nil, nil
}
