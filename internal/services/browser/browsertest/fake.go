// Package browsertest provides an in-memory BrowserDriver for exercising task logic
// without a browser.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/outreach/internal/interfaces"
	"github.com/ternarybob/outreach/internal/models"
)

// Page is one scripted document
type Page struct {
	URL      string
	HTML     string
	Elements map[string][]*Element
}

// NewPage creates an empty page at url
func NewPage(url string) *Page {
	return &Page{URL: url, Elements: make(map[string][]*Element)}
}

// Add registers elements under selector and returns the page
func (p *Page) Add(selector string, elements ...*Element) *Page {
	p.Elements[selector] = append(p.Elements[selector], elements...)
	return p
}

// Element is a scripted DOM node
type Element struct {
	Label    string
	TextVal  string
	Attrs    map[string]string
	Disabled bool
	Children map[string][]*Element
	Closest  map[string]*Element
	OnClick  func(s *Session)

	mu     sync.Mutex
	clicks int
	value  []rune
}

// NewElement creates an element with the given text
func NewElement(label, text string) *Element {
	return &Element{
		Label:    label,
		TextVal:  text,
		Attrs:    make(map[string]string),
		Children: make(map[string][]*Element),
		Closest:  make(map[string]*Element),
	}
}

// WithAttr sets an attribute
func (e *Element) WithAttr(name, value string) *Element {
	e.Attrs[name] = value
	return e
}

// WithChild registers a descendant under selector
func (e *Element) WithChild(selector string, child *Element) *Element {
	e.Children[selector] = append(e.Children[selector], child)
	return e
}

// WithClosest sets the ancestor returned for selector
func (e *Element) WithClosest(selector string, ancestor *Element) *Element {
	e.Closest[selector] = ancestor
	return e
}

// Clicks returns how many times the element was clicked
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Value returns the text typed into the element
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.value)
}

// SetValue replaces the typed text
func (e *Element) SetValue(v string) {
	e.mu.Lock()
	e.value = []rune(v)
	e.mu.Unlock()
}

// Driver launches Sessions sharing one scripted site
type Driver struct {
	mu        sync.Mutex
	Routes    map[string]*Page
	NavErrors map[string][]error
	LaunchErr error
	Sessions  []*Session
}

// NewDriver creates a driver with no routes
func NewDriver() *Driver {
	return &Driver{Routes: make(map[string]*Page), NavErrors: make(map[string][]error)}
}

// Route registers the page served for url
func (d *Driver) Route(url string, page *Page) *Driver {
	d.mu.Lock()
	d.Routes[url] = page
	d.mu.Unlock()
	return d
}

// FailNavigation queues errors returned by successive navigations to url
func (d *Driver) FailNavigation(url string, errs ...error) *Driver {
	d.mu.Lock()
	d.NavErrors[url] = append(d.NavErrors[url], errs...)
	d.mu.Unlock()
	return d
}

// Launch opens a new session on about:blank
func (d *Driver) Launch(ctx context.Context) (interfaces.BrowserSession, error) {
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	s := &Session{driver: d, page: NewPage("about:blank")}
	d.mu.Lock()
	d.Sessions = append(d.Sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Last returns the most recently launched session
func (d *Driver) Last() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Sessions) == 0 {
		return nil
	}
	return d.Sessions[len(d.Sessions)-1]
}

// Session is a scripted tab
type Session struct {
	driver *Driver

	mu          sync.Mutex
	page        *Page
	focused     *Element
	cookies     []models.Cookie
	navigations []string
	screenshots []string
	recording   string
	closed      bool
}

var (
	_ interfaces.BrowserSession   = (*Session)(nil)
	_ interfaces.RecordingSession = (*Session)(nil)
)

// Load switches the current page, as a click leading elsewhere would
func (s *Session) Load(page *Page) {
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
}

// LoadURL switches to the page routed at url
func (s *Session) LoadURL(url string) {
	s.Load(s.lookup(url))
}

func (s *Session) lookup(url string) *Page {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	if p, ok := s.driver.Routes[url]; ok {
		return p
	}
	return NewPage(url)
}

func (s *Session) current() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Session) Navigate(ctx context.Context, url string, opts interfaces.NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	s.mu.Unlock()

	s.driver.mu.Lock()
	if errs := s.driver.NavErrors[url]; len(errs) > 0 {
		err := errs[0]
		s.driver.NavErrors[url] = errs[1:]
		s.driver.mu.Unlock()
		return err
	}
	s.driver.mu.Unlock()

	s.Load(s.lookup(url))
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	return s.current().URL, nil
}

func (s *Session) Find(ctx context.Context, selector string) (interfaces.Element, error) {
	elements := s.current().Elements[selector]
	if len(elements) == 0 {
		return nil, nil
	}
	return &handle{s: s, el: elements[0]}, nil
}

func (s *Session) FindAll(ctx context.Context, selector string) ([]interfaces.Element, error) {
	elements := s.current().Elements[selector]
	out := make([]interfaces.Element, 0, len(elements))
	for _, el := range elements {
		out = append(out, &handle{s: s, el: el})
	}
	return out, nil
}

func (s *Session) FindByText(ctx context.Context, selector, text string) (interfaces.Element, error) {
	for _, el := range s.current().Elements[selector] {
		if strings.TrimSpace(el.TextVal) == text {
			return &handle{s: s, el: el}, nil
		}
	}
	return nil, nil
}

func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) (interfaces.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Find(ctx, selector)
}

func (s *Session) Press(ctx context.Context, key string) error {
	s.mu.Lock()
	focused := s.focused
	s.mu.Unlock()
	if focused == nil {
		return nil
	}
	if key == interfaces.KeyBackspace {
		focused.mu.Lock()
		if n := len(focused.value); n > 0 {
			focused.value = focused.value[:n-1]
		}
		focused.mu.Unlock()
	}
	return nil
}

func (s *Session) SendKeys(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	focused := s.focused
	s.mu.Unlock()
	if focused == nil {
		return nil
	}
	focused.mu.Lock()
	focused.value = append(focused.value, []rune(text)...)
	focused.mu.Unlock()
	return nil
}

func (s *Session) Scroll(ctx context.Context, dy int) error {
	return ctx.Err()
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	return s.current().HTML, nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	elements := s.current().Elements[selector]
	if len(elements) == 0 {
		return "", nil
	}
	return strings.TrimSpace(elements[0].TextVal), nil
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	s.mu.Lock()
	s.screenshots = append(s.screenshots, path)
	s.mu.Unlock()
	return nil
}

func (s *Session) Cookies(ctx context.Context) ([]models.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Cookie(nil), s.cookies...), nil
}

func (s *Session) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	s.mu.Lock()
	s.cookies = append(s.cookies, cookies...)
	s.mu.Unlock()
	return nil
}

// GrantCookies replaces the session cookies, as a successful login would
func (s *Session) GrantCookies(cookies []models.Cookie) {
	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()
}

func (s *Session) StartRecording(ctx context.Context, dir string) error {
	s.mu.Lock()
	s.recording = dir
	s.mu.Unlock()
	return nil
}

func (s *Session) StopRecording(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Navigations returns the visited urls in order
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Screenshots returns the captured screenshot paths
func (s *Session) Screenshots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.screenshots...)
}

type handle struct {
	s  *Session
	el *Element
}

func (h *handle) Click(ctx context.Context) error {
	return h.ClickCount(ctx, 1)
}

func (h *handle) ClickCount(ctx context.Context, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.el.mu.Lock()
	h.el.clicks++
	h.el.mu.Unlock()

	h.s.mu.Lock()
	h.s.focused = h.el
	h.s.mu.Unlock()

	if h.el.OnClick != nil {
		h.el.OnClick(h.s)
	}
	return nil
}

func (h *handle) ClickClosest(ctx context.Context, selector string) error {
	target, ok := h.el.Closest[selector]
	if !ok {
		return models.NewTaskError(models.ErrElementNotFound, selector, fmt.Sprintf("no enclosing %s for %s", selector, h.el.Label), nil)
	}
	return (&handle{s: h.s, el: target}).Click(ctx)
}

func (h *handle) Type(ctx context.Context, text string) error {
	h.el.mu.Lock()
	h.el.value = append(h.el.value, []rune(text)...)
	h.el.mu.Unlock()
	return nil
}

func (h *handle) Text(ctx context.Context) (string, error) {
	return strings.TrimSpace(h.el.TextVal), nil
}

func (h *handle) Attribute(ctx context.Context, name string) (string, error) {
	return h.el.Attrs[name], nil
}

func (h *handle) IsEnabled(ctx context.Context) (bool, error) {
	return !h.el.Disabled, nil
}

func (h *handle) Find(ctx context.Context, selector string) (interfaces.Element, error) {
	children := h.el.Children[selector]
	if len(children) == 0 {
		return nil, nil
	}
	return &handle{s: h.s, el: children[0]}, nil
}
