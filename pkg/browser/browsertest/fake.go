// Package browsertest provides an in-memory browser.Driver for unit tests.
//
// A fake page is a map from locator descriptors to elements. Descriptors use
// the same notation as the real drivers' Locator.String, built with Role,
// TestID, CSS, Text, Placeholder and Chain. A locator whose descriptor has no
// element matches nothing: it is not visible and actions on it fail.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// ErrNoElement is returned by actions on a locator that matches nothing.
var ErrNoElement = errors.New("no element matches")

// Descriptor builders.

func Role(role string, name *regexp.Regexp) string {
	if name == nil {
		return "role=" + role
	}
	return fmt.Sprintf("role=%s[name=/%s/]", role, name.String())
}

func TestID(id string) string { return "testid=" + id }

func CSS(selector string) string { return "css=" + selector }

func Text(pattern *regexp.Regexp) string { return "text=" + pattern.String() }

func Placeholder(text string) string { return "placeholder=" + text }

// Chain joins descriptors of nested lookups.
func Chain(parts ...string) string { return strings.Join(parts, " >> ") }

// Element is one fake DOM element.
type Element struct {
	Visible    bool
	VisibleErr error
	Text       string
	Value      string
	Clicks     int

	// HideOnWait makes WaitHidden succeed by hiding the element, as if the
	// page finished loading. Without it WaitHidden on a visible element
	// times out immediately.
	HideOnWait bool

	FillErr  error
	ClickErr error
	OnClick  func()
}

type handler struct {
	desc  string
	times int
	fn    func(ui.Locator)
}

// Page is a fake ui.Page.
type Page struct {
	mu       sync.Mutex
	elements map[string]*Element
	handlers []*handler
	url      string
	visits   []string

	// GotoErr fails every navigation.
	GotoErr error

	// OnGoto runs after each successful navigation, outside the page lock.
	OnGoto func(p *Page, url string)
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{elements: make(map[string]*Element), url: "about:blank"}
}

// Add registers el under desc and returns it.
func (p *Page) Add(desc string, el *Element) *Element {
	p.mu.Lock()
	p.elements[desc] = el
	p.mu.Unlock()
	return el
}

// Element returns the element registered under desc, or nil.
func (p *Page) Element(desc string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[desc]
}

// Show makes the element under desc visible, adding it if needed.
// OnAppear handlers see it on the next Fill or Click.
func (p *Page) Show(desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[desc]
	if !ok {
		el = &Element{}
		p.elements[desc] = el
	}
	el.Visible = true
}

// Hide makes the element under desc invisible.
func (p *Page) Hide(desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[desc]; ok {
		el.Visible = false
	}
}

// Visits returns every URL navigated to, in order.
func (p *Page) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// runHandlers runs the OnAppear handlers whose element is visible. As in
// Playwright, it only happens right before an action.
func (p *Page) runHandlers() {
	p.mu.Lock()
	var due []*handler
	kept := p.handlers[:0]
	for _, h := range p.handlers {
		if el, ok := p.elements[h.desc]; !ok || !el.Visible {
			kept = append(kept, h)
			continue
		}
		due = append(due, h)
		if h.times > 0 {
			h.times--
			if h.times == 0 {
				continue
			}
		}
		kept = append(kept, h)
	}
	p.handlers = kept
	p.mu.Unlock()

	for _, h := range due {
		h.fn(&Locator{page: p, desc: h.desc})
	}
}

func (p *Page) locator(desc string) *Locator {
	return &Locator{page: p, desc: desc}
}

func (p *Page) ByRole(role string, opts ui.RoleOptions) ui.Locator {
	return p.locator(Role(role, opts.Name))
}

func (p *Page) ByTestID(id string) ui.Locator { return p.locator(TestID(id)) }

func (p *Page) ByCSS(selector string) ui.Locator { return p.locator(CSS(selector)) }

func (p *Page) ByText(pattern *regexp.Regexp) ui.Locator { return p.locator(Text(pattern)) }

func (p *Page) ByPlaceholder(text string) ui.Locator { return p.locator(Placeholder(text)) }

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.GotoErr != nil {
		err := p.GotoErr
		p.mu.Unlock()
		return fmt.Errorf("navigation failed: %w", err)
	}
	p.url = url
	p.visits = append(p.visits, url)
	hook := p.OnGoto
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) OnAppear(loc ui.Locator, times int, fn func(ui.Locator)) error {
	l, ok := loc.(*Locator)
	if !ok || l.page != p {
		return fmt.Errorf("locator %s does not belong to this page", loc)
	}
	p.mu.Lock()
	p.handlers = append(p.handlers, &handler{desc: l.desc, times: times, fn: fn})
	p.mu.Unlock()
	return nil
}

// Locator is a fake ui.Locator.
type Locator struct {
	page *Page
	desc string
}

func (l *Locator) child(desc string) *Locator {
	return &Locator{page: l.page, desc: Chain(l.desc, desc)}
}

func (l *Locator) ByRole(role string, opts ui.RoleOptions) ui.Locator {
	return l.child(Role(role, opts.Name))
}

func (l *Locator) ByTestID(id string) ui.Locator { return l.child(TestID(id)) }

func (l *Locator) ByCSS(selector string) ui.Locator { return l.child(CSS(selector)) }

func (l *Locator) ByText(pattern *regexp.Regexp) ui.Locator { return l.child(Text(pattern)) }

func (l *Locator) ByPlaceholder(text string) ui.Locator { return l.child(Placeholder(text)) }

func (l *Locator) IsVisible() (bool, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	el, ok := l.page.elements[l.desc]
	if !ok {
		return false, nil
	}
	if el.VisibleErr != nil {
		return false, el.VisibleErr
	}
	return el.Visible, nil
}

func (l *Locator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	el, ok := l.page.elements[l.desc]
	if !ok || !el.Visible {
		return nil
	}
	if el.HideOnWait {
		el.Visible = false
		return nil
	}
	return fmt.Errorf("%w after %s", browser.ErrTimeout, timeout)
}

func (l *Locator) Fill(value string) error {
	l.page.runHandlers()
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	el, ok := l.page.elements[l.desc]
	if !ok {
		return fmt.Errorf("fill: %w %s", ErrNoElement, l.desc)
	}
	if el.FillErr != nil {
		return el.FillErr
	}
	el.Value = value
	return nil
}

func (l *Locator) Click() error {
	l.page.runHandlers()
	l.page.mu.Lock()
	el, ok := l.page.elements[l.desc]
	if !ok {
		l.page.mu.Unlock()
		return fmt.Errorf("click: %w %s", ErrNoElement, l.desc)
	}
	if el.ClickErr != nil {
		l.page.mu.Unlock()
		return el.ClickErr
	}
	el.Clicks++
	onClick := el.OnClick
	l.page.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

func (l *Locator) TextContent() (string, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	el, ok := l.page.elements[l.desc]
	if !ok {
		return "", fmt.Errorf("text: %w %s", ErrNoElement, l.desc)
	}
	return el.Text, nil
}

func (l *Locator) String() string { return l.desc }

// Session is a fake browser.Session.
type Session struct {
	Options browser.SessionOptions

	page *Page

	mu         sync.Mutex
	cookies    []sessioncache.Cookie
	cookiesErr error
	closed     bool
}

func (s *Session) Page() ui.Page { return s.page }

// FakePage returns the page with its test controls.
func (s *Session) FakePage() *Page { return s.page }

// SetCookies replaces the cookies of the session, as a login would.
func (s *Session) SetCookies(cookies []sessioncache.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = append([]sessioncache.Cookie(nil), cookies...)
}

// FailCookies makes Cookies return err.
func (s *Session) FailCookies(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookiesErr = err
}

func (s *Session) Cookies(ctx context.Context) ([]sessioncache.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookiesErr != nil {
		return nil, s.cookiesErr
	}
	return append([]sessioncache.Cookie(nil), s.cookies...), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Driver is a fake browser.Driver.
type Driver struct {
	mu       sync.Mutex
	sessions []*Session
	closed   bool

	// Err fails every NewSession.
	Err error

	// Setup runs for every new session before it is returned. Use it to
	// lay out the page the application would serve.
	Setup func(s *Session)
}

// NewDriver returns a fake driver.
func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("browser driver is closed")
	}
	if d.Err != nil {
		err := d.Err
		d.mu.Unlock()
		return nil, err
	}
	setup := d.Setup
	d.mu.Unlock()

	s := &Session{Options: opts, page: NewPage()}
	if opts.StorageStatePath != "" {
		state, err := sessioncache.ReadStateFile(opts.StorageStatePath)
		if err != nil {
			return nil, err
		}
		s.cookies = state.Cookies
	}
	if setup != nil {
		setup(s)
	}

	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// SessionOf finds the session owning page.
func (d *Driver) SessionOf(page ui.Page) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if ui.Page(s.page) == page {
			return s
		}
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
