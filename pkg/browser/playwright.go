package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// playwrightDriver runs Chromium through playwright-go.
type playwrightDriver struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	sessions map[*playwrightSession]struct{}
	opts     Options
	logger   *logging.Logger
	closed   bool
}

func newPlaywrightDriver(opts Options, logger *logging.Logger) (*playwrightDriver, error) {
	// Keep driver chatter out of test output.
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if !opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Infof("launched chromium (headless=%v, channel=%q)", opts.Headless, opts.Channel)
	return &playwrightDriver{
		pw:       pw,
		browser:  browser,
		sessions: make(map[*playwrightSession]struct{}),
		opts:     opts,
		logger:   logger,
	}, nil
}

// NewSession creates a browser context and a page in it.
func (d *playwrightDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("browser driver is closed")
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.opts.Viewport.Width,
			Height: d.opts.Viewport.Height,
		},
	}
	if opts.StorageStatePath != "" {
		contextOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}
	if opts.BaseURL != "" {
		contextOpts.BaseURL = playwright.String(opts.BaseURL)
	}

	bctx, err := d.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(d.opts.ActionTimeout.Milliseconds()))
	bctx.SetDefaultNavigationTimeout(float64(d.opts.NavigationTimeout.Milliseconds()))

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	s := &playwrightSession{
		driver:  d,
		context: bctx,
		page:    &pwPage{page: page},
	}
	d.sessions[s] = struct{}{}
	return s, nil
}

// Close closes every session, the browser and the playwright driver.
func (d *playwrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for s := range d.sessions {
		if err := s.context.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(d.sessions, s)
	}
	if err := d.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser: %v", errs)
	}
	return nil
}

type playwrightSession struct {
	driver    *playwrightDriver
	context   playwright.BrowserContext
	page      *pwPage
	closeOnce sync.Once
}

func (s *playwrightSession) Page() ui.Page {
	return s.page
}

func (s *playwrightSession) Cookies(ctx context.Context) ([]sessioncache.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cookies, err := s.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return fromPlaywrightCookies(cookies), nil
}

func (s *playwrightSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.driver.mu.Lock()
		delete(s.driver.sessions, s)
		s.driver.mu.Unlock()
		err = s.context.Close()
	})
	return err
}

func fromPlaywrightCookies(in []playwright.Cookie) []sessioncache.Cookie {
	out := make([]sessioncache.Cookie, 0, len(in))
	for _, c := range in {
		cookie := sessioncache.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		out = append(out, cookie)
	}
	return out
}
