package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// rodDriver runs Chromium over CDP with go-rod. Each session is an
// incognito browser context, so cookies never leak between workers.
type rodDriver struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	sessions map[*rodSession]struct{}
	opts     Options
	logger   *logging.Logger
	closed   bool
}

func newRodDriver(ctx context.Context, opts Options, logger *logging.Logger) (*rodDriver, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.Channel != "" {
		// go-rod picks its own Chromium build; channels only mean something
		// to playwright.
		logger.Warnf("browser channel %q ignored by the rod driver", opts.Channel)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if opts.SlowMo > 0 {
		browser = browser.SlowMotion(opts.SlowMo)
	}
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	logger.Infof("launched chrome over CDP (headless=%v)", opts.Headless)
	return &rodDriver{
		launcher: l,
		browser:  browser,
		sessions: make(map[*rodSession]struct{}),
		opts:     opts,
		logger:   logger,
	}, nil
}

// NewSession opens an incognito context with one page, seeded with the
// cookies of opts.StorageStatePath.
func (d *rodDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("browser driver is closed")
	}

	incognito, err := d.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.opts.Viewport.Width,
		Height:            d.opts.Viewport.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.logger.Warnf("failed to set viewport: %v", err)
	}

	if opts.StorageStatePath != "" {
		state, err := sessioncache.ReadStateFile(opts.StorageStatePath)
		if err != nil {
			incognito.Close()
			return nil, err
		}
		if params := toRodCookies(state.Cookies); len(params) > 0 {
			if err := page.SetCookies(params); err != nil {
				incognito.Close()
				return nil, fmt.Errorf("failed to restore cookies: %w", err)
			}
		}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &rodSession{
		driver:    d,
		incognito: incognito,
		cancel:    cancel,
	}
	s.page = &rodPage{
		page:          page,
		baseURL:       opts.BaseURL,
		actionTimeout: d.opts.ActionTimeout,
		navTimeout:    d.opts.NavigationTimeout,
		done:          sctx.Done(),
	}
	d.sessions[s] = struct{}{}
	return s, nil
}

// Close closes every session, then the browser, then kills the process.
func (d *rodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for s := range d.sessions {
		s.cancel()
		if err := s.incognito.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(d.sessions, s)
	}
	if err := d.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	d.launcher.Kill()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser: %v", errs)
	}
	return nil
}

type rodSession struct {
	driver    *rodDriver
	incognito *rod.Browser
	page      *rodPage
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *rodSession) Page() ui.Page {
	return s.page
}

func (s *rodSession) Cookies(ctx context.Context) ([]sessioncache.Cookie, error) {
	res, err := proto.NetworkGetCookies{}.Call(s.page.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return fromRodCookies(res.Cookies), nil
}

func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.driver.mu.Lock()
		delete(s.driver.sessions, s)
		s.driver.mu.Unlock()
		s.cancel()
		err = s.incognito.Close()
	})
	return err
}

func toRodCookies(in []sessioncache.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(in))
	for _, c := range in {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		// -1 marks a session cookie.
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	return params
}

func fromRodCookies(in []*proto.NetworkCookie) []sessioncache.Cookie {
	out := make([]sessioncache.Cookie, 0, len(in))
	for _, c := range in {
		cookie := sessioncache.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if c.Session {
			cookie.Expires = -1
		}
		out = append(out, cookie)
	}
	return out
}
