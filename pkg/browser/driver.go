package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// Driver owns a running browser and hands out isolated sessions.
type Driver interface {
	// NewSession opens a fresh browser context with one page. With an empty
	// StorageStatePath the context starts unauthenticated.
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)

	// Close shuts the browser down. Open sessions are closed with it.
	Close() error
}

// Session is one isolated browser context and its page.
type Session interface {
	Page() ui.Page

	// Cookies returns every cookie of the context.
	Cookies(ctx context.Context) ([]sessioncache.Cookie, error)

	Close() error
}

// SessionOptions configures a new session.
type SessionOptions struct {
	// StorageStatePath seeds the context from a storage-state file.
	StorageStatePath string

	// BaseURL resolves relative navigations, when the driver supports it.
	BaseURL string
}

// Options configures a driver.
type Options struct {
	Driver            string
	Channel           string
	Headless          bool
	SlowMo            time.Duration
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	Viewport          *Viewport
	SkipInstall       bool
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// OptionsFromConfig maps the harness configuration onto driver options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Driver:            cfg.Browser.Driver,
		Channel:           cfg.Browser.Channel,
		Headless:          cfg.Browser.Headless,
		SlowMo:            cfg.Browser.SlowMo,
		ActionTimeout:     cfg.Browser.ActionTimeout,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Viewport: &Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
		SkipInstall: cfg.Browser.SkipInstall,
	}
}

// Default values for driver options
const (
	DefaultActionTimeout     = 10 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720
)

func (o *Options) setDefaults() {
	if o.ActionTimeout == 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	if o.NavigationTimeout == 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.Viewport == nil || o.Viewport.Width == 0 || o.Viewport.Height == 0 {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
}

// Open starts the driver named in opts.
func Open(ctx context.Context, opts Options, logger *logging.Logger) (Driver, error) {
	opts.setDefaults()
	if logger == nil {
		logger = logging.MustLogger("browser")
	}

	switch opts.Driver {
	case "", config.DriverPlaywright:
		return newPlaywrightDriver(opts, logger)
	case config.DriverRod:
		return newRodDriver(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", opts.Driver)
	}
}
