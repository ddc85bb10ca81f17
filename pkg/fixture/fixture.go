// Package fixture gives each test an authenticated browser session.
//
// A Fixture leases a worker index from its Env, so tests running in
// parallel never share an identity or its cached session. Construction
// resolves the session through the bootstrap orchestrator; cleanup persists
// or discards it depending on whether the test saw a logged-in page.
package fixture

import (
	"context"
	"fmt"
	"testing"

	"github.com/entrhq/authharness/pkg/bootstrap"
	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/identity"
	"github.com/entrhq/authharness/pkg/lifecycle"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/pages"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// Env is shared by every fixture of a test binary.
type Env struct {
	cfg    *config.Config
	driver browser.Driver
	store  *sessioncache.Store
	logger *logging.Logger
	login  bootstrap.LoginFunc
	leases chan int
}

// NewEnv returns an Env handing out cfg.Workers worker indices.
func NewEnv(cfg *config.Config, driver browser.Driver, store *sessioncache.Store, logger *logging.Logger) *Env {
	if logger == nil {
		logger = logging.Discard("fixture")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	leases := make(chan int, workers)
	for i := 0; i < workers; i++ {
		leases <- i
	}
	return &Env{
		cfg:    cfg,
		driver: driver,
		store:  store,
		logger: logger,
		login:  bootstrap.FormLogin,
		leases: leases,
	}
}

// FromHandle builds an Env from a lifecycle handle, starting the browser if
// Setup did not.
func FromHandle(ctx context.Context, h *lifecycle.Handle) (*Env, error) {
	driver, err := h.Driver(ctx)
	if err != nil {
		return nil, err
	}
	return NewEnv(h.Config, driver, h.Store, h.Logger().With("fixture")), nil
}

// SetLogin replaces the login procedure used on cache misses.
func (e *Env) SetLogin(fn bootstrap.LoginFunc) {
	e.login = fn
}

func (e *Env) acquire(ctx context.Context) (int, error) {
	select {
	case i := <-e.leases:
		return i, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("no free worker index: %w", ctx.Err())
	}
}

func (e *Env) release(i int) {
	e.leases <- i
}

// SessionCheck reports whether page shows an authenticated application.
type SessionCheck func(ctx context.Context, page ui.Page) bool

// LoginFormHidden is the default SessionCheck: the sign-in form is not
// on screen.
func LoginFormHidden(_ context.Context, page ui.Page) bool {
	return !pages.NewLoginPage(page).IsDisplayed()
}

type options struct {
	withoutAuth bool
	check       SessionCheck
	ctx         context.Context
}

// Option configures New.
type Option func(*options)

// WithoutAuth opens an unauthenticated session and skips the bootstrap.
func WithoutAuth() Option {
	return func(o *options) { o.withoutAuth = true }
}

// WithSessionCheck replaces LoginFormHidden.
func WithSessionCheck(check SessionCheck) Option {
	return func(o *options) { o.check = check }
}

// WithContext bounds the lease wait, login and navigation.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// Fixture is one test's browser session.
type Fixture struct {
	Identity identity.Identity
	Session  browser.Session
	Page     ui.Page

	// Orchestrator is nil for WithoutAuth fixtures.
	Orchestrator *bootstrap.Orchestrator

	Toast  *ui.ToastWatcher
	Logger *logging.Logger
}

// New builds a fixture for t. Any failure is fatal to t. Everything New
// acquires is released by t.Cleanup.
func New(t testing.TB, env *Env, opts ...Option) *Fixture {
	t.Helper()

	o := &options{check: LoginFormHidden, ctx: context.Background()}
	for _, opt := range opts {
		opt(o)
	}
	ctx := o.ctx

	index, err := env.acquire(ctx)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	t.Cleanup(func() { env.release(index) })

	id, err := identity.Resolve(env.cfg.UserEmail, index)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	f := &Fixture{
		Identity: id,
		Logger:   env.logger.With(id.CacheKey),
	}

	sessionOpts := browser.SessionOptions{BaseURL: env.cfg.BaseURL}
	if !o.withoutAuth {
		f.Orchestrator = bootstrap.New(env.store, env.driver, id,
			lifecycle.Credentials(env.cfg),
			bootstrap.WithLogin(env.login),
			bootstrap.WithLogger(f.Logger.With("bootstrap")))
		path, err := f.Orchestrator.Resolve(ctx)
		if err != nil {
			t.Fatalf("fixture: %v", err)
		}
		sessionOpts.StorageStatePath = path
	}

	session, err := env.driver.NewSession(ctx, sessionOpts)
	if err != nil {
		t.Fatalf("fixture: failed to open browser session: %v", err)
	}
	t.Cleanup(func() {
		if err := session.Close(); err != nil {
			f.Logger.Warnf("failed to close session: %v", err)
		}
	})
	f.Session = session
	f.Page = session.Page()

	f.Toast, err = ui.WatchErrorToast(f.Page)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	t.Cleanup(func() { f.finish(t) })

	if err := f.Page.Goto(ctx, env.cfg.BaseURL); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	if f.Orchestrator != nil {
		if o.check(ctx, f.Page) {
			f.Orchestrator.MarkLoggedIn()
		} else {
			f.Orchestrator.MarkLoggedOut()
			f.Logger.Warnf("%s is not logged in after loading the session", id.Email)
		}
	}
	return f
}

// finish runs before the session closes so the final cookies can still be
// read.
func (f *Fixture) finish(t testing.TB) {
	if err := f.Toast.Check(); err != nil {
		t.Errorf("%v", err)
	}
	if f.Orchestrator == nil {
		return
	}
	state := f.Orchestrator.Teardown(context.Background(), f.Session)
	f.Logger.Debugf("session for %s finished %s", f.Identity.Email, state)
}
