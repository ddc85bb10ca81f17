// Package bootstrap resolves an authenticated browser session for one
// worker identity.
//
// An Orchestrator hands out the path of a cached storage-state artifact,
// logging in first when the cache has none. When the test is done it either
// re-persists the session or throws the artifact away, depending on whether
// the run was confirmed logged in:
//
//	Unresolved ──hit──▶ CacheHit ──┐
//	    │                          ├─ teardown ─▶ Cached | Discarded
//	    └──miss──▶ LoggingIn ─▶ Cached
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/identity"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/pages"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// State of an Orchestrator.
type State int

const (
	Unresolved State = iota
	CacheHit
	LoggingIn
	Cached
	Discarded
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case CacheHit:
		return "cache-hit"
	case LoggingIn:
		return "logging-in"
	case Cached:
		return "cached"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrMissingCredentials means a login was needed but the target URL or
	// the password is not configured.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrNoCookies means a login finished without producing any cookie.
	ErrNoCookies = errors.New("login produced no cookies")

	// ErrFinished is returned by Resolve after Teardown.
	ErrFinished = errors.New("bootstrap already torn down")
)

// Cache is the artifact store. *sessioncache.Store implements it.
type Cache interface {
	Load(key string) (string, error)
	Save(key string, cookies []sessioncache.Cookie) error
	Invalidate(key string) error
}

// Launcher opens browser sessions. browser.Driver implements it.
type Launcher interface {
	NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error)
}

// CookieSource is anything that can report the current cookies of a
// session, usually the test's browser.Session.
type CookieSource interface {
	Cookies(ctx context.Context) ([]sessioncache.Cookie, error)
}

// Credentials log a worker in.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// Missing names the settings that are not set.
func (c Credentials) Missing() []string {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.Username == "" {
		missing = append(missing, "QA_USER")
	}
	if c.Password == "" {
		missing = append(missing, "QA_PASS")
	}
	return missing
}

// LoginFunc drives page through the login form. It must not assert that
// the login worked.
type LoginFunc func(ctx context.Context, page ui.Page, creds Credentials) error

// FormLogin is the default LoginFunc: it submits the sign-in form at the
// base URL.
func FormLogin(ctx context.Context, page ui.Page, creds Credentials) error {
	return pages.Login(ctx, page, creds.BaseURL, creds.Username, creds.Password)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogin(fn LoginFunc) Option {
	return func(o *Orchestrator) { o.login = fn }
}

// WithIdleTimeout bounds the wait for the page to settle after login.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.idleTimeout = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator runs the bootstrap for one identity. It is safe for
// concurrent use, but one worker normally drives it sequentially.
type Orchestrator struct {
	cache    Cache
	launcher Launcher
	id       identity.Identity
	creds    Credentials

	login       LoginFunc
	idleTimeout time.Duration
	logger      *logging.Logger

	mu       sync.Mutex
	state    State
	path     string
	loggedIn bool
	attempts int
}

// New returns an orchestrator for id. An empty creds.Username defaults to
// the identity's email.
func New(cache Cache, launcher Launcher, id identity.Identity, creds Credentials, opts ...Option) *Orchestrator {
	if creds.Username == "" {
		creds.Username = id.Email
	}
	o := &Orchestrator{
		cache:       cache,
		launcher:    launcher,
		id:          id,
		creds:       creds,
		login:       FormLogin,
		idleTimeout: ui.DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Discard("bootstrap")
	}
	return o
}

// Identity returns the identity this orchestrator works for.
func (o *Orchestrator) Identity() identity.Identity {
	return o.id
}

// Resolve returns the artifact path for the identity, logging in when the
// cache has nothing usable. Later calls return the same path without
// touching the cache again.
func (o *Orchestrator) Resolve(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case CacheHit, Cached:
		if o.path != "" {
			return o.path, nil
		}
	case Discarded:
		return "", ErrFinished
	}

	path, err := o.cache.Load(o.id.CacheKey)
	if err == nil {
		o.state = CacheHit
		o.path = path
		o.logger.Infof("using cached session for %s: %s", o.id.Email, path)
		return path, nil
	}
	if !errors.Is(err, sessioncache.ErrNotCached) {
		return "", fmt.Errorf("failed to check session cache: %w", err)
	}

	if missing := o.creds.Missing(); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s not set and no cached session for %s",
			ErrMissingCredentials, strings.Join(missing, ", "), o.id.Email)
	}

	o.state = LoggingIn
	o.attempts++
	cookies, err := o.loginAndCapture(ctx)
	if err != nil {
		o.state = Unresolved
		return "", fmt.Errorf("login as %s failed: %w", o.id.Email, err)
	}

	if err := o.cache.Save(o.id.CacheKey, cookies); err != nil {
		o.state = Unresolved
		return "", fmt.Errorf("failed to persist session for %s: %w", o.id.Email, err)
	}
	path, err = o.cache.Load(o.id.CacheKey)
	if err != nil {
		o.state = Unresolved
		return "", fmt.Errorf("failed to reload session for %s: %w", o.id.Email, err)
	}

	o.state = Cached
	o.path = path
	o.logger.Infof("logged in as %s, cached %d cookies at %s", o.id.Email, len(cookies), path)
	return path, nil
}

// loginAndCapture logs in on a throwaway unauthenticated session and reads
// its cookies once the page has settled.
func (o *Orchestrator) loginAndCapture(ctx context.Context) ([]sessioncache.Cookie, error) {
	session, err := o.launcher.NewSession(ctx, browser.SessionOptions{BaseURL: o.creds.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Warnf("failed to close login session: %v", err)
		}
	}()

	page := session.Page()
	toast, err := ui.WatchErrorToast(page)
	if err != nil {
		return nil, err
	}

	if err := o.login(ctx, page, o.creds); err != nil {
		return nil, err
	}
	if err := toast.Err(); err != nil {
		return nil, err
	}

	// Cookies captured mid-redirect are not the final session.
	if err := ui.WaitUntilIdle(ctx, page, o.idleTimeout); err != nil {
		return nil, err
	}
	if err := toast.Check(); err != nil {
		return nil, err
	}

	cookies, err := session.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, ErrNoCookies
	}
	return cookies, nil
}

// MarkLoggedIn records that the test confirmed an authenticated session.
func (o *Orchestrator) MarkLoggedIn() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loggedIn = true
}

// MarkLoggedOut withdraws a confirmation, for instance when the page still
// shows the login form after the session was loaded.
func (o *Orchestrator) MarkLoggedOut() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loggedIn = false
}

// LoggedIn reports whether the run is flagged logged in. A login by Resolve
// does not count until the caller confirms it.
func (o *Orchestrator) LoggedIn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loggedIn
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LoginAttempts counts logins started by this orchestrator.
func (o *Orchestrator) LoginAttempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Teardown finishes the bootstrap. A logged-in run re-persists the cookies
// of src, which may be nil to keep the artifact as it is; any other run
// invalidates the artifact so the next run logs in again. Cache errors are
// logged, never returned: the test itself is already over.
func (o *Orchestrator) Teardown(ctx context.Context, src CookieSource) State {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == Discarded {
		return o.state
	}

	if o.loggedIn {
		if src != nil {
			o.persist(ctx, src)
		}
		o.state = Cached
		return o.state
	}

	if err := o.cache.Invalidate(o.id.CacheKey); err != nil {
		o.logger.Warnf("failed to invalidate session for %s: %v", o.id.Email, err)
	} else {
		o.logger.Infof("discarded unconfirmed session for %s", o.id.Email)
	}
	o.state = Discarded
	o.path = ""
	return o.state
}

func (o *Orchestrator) persist(ctx context.Context, src CookieSource) {
	cookies, err := src.Cookies(ctx)
	if err != nil {
		o.logger.Warnf("failed to read cookies for %s, keeping previous artifact: %v", o.id.Email, err)
		return
	}
	if len(cookies) == 0 {
		o.logger.Warnf("session for %s has no cookies, keeping previous artifact", o.id.Email)
		return
	}
	if err := o.cache.Save(o.id.CacheKey, cookies); err != nil {
		o.logger.Warnf("failed to persist session for %s: %v", o.id.Email, err)
	}
}
