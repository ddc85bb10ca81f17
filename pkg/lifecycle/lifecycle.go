// Package lifecycle runs the once-per-test-binary setup and teardown of the
// harness: the mock RPC service, the cache and results directories, report
// metadata and the eager login that warms the session cache.
//
// Setup returns a Handle that owns everything it started; pass it to
// Teardown. Call both from TestMain.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/authharness/pkg/bootstrap"
	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/identity"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/mockrpc"
	"github.com/entrhq/authharness/pkg/report"
	"github.com/entrhq/authharness/pkg/sessioncache"
)

// rpcURLEnv is exported to tests and child processes.
const rpcURLEnv = "RPC_URL"

// Handle owns what Setup started.
type Handle struct {
	Config *config.Config
	Store  *sessioncache.Store

	// RPCURL is the mock service endpoint, empty when the service is
	// disabled.
	RPCURL string

	// Warmed lists the cache keys logged in by the eager login.
	Warmed []string

	service  mockrpc.Service
	openFn   DriverOpener
	logger   *logging.Logger
	unsetEnv []string

	mu     sync.Mutex
	driver browser.Driver
}

// ServicePID returns the pid of the mock service child process, or 0.
func (h *Handle) ServicePID() int {
	if h.service == nil {
		return 0
	}
	return h.service.PID()
}

// Driver returns the shared browser driver, starting it on first use.
func (h *Handle) Driver(ctx context.Context) (browser.Driver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.driver != nil {
		return h.driver, nil
	}
	d, err := h.openFn(ctx, browser.OptionsFromConfig(h.Config), h.logger.With("browser"))
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	h.driver = d
	return d, nil
}

// Logger returns the lifecycle logger.
func (h *Handle) Logger() *logging.Logger {
	return h.logger
}

// DriverOpener starts a browser driver. browser.Open is the default.
type DriverOpener func(ctx context.Context, opts browser.Options, logger *logging.Logger) (browser.Driver, error)

type options struct {
	driver  browser.Driver
	openFn  DriverOpener
	service mockrpc.Service
	logger  *logging.Logger
	login   bootstrap.LoginFunc
}

// Option configures Setup.
type Option func(*options)

// WithDriver uses d instead of starting a browser. Teardown closes it.
func WithDriver(d browser.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithDriverOpener overrides how the browser is started.
func WithDriverOpener(fn DriverOpener) Option {
	return func(o *options) { o.openFn = fn }
}

// WithService runs s instead of the service the configuration describes.
func WithService(s mockrpc.Service) Option {
	return func(o *options) { o.service = s }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLogin overrides the login procedure used by the eager login.
func WithLogin(fn bootstrap.LoginFunc) Option {
	return func(o *options) { o.login = fn }
}

// Setup prepares the run. A mock service that fails to start is only a
// warning; anything else is fatal and leaves nothing running.
func Setup(ctx context.Context, cfg *config.Config, opts ...Option) (*Handle, error) {
	o := &options{openFn: browser.Open}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		logging.SetDirectory(cfg.LogDir)
		o.logger = logging.MustLogger("lifecycle")
	}

	h := &Handle{
		Config: cfg,
		Store:  sessioncache.NewStore(cfg.AuthDir, o.logger.With("sessioncache")),
		openFn: o.openFn,
		driver: o.driver,
		logger: o.logger,
	}

	if err := h.startService(ctx, o.service); err != nil {
		return nil, err
	}

	if err := setupDirectories(cfg); err != nil {
		_ = Teardown(ctx, h)
		return nil, err
	}

	if err := writeReport(cfg, h.logger); err != nil {
		_ = Teardown(ctx, h)
		return nil, err
	}

	if cfg.Bootstrap.EagerLogin && cfg.Bootstrap.WarmWorkers > 0 {
		warmed, err := h.warm(ctx, cfg.Bootstrap.WarmWorkers, o.login)
		if err != nil {
			_ = Teardown(ctx, h)
			return nil, err
		}
		h.Warmed = warmed
	}

	return h, nil
}

func (h *Handle) startService(ctx context.Context, svc mockrpc.Service) error {
	cfg := h.Config
	if cfg.RPC.Disabled {
		h.logger.Infof("mock RPC service disabled")
		return nil
	}

	if svc == nil {
		port, err := strconv.Atoi(cfg.RPC.Port)
		if err != nil {
			return fmt.Errorf("invalid RPC port %q: %w", cfg.RPC.Port, err)
		}
		if len(cfg.RPC.Command) > 0 {
			svc = mockrpc.NewProcess(cfg.RPC.Command, port, h.logger.With("mockrpc"))
		} else {
			svc = mockrpc.NewInProcess(port, h.logger.With("mockrpc"))
		}
	}

	if err := svc.Start(ctx); err != nil {
		h.logger.Warnf("RPC mock server did not start: %v", err)
		return nil
	}
	h.service = svc

	url := svc.URL()
	if err := mockrpc.WaitReady(ctx, url, cfg.RPC.ReadyTimeout); err != nil {
		h.logger.Warnf("RPC mock server did not start: %v", err)
	}

	h.RPCURL = url
	if os.Getenv(rpcURLEnv) == "" {
		if err := os.Setenv(rpcURLEnv, url); err == nil {
			h.unsetEnv = append(h.unsetEnv, rpcURLEnv)
		}
		cfg.RPC.URL = url
	}
	return nil
}

func setupDirectories(cfg *config.Config) error {
	for _, dir := range []string{cfg.AuthDir, cfg.ResultsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func writeReport(cfg *config.Config, logger *logging.Logger) error {
	set, err := report.ApplyDefaultLabels(cfg.Report)
	if err != nil {
		return err
	}
	if len(set) > 0 {
		logger.Debugf("applied default report labels: %s", strings.Join(set, ", "))
	}
	return report.NewWriter(cfg.ResultsDir).WriteAll(report.EnvironmentFromConfig(cfg), cfg.CI)
}

func (h *Handle) warm(ctx context.Context, workers int, login bootstrap.LoginFunc) ([]string, error) {
	ids, err := identities(h.Config.UserEmail, workers)
	if err != nil {
		return nil, err
	}

	var pending []identity.Identity
	for _, id := range ids {
		if h.Store.Exists(id.CacheKey) {
			h.logger.Infof("using cached storage state: %s", h.Store.Path(id.CacheKey))
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if missing := h.Config.MissingCredentials(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s not set and the session cache is empty",
			bootstrap.ErrMissingCredentials, strings.Join(missing, ", "))
	}

	driver, err := h.Driver(ctx)
	if err != nil {
		return nil, err
	}
	return Warm(ctx, h.Store, driver, pending, Credentials(h.Config), login, h.logger)
}

// Credentials returns the login credentials of cfg. The username is left
// empty so each identity logs in as itself.
func Credentials(cfg *config.Config) bootstrap.Credentials {
	return bootstrap.Credentials{BaseURL: cfg.BaseURL, Password: cfg.Password}
}

func identities(base string, n int) ([]identity.Identity, error) {
	ids := make([]identity.Identity, 0, n)
	for i := 0; i < n; i++ {
		id, err := identity.Resolve(base, i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Warm logs every identity in ids in concurrently and returns the keys now
// cached. The first failure cancels the rest.
func Warm(ctx context.Context, store *sessioncache.Store, launcher bootstrap.Launcher, ids []identity.Identity,
	creds bootstrap.Credentials, login bootstrap.LoginFunc, logger *logging.Logger) ([]string, error) {
	opts := []bootstrap.Option{bootstrap.WithLogger(logger.With("bootstrap"))}
	if login != nil {
		opts = append(opts, bootstrap.WithLogin(login))
	}

	g, gctx := errgroup.WithContext(ctx)
	keys := make([]string, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			o := bootstrap.New(store, launcher, id, creds, opts...)
			if _, err := o.Resolve(gctx); err != nil {
				return err
			}
			keys[i] = id.CacheKey
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("eager login failed: %w", err)
	}
	return keys, nil
}

// Teardown stops what Setup started. It is safe on a nil handle and
// returns every error it ran into.
func Teardown(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	var errs []error

	if h.service != nil {
		if err := h.service.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop mock RPC service: %w", err))
		}
		h.service = nil
	}

	h.mu.Lock()
	driver := h.driver
	h.driver = nil
	h.mu.Unlock()
	if driver != nil {
		if err := driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	for _, key := range h.unsetEnv {
		os.Unsetenv(key)
	}
	h.unsetEnv = nil

	return errors.Join(errs...)
}
