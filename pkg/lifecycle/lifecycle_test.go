package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authharness/pkg/bootstrap"
	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/browser/browsertest"
	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/identity"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/mockrpc"
	"github.com/entrhq/authharness/pkg/report"
	"github.com/entrhq/authharness/pkg/sessioncache"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	// Setup exports these; t.Setenv restores them afterwards.
	for _, key := range []string{rpcURLEnv, report.LabelEpic, report.LabelFeature, report.LabelOwner, report.LabelSeverity} {
		t.Setenv(key, "")
	}

	root := t.TempDir()
	cfg := config.Default()
	cfg.ProjectRoot = root
	cfg.AuthDir = filepath.Join(root, ".build", "auth")
	cfg.ResultsDir = filepath.Join(root, "allure-results")
	cfg.LogDir = filepath.Join(root, ".build", "logs")
	cfg.BaseURL = "https://app.example.test/en/signin"
	cfg.Password = "s3cret"
	cfg.RPC.Disabled = true
	return cfg
}

func fakeDriver() (*browsertest.Driver, *browsertest.App) {
	app := &browsertest.App{Password: "s3cret"}
	driver := browsertest.NewDriver()
	driver.Setup = app.Install
	return driver, app
}

func setup(t *testing.T, cfg *config.Config, opts ...Option) (*Handle, error) {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard("lifecycle"))}, opts...)
	return Setup(context.Background(), cfg, opts...)
}

func TestSetupWarmsCacheAndWritesReport(t *testing.T) {
	cfg := testConfig(t)
	driver, app := fakeDriver()

	h, err := setup(t, cfg, WithDriver(driver))
	require.NoError(t, err)

	id, err := identity.Resolve(cfg.UserEmail, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id.CacheKey}, h.Warmed)
	assert.True(t, h.Store.Exists(id.CacheKey))
	assert.Equal(t, 1, app.Logins())

	for _, name := range []string{report.EnvironmentFile, report.ExecutorFile, report.CategoriesFile} {
		assert.FileExists(t, filepath.Join(cfg.ResultsDir, name))
	}
	assert.Equal(t, "Web", os.Getenv(report.LabelEpic))

	require.NoError(t, Teardown(context.Background(), h))
	assert.True(t, driver.Closed())
}

func TestSetupWarmsWorkersConcurrently(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 3
	cfg.Bootstrap.WarmWorkers = 3
	driver, app := fakeDriver()

	h, err := setup(t, cfg, WithDriver(driver))
	require.NoError(t, err)
	defer Teardown(context.Background(), h)

	assert.Len(t, h.Warmed, 3)
	assert.Equal(t, 3, app.Logins())

	keys, err := h.Store.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, h.Warmed, keys)
}

func TestSetupReusesCachedSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = ""

	id, err := identity.Resolve(cfg.UserEmail, 0)
	require.NoError(t, err)
	store := sessioncache.NewStore(cfg.AuthDir, nil)
	require.NoError(t, store.Save(id.CacheKey, []sessioncache.Cookie{{Name: "SESSION", Value: "v", Domain: "app.example.test", Path: "/"}}))

	opened := false
	h, err := setup(t, cfg, WithDriverOpener(func(context.Context, browser.Options, *logging.Logger) (browser.Driver, error) {
		opened = true
		return nil, errors.New("no browser in this test")
	}))
	require.NoError(t, err)
	defer Teardown(context.Background(), h)

	assert.Empty(t, h.Warmed)
	assert.False(t, opened, "a warm cache needs no browser")
}

func TestSetupFailsFastWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = ""
	driver, _ := fakeDriver()

	h, err := setup(t, cfg, WithDriver(driver))
	require.Error(t, err)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, bootstrap.ErrMissingCredentials)
	assert.Contains(t, err.Error(), "QA_PASS")
	assert.Empty(t, driver.Sessions())
	assert.True(t, driver.Closed(), "a failed setup releases what it acquired")
}

func TestSetupSurfacesLoginFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "wrong"
	driver, _ := fakeDriver()

	_, err := setup(t, cfg, WithDriver(driver))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eager login failed")
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestSetupWithoutEagerLogin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bootstrap.EagerLogin = false
	driver, app := fakeDriver()

	h, err := setup(t, cfg, WithDriver(driver))
	require.NoError(t, err)
	defer Teardown(context.Background(), h)

	assert.Zero(t, app.Logins())
	assert.DirExists(t, cfg.AuthDir)
	assert.DirExists(t, cfg.ResultsDir)
}

func TestSetupStartsRPCService(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Disabled = false
	cfg.Bootstrap.EagerLogin = false

	svc := mockrpc.NewInProcess(0, logging.Discard("mockrpc"))
	h, err := setup(t, cfg, WithService(svc))
	require.NoError(t, err)

	assert.Equal(t, svc.URL(), h.RPCURL)
	assert.Equal(t, h.RPCURL, os.Getenv(rpcURLEnv))
	assert.Equal(t, h.RPCURL, cfg.RPC.URL)
	assert.Zero(t, h.ServicePID())

	res, err := mockrpc.NewClient(h.RPCURL).Call(context.Background(), "ping", []int{})
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(res.Result))

	require.NoError(t, Teardown(context.Background(), h))
	assert.Empty(t, os.Getenv(rpcURLEnv))
}

func TestSetupKeepsExistingRPCURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Disabled = false
	cfg.Bootstrap.EagerLogin = false
	t.Setenv(rpcURLEnv, "http://rpc.example.test/rpc")

	h, err := setup(t, cfg, WithService(mockrpc.NewInProcess(0, logging.Discard("mockrpc"))))
	require.NoError(t, err)
	defer Teardown(context.Background(), h)

	assert.Equal(t, "http://rpc.example.test/rpc", os.Getenv(rpcURLEnv))
}

func TestSetupContinuesWhenRPCServiceFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Disabled = false
	cfg.Bootstrap.EagerLogin = false

	h, err := setup(t, cfg, WithService(mockrpc.NewProcess(nil, 4000, logging.Discard("mockrpc"))))
	require.NoError(t, err)
	defer Teardown(context.Background(), h)

	assert.Empty(t, h.RPCURL)
	assert.Zero(t, h.ServicePID())
}

func TestSetupRejectsInvalidPort(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Disabled = false
	cfg.RPC.Port = "rpc"

	_, err := setup(t, cfg)
	assert.Error(t, err)
}

func TestTeardownNilHandle(t *testing.T) {
	assert.NoError(t, Teardown(context.Background(), nil))
}

func TestHandleDriverOpensOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bootstrap.EagerLogin = false

	calls := 0
	fake := browsertest.NewDriver()
	h, err := setup(t, cfg, WithDriverOpener(func(context.Context, browser.Options, *logging.Logger) (browser.Driver, error) {
		calls++
		return fake, nil
	}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		d, err := h.Driver(context.Background())
		require.NoError(t, err)
		assert.Same(t, fake, d)
	}
	assert.Equal(t, 1, calls)

	require.NoError(t, Teardown(context.Background(), h))
	assert.True(t, fake.Closed())
}
