package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/browser/browsertest"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/sessioncache"
)

var logDir string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "authcache-logs")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logDir = dir
	logging.SetEcho(nil)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

type cli struct {
	t          *testing.T
	configFile string
	authDir    string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	for _, key := range []string{"BASE_URL", "QA_USER", "PASSWORD", "AUTH_DIR", "HARNESS_WORKERS", "CI", "HARNESS_CONFIG"} {
		t.Setenv(key, "")
	}
	t.Setenv("QA_PASS", "s3cret")

	root := t.TempDir()
	t.Setenv("PROJECT_ROOT", root)
	authDir := filepath.Join(root, "auth")
	configFile := filepath.Join(root, "harness.yaml")
	yaml := fmt.Sprintf("base_url: https://app.example.test/en/signin\nauth_dir: %s\nlog_dir: %s\nworkers: 2\nbootstrap:\n  warm_workers: 1\n",
		authDir, logDir)
	require.NoError(t, os.WriteFile(configFile, []byte(yaml), 0o600))

	return &cli{t: t, configFile: configFile, authDir: authDir}
}

func (c *cli) run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(context.Background(), append([]string{"-config", c.configFile}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c *cli) seed(keys ...string) {
	store := sessioncache.NewStore(c.authDir, nil)
	for _, key := range keys {
		require.NoError(c.t, store.Save(key, []sessioncache.Cookie{{Name: "SESSION", Value: key, Domain: "app.example.test", Path: "/"}}))
	}
}

func useDriver(t *testing.T, d browser.Driver, err error) {
	t.Helper()
	prev := openDriver
	openDriver = func(context.Context, browser.Options, *logging.Logger) (browser.Driver, error) {
		return d, err
	}
	t.Cleanup(func() { openDriver = prev })
}

func TestList(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("list")
	assert.Equal(t, 0, code)
	assert.Empty(t, out)

	c.seed("qa_1_qa.com", "qa_0_qa.com")
	code, out, _ = c.run("list")
	assert.Equal(t, 0, code)
	assert.Equal(t, "qa_0_qa.com\nqa_1_qa.com\n", out)
}

func TestClear(t *testing.T) {
	c := newCLI(t)
	c.seed("qa_0_qa.com", "qa_1_qa.com", "ops_0_qa.com")

	code, out, _ := c.run("clear", "-match", "qa_*")
	assert.Equal(t, 0, code)
	assert.Equal(t, "removed qa_0_qa.com\nremoved qa_1_qa.com\n", out)

	_, out, _ = c.run("list")
	assert.Equal(t, "ops_0_qa.com\n", out)

	code, out, _ = c.run("clear")
	assert.Equal(t, 0, code)
	assert.Equal(t, "removed ops_0_qa.com\n", out)
}

func TestClearInvalidPattern(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("clear", "-match", "[")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid pattern")
}

func TestPath(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("path", "-worker", "3")
	assert.Equal(t, 0, code)
	assert.Equal(t, filepath.Join(c.authDir, "qa_3_qa.com.json")+"\n", out)

	code, _, stderr := c.run("path")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-worker is required")
}

func TestWarm(t *testing.T) {
	c := newCLI(t)
	c.seed("qa_0_qa.com")

	app := &browsertest.App{Password: "s3cret"}
	driver := browsertest.NewDriver()
	driver.Setup = app.Install
	useDriver(t, driver, nil)

	code, out, stderr := c.run("warm")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "cached qa_0_qa.com\nwarmed qa_1_qa.com\n", out)
	assert.Equal(t, 1, app.Logins())
	assert.True(t, driver.Closed())

	code, out, _ = c.run("warm", "-workers", "1")
	assert.Equal(t, 0, code)
	assert.Equal(t, "cached qa_0_qa.com\n", out)
}

func TestWarmWithoutBrowser(t *testing.T) {
	c := newCLI(t)
	useDriver(t, nil, errors.New("chromium not installed"))

	code, _, stderr := c.run("warm", "-workers", "1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "chromium not installed")
}

func TestWarmWithoutCredentialsSkipsTheBrowser(t *testing.T) {
	c := newCLI(t)
	c.seed("qa_0_qa.com")
	t.Setenv("QA_PASS", "")

	opened := false
	prev := openDriver
	openDriver = func(context.Context, browser.Options, *logging.Logger) (browser.Driver, error) {
		opened = true
		return browsertest.NewDriver(), nil
	}
	t.Cleanup(func() { openDriver = prev })

	code, out, stderr := c.run("warm")
	assert.Equal(t, 1, code)
	assert.Equal(t, "cached qa_0_qa.com\n", out)
	assert.Contains(t, stderr, "QA_PASS")
	assert.False(t, opened, "the browser must not start without credentials")

	code, _, _ = c.run("warm", "-workers", "1")
	assert.Equal(t, 0, code, "nothing to log in, nothing to check")
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "Usage: authcache"},
		{"unknown command", []string{"explode"}, "Unknown command: explode"},
		{"bad flag", []string{"warm", "-workers", "x"}, "invalid value"},
		{"zero workers", []string{"warm", "-workers", "0"}, "-workers must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := c.run(tt.args...)
			assert.Equal(t, 2, code)
			assert.True(t, strings.Contains(stderr, tt.want), stderr)
		})
	}
}
