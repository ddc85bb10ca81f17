// Package config loads the harness configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults
//  2. an optional YAML file (harness.yaml in the project root, or HARNESS_CONFIG)
//  3. a .env file in the project root (never overrides variables already set)
//  4. environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the YAML file looked up in the project root.
	DefaultFileName = "harness.yaml"

	defaultUserEmail         = "qa@qa.com"
	defaultRPCPort           = "4000"
	defaultWorkers           = 1
	defaultWarmWorkers       = 1
	defaultActionTimeout     = 10 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	defaultExpectTimeout     = 10 * time.Second
	defaultRPCReadyTimeout   = 15 * time.Second
	defaultViewportWidth     = 1280
	defaultViewportHeight    = 720
	defaultHeadedSlowMo      = 80 * time.Millisecond
)

// Browser drivers understood by pkg/browser.
const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

// Config is the complete harness configuration.
type Config struct {
	// ProjectRoot anchors every relative directory below.
	ProjectRoot string `yaml:"project_root"`

	// BaseURL is the application under test.
	BaseURL string `yaml:"base_url"`

	// UserEmail is the base address worker identities are derived from.
	UserEmail string `yaml:"user_email"`

	// Password is only ever read from the environment.
	Password string `yaml:"-"`

	// AuthDir holds one storage-state file per worker identity.
	AuthDir string `yaml:"auth_dir"`

	// ResultsDir receives report metadata.
	ResultsDir string `yaml:"results_dir"`

	LogDir string `yaml:"log_dir"`

	// Env is a free-form environment name written to the report.
	Env string `yaml:"env"`

	CI bool `yaml:"-"`

	// Workers bounds how many fixtures may hold a session at once.
	Workers int `yaml:"workers"`

	Browser   BrowserConfig   `yaml:"browser"`
	RPC       RPCConfig       `yaml:"rpc"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Report    ReportConfig    `yaml:"report"`
}

// BrowserConfig configures the automation driver.
type BrowserConfig struct {
	Driver            string        `yaml:"driver"`
	Channel           string        `yaml:"channel"`
	Headless          bool          `yaml:"headless"`
	SlowMo            time.Duration `yaml:"slow_mo"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ExpectTimeout     time.Duration `yaml:"expect_timeout"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	SkipInstall       bool          `yaml:"skip_install"`
}

// RPCConfig configures the auxiliary mock RPC service.
type RPCConfig struct {
	Port string `yaml:"port"`
	URL  string `yaml:"url"`

	// Command, when set, runs the service as a child process instead of
	// in-process, e.g. ["go", "run", "./cmd/mockrpc"].
	Command []string `yaml:"command"`

	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Disabled     bool          `yaml:"disabled"`
}

// BootstrapConfig controls the global eager login.
type BootstrapConfig struct {
	EagerLogin  bool `yaml:"eager_login"`
	WarmWorkers int  `yaml:"warm_workers"`
}

// ReportConfig holds default report labels.
type ReportConfig struct {
	Epic     string `yaml:"epic"`
	Feature  string `yaml:"feature"`
	Owner    string `yaml:"owner"`
	Severity string `yaml:"severity"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		UserEmail: defaultUserEmail,
		Env:       "local",
		Workers:   defaultWorkers,
		Browser: BrowserConfig{
			Driver:            DriverPlaywright,
			Headless:          true,
			ActionTimeout:     defaultActionTimeout,
			NavigationTimeout: defaultNavigationTimeout,
			ExpectTimeout:     defaultExpectTimeout,
			ViewportWidth:     defaultViewportWidth,
			ViewportHeight:    defaultViewportHeight,
		},
		RPC: RPCConfig{
			Port:         defaultRPCPort,
			ReadyTimeout: defaultRPCReadyTimeout,
		},
		Bootstrap: BootstrapConfig{
			EagerLogin:  true,
			WarmWorkers: defaultWarmWorkers,
		},
		Report: ReportConfig{
			Epic:     "Web",
			Feature:  "Portal",
			Owner:    "qa",
			Severity: "Not Classified",
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// HARNESS_CONFIG and then <project-root>/harness.yaml are tried and a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	root := os.Getenv("PROJECT_ROOT")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}
	cfg.ProjectRoot = root

	explicit := path != ""
	if !explicit {
		path = os.Getenv("HARNESS_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join(root, DefaultFileName)
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := godotenv.Load(filepath.Join(cfg.ProjectRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) resolvePaths() {
	abs := func(p, fallback string) string {
		if p == "" {
			p = fallback
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.ProjectRoot, p)
		}
		return filepath.Clean(p)
	}
	c.AuthDir = abs(c.AuthDir, filepath.Join(".build", "auth"))
	c.ResultsDir = abs(c.ResultsDir, "allure-results")
	c.LogDir = abs(c.LogDir, filepath.Join(".build", "logs"))
	if c.RPC.URL == "" {
		c.RPC.URL = fmt.Sprintf("http://localhost:%s/rpc", c.RPC.Port)
	}
	if !c.Browser.Headless && c.Browser.SlowMo == 0 {
		c.Browser.SlowMo = defaultHeadedSlowMo
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return fmt.Errorf("project root is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Bootstrap.WarmWorkers < 0 || c.Bootstrap.WarmWorkers > c.Workers {
		return fmt.Errorf("warm_workers must be between 0 and workers (%d), got %d", c.Workers, c.Bootstrap.WarmWorkers)
	}
	switch c.Browser.Driver {
	case DriverPlaywright, DriverRod:
	default:
		return fmt.Errorf("invalid browser driver: %s (must be '%s' or '%s')", c.Browser.Driver, DriverPlaywright, DriverRod)
	}
	if c.Browser.ActionTimeout < 0 || c.Browser.NavigationTimeout < 0 || c.Browser.ExpectTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.RPC.ReadyTimeout < 0 {
		return fmt.Errorf("rpc ready_timeout cannot be negative")
	}
	return nil
}

// HasCredentials reports whether a login can be attempted.
func (c *Config) HasCredentials() bool {
	return c.BaseURL != "" && c.UserEmail != "" && c.Password != ""
}

// MissingCredentials names the environment variables a login still needs.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.UserEmail == "" {
		missing = append(missing, "QA_USER")
	}
	if c.Password == "" {
		missing = append(missing, "QA_PASS")
	}
	return missing
}
