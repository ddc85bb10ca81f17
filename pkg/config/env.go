package config

import (
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays environment variables onto c.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, err := time.ParseDuration(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}

	str("BASE_URL", &c.BaseURL)
	str("QA_USER", &c.UserEmail)
	str("PASSWORD", &c.Password)
	str("QA_PASS", &c.Password)
	str("AUTH_DIR", &c.AuthDir)
	str("RESULTS_DIR", &c.ResultsDir)
	str("ENV", &c.Env)
	num("HARNESS_WORKERS", &c.Workers)

	c.CI = getenv("CI") != "" && getenv("CI") != "false"
	if c.CI {
		str("CI_USERNAME", &c.UserEmail)
	}

	str("BROWSER_DRIVER", &c.Browser.Driver)
	str("BROWSER_CHANNEL", &c.Browser.Channel)
	dur("BROWSER_SLOW_MO", &c.Browser.SlowMo)
	flag("PLAYWRIGHT_SKIP_INSTALL", &c.Browser.SkipInstall)
	// Headed only when HEADLESS is set to something other than "true"
	// outside CI.
	if h := getenv("HEADLESS"); h != "" {
		c.Browser.Headless = c.CI || h == "true"
	} else if c.CI {
		c.Browser.Headless = true
	}

	str("RPC_PORT", &c.RPC.Port)
	str("RPC_URL", &c.RPC.URL)
	if cmd := strings.Fields(getenv("RPC_COMMAND")); len(cmd) > 0 {
		c.RPC.Command = cmd
	}
	flag("RPC_DISABLED", &c.RPC.Disabled)

	flag("HARNESS_EAGER_LOGIN", &c.Bootstrap.EagerLogin)
	num("HARNESS_WARM_WORKERS", &c.Bootstrap.WarmWorkers)

	str("ALLURE_LABEL_epic", &c.Report.Epic)
	str("ALLURE_LABEL_feature", &c.Report.Feature)
	str("ALLURE_LABEL_owner", &c.Report.Owner)
	str("ALLURE_LABEL_severity", &c.Report.Severity)
}
