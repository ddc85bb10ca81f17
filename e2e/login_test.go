//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authharness/pkg/fixture"
	"github.com/entrhq/authharness/pkg/pages"
	"github.com/entrhq/authharness/pkg/ui"
)

func visible(loc ui.Locator) func() bool {
	return func() bool {
		ok, err := loc.IsVisible()
		return err == nil && ok
	}
}

func TestAuthenticatedSession(t *testing.T) {
	f := fixture.New(t, env)

	assert.True(t, f.Orchestrator.LoggedIn(), "cached session for %s did not load the application", f.Identity.Email)
	assert.False(t, pages.NewLoginPage(f.Page).IsDisplayed())

	ui.WaitForIdle(context.Background(), f.Page, ui.DefaultIdleTimeout, f.Logger)
	assert.True(t, ui.NewLoader(f.Page).IsIdle(context.Background()))
}

func TestSigninEntry(t *testing.T) {
	f := fixture.New(t, env, fixture.WithoutAuth())
	signin := pages.NewSigninPage(f.Page)
	timeout := cfg.Browser.ExpectTimeout

	t.Run("open sign-in page", func(t *testing.T) {
		require.NoError(t, signin.Goto(context.Background(), cfg.BaseURL))
		assert.Eventually(t, visible(signin.HeadingWelcome), timeout, 100*time.Millisecond)
	})

	t.Run("default language is English", func(t *testing.T) {
		assert.Eventually(t, visible(signin.LanguageTrigger), timeout, 100*time.Millisecond)
	})

	t.Run("sign in navigates away", func(t *testing.T) {
		start := f.Page.URL()
		require.NoError(t, signin.ClickSignIn())
		assert.Eventually(t, func() bool { return f.Page.URL() != start }, timeout, 100*time.Millisecond)
	})
}
