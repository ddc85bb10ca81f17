package pages_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authharness/pkg/browser/browsertest"
	"github.com/entrhq/authharness/pkg/pages"
)

func newSession(t *testing.T, app *browsertest.App) *browsertest.Session {
	t.Helper()
	driver := browsertest.NewDriver()
	driver.Setup = app.Install
	s, err := driver.NewSession(context.Background(), browserSessionOptions())
	require.NoError(t, err)
	return s.(*browsertest.Session)
}

func TestLoginFillsAndSubmits(t *testing.T) {
	app := &browsertest.App{Username: "qa_0@qa.com", Password: "secret"}
	s := newSession(t, app)
	page := s.FakePage()

	err := pages.Login(context.Background(), page, "https://app.example.test/login", "qa_0@qa.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example.test/login"}, page.Visits())
	assert.Equal(t, "qa_0@qa.com", page.Element(browsertest.LoginUsername).Value)
	assert.Equal(t, "secret", page.Element(browsertest.LoginPassword).Value)
	assert.Equal(t, 1, page.Element(browsertest.LoginSubmit).Clicks)
	assert.True(t, app.Authenticated(s))
	assert.False(t, pages.NewLoginPage(page).IsDisplayed())
}

func TestNewLoginPageScopesLocatorsToTheForm(t *testing.T) {
	lp := pages.NewLoginPage(browsertest.NewPage())

	assert.Equal(t, browsertest.LoginForm, lp.Form.String())
	assert.Equal(t, browsertest.LoginUsername, lp.Username.String())
	assert.Equal(t, browsertest.LoginPassword, lp.Password.String())
	assert.Equal(t, browsertest.LoginSubmit, lp.Submit.String())
}

func TestLoginDoesNotAssertSuccess(t *testing.T) {
	app := &browsertest.App{Username: "qa_0@qa.com", Password: "secret"}
	s := newSession(t, app)
	page := s.FakePage()

	err := pages.Login(context.Background(), page, "https://app.example.test/login", "qa_0@qa.com", "wrong")
	require.NoError(t, err)

	assert.False(t, app.Authenticated(s))
	assert.True(t, pages.NewLoginPage(page).IsDisplayed())
	visible, err := page.ByTestID("toast-error").IsVisible()
	require.NoError(t, err)
	assert.True(t, visible)
}

func TestLoginNavigationFailure(t *testing.T) {
	page := browsertest.NewPage()
	page.GotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	err := pages.Login(context.Background(), page, "https://nowhere.test", "u", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open login page")
}

func TestLoginWithoutForm(t *testing.T) {
	page := browsertest.NewPage()

	err := pages.Login(context.Background(), page, "https://app.example.test", "u", "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, browsertest.ErrNoElement)
	assert.Contains(t, err.Error(), "failed to fill username")
}

func TestLoginPageLocators(t *testing.T) {
	lp := pages.NewLoginPage(browsertest.NewPage())

	assert.Equal(t, browsertest.LoginForm, lp.Form.String())
	assert.Equal(t, browsertest.LoginUsername, lp.Username.String())
	assert.Equal(t, browsertest.LoginPassword, lp.Password.String())
	assert.Equal(t, browsertest.LoginSubmit, lp.Submit.String())
}
