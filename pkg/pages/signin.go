package pages

import (
	"context"
	"regexp"

	"github.com/entrhq/authharness/pkg/ui"
)

const welcomeHeading = "Welcome to MyAccount"

var (
	englishPattern = regexp.MustCompile(`^English$`)
	signInPattern  = regexp.MustCompile(`^Sign In$`)
)

// SigninPage is the landing page shown to signed-out users.
type SigninPage struct {
	page ui.Page

	LanguageTrigger ui.Locator
	HeadingWelcome  ui.Locator
	SignInButton    ui.Locator
}

func NewSigninPage(page ui.Page) *SigninPage {
	return &SigninPage{
		page:            page,
		LanguageTrigger: page.ByRole("button", ui.RoleOptions{Name: englishPattern}),
		HeadingWelcome:  ui.Heading(page, welcomeHeading),
		SignInButton:    page.ByRole("button", ui.RoleOptions{Name: signInPattern}),
	}
}

// Goto opens url, usually the base URL.
func (p *SigninPage) Goto(ctx context.Context, url string) error {
	return p.page.Goto(ctx, url)
}

func (p *SigninPage) ClickSignIn() error {
	return p.SignInButton.Click()
}
