// Package pages holds the page objects of the application under test.
package pages

import (
	"context"
	"fmt"

	"github.com/entrhq/authharness/pkg/ui"
)

// Login form markup.
const (
	LoginFormSelector   = `form[name="frmSignIn"]`
	UsernamePlaceholder = "User ID"
	PasswordPlaceholder = "Password"
	SubmitText          = "Sign In"
)

// LoginPage is the sign-in form.
type LoginPage struct {
	Form     ui.Locator
	Username ui.Locator
	Password ui.Locator
	Submit   ui.Locator
}

// NewLoginPage locates the form on page. Nothing is touched until an
// action runs.
func NewLoginPage(page ui.Page) *LoginPage {
	form := page.ByCSS(LoginFormSelector)
	return &LoginPage{
		Form:     form,
		Username: form.ByPlaceholder(UsernamePlaceholder),
		Password: form.ByPlaceholder(PasswordPlaceholder),
		Submit:   form.ByText(ui.Exact(SubmitText)),
	}
}

// FillLoginData types the credentials into the form.
func (p *LoginPage) FillLoginData(username, password string) error {
	if err := p.Username.Fill(username); err != nil {
		return fmt.Errorf("failed to fill username: %w", err)
	}
	if err := p.Password.Fill(password); err != nil {
		return fmt.Errorf("failed to fill password: %w", err)
	}
	return nil
}

// SubmitForm clicks the submit control.
func (p *LoginPage) SubmitForm() error {
	if err := p.Submit.Click(); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	return nil
}

// IsDisplayed reports whether the login form is visible. A failed check
// counts as not displayed.
func (p *LoginPage) IsDisplayed() bool {
	visible, err := p.Form.IsVisible()
	return err == nil && visible
}

// Login navigates page to url and submits the credentials. It returns once
// the form is submitted; whether the login worked is for the caller to
// find out.
func Login(ctx context.Context, page ui.Page, url, username, password string) error {
	if err := page.Goto(ctx, url); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	lp := NewLoginPage(page)
	if err := lp.FillLoginData(username, password); err != nil {
		return err
	}
	return lp.SubmitForm()
}
