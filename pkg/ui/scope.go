// Package ui holds the browser-agnostic page helpers of the harness.
//
// Page objects, the idle detector and the bootstrap only talk to the small
// capability set below. pkg/browser implements it for playwright-go and
// go-rod; pkg/browser/browsertest implements it in memory for unit tests.
//
// Locators are lazy, as in Playwright: building one never touches the page,
// only the action methods do.
package ui

import (
	"context"
	"regexp"
	"time"
)

// Scope finds elements. A Page is a scope; so is every Locator, which
// narrows lookups to its own subtree.
type Scope interface {
	// ByRole matches elements by ARIA role and, optionally, accessible name.
	ByRole(role string, opts RoleOptions) Locator

	// ByTestID matches the data-testid attribute.
	ByTestID(id string) Locator

	// ByCSS matches a CSS selector.
	ByCSS(selector string) Locator

	// ByText matches elements whose text matches pattern.
	ByText(pattern *regexp.Regexp) Locator

	// ByPlaceholder matches inputs by placeholder text.
	ByPlaceholder(text string) Locator
}

// RoleOptions narrows a role lookup.
type RoleOptions struct {
	// Name matches the accessible name. Nil matches any name.
	Name *regexp.Regexp
}

// Locator is a lazy reference to zero or more elements.
type Locator interface {
	Scope

	// IsVisible reports whether a matching element is visible right now.
	IsVisible() (bool, error)

	// WaitHidden blocks until no matching element is visible, timeout
	// elapses or ctx is done.
	WaitHidden(ctx context.Context, timeout time.Duration) error

	Fill(value string) error
	Click() error
	TextContent() (string, error)

	// String describes the locator for logs and error messages.
	String() string
}

// Page is a browser tab.
type Page interface {
	Scope

	Goto(ctx context.Context, url string) error
	URL() string

	// OnAppear runs fn the first times times loc is found visible while the
	// page is used. times <= 0 means every time. Playwright only looks for
	// loc right before actions such as Fill and Click, so without an action
	// fn may never run.
	OnAppear(loc Locator, times int, fn func(Locator)) error
}
