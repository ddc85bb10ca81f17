package ui

import (
	"context"
	"regexp"
)

var loadingPattern = regexp.MustCompile(`(?i)loading`)

// Indicator names, in the order they are checked.
const (
	IndicatorProgressbar   = "progressbar"
	IndicatorStatus        = "status"
	IndicatorTestIDLoader  = "testid-loader"
	IndicatorAriaBusy      = "aria-busy"
	IndicatorOverlayDialog = "overlay-dialog"
	IndicatorOverlayText   = "overlay-text"
)

// Indicator is one candidate loading or overlay element.
type Indicator struct {
	Name    string
	Locator Locator
}

// Loader detects loading indicators inside a scope. It never asserts; the
// caller decides what to do with what it reports.
//
// Candidates are checked user-facing roles first, then the test id, then a
// raw CSS attribute, then the optional page overlay.
type Loader struct {
	progressbar   Locator
	status        Locator
	testIDLoader  Locator
	ariaBusy      Locator
	overlayDialog Locator
	overlayText   Locator
}

// NewLoader builds the candidate locators for scope, which may be a whole
// page or a locator.
func NewLoader(scope Scope) *Loader {
	return &Loader{
		progressbar:   scope.ByRole("progressbar", RoleOptions{}),
		status:        scope.ByRole("status", RoleOptions{}),
		testIDLoader:  scope.ByTestID("loader"),
		ariaBusy:      scope.ByCSS(`[aria-busy="true"]`),
		overlayDialog: scope.ByRole("dialog", RoleOptions{Name: loadingPattern}),
		overlayText:   scope.ByText(loadingPattern),
	}
}

// LoaderLocators returns the loader candidates in precedence order.
func (l *Loader) LoaderLocators() []Indicator {
	return []Indicator{
		{Name: IndicatorProgressbar, Locator: l.progressbar},
		{Name: IndicatorStatus, Locator: l.status},
		{Name: IndicatorTestIDLoader, Locator: l.testIDLoader},
		{Name: IndicatorAriaBusy, Locator: l.ariaBusy},
	}
}

// OverlayLocators returns the overlay candidates in precedence order.
func (l *Loader) OverlayLocators() []Indicator {
	return []Indicator{
		{Name: IndicatorOverlayDialog, Locator: l.overlayDialog},
		{Name: IndicatorOverlayText, Locator: l.overlayText},
	}
}

// ActiveLocator returns the first candidate that is visible now. Each call
// is a fresh poll. A candidate whose visibility check fails counts as not
// visible.
func (l *Loader) ActiveLocator(ctx context.Context) (Indicator, bool) {
	candidates := append(l.LoaderLocators(), l.OverlayLocators()...)
	for _, c := range candidates {
		if ctx.Err() != nil {
			return Indicator{}, false
		}
		if visible, err := c.Locator.IsVisible(); err == nil && visible {
			return c, true
		}
	}
	return Indicator{}, false
}

// IsIdle reports whether no loader or overlay is visible.
func (l *Loader) IsIdle(ctx context.Context) bool {
	_, active := l.ActiveLocator(ctx)
	return !active
}
