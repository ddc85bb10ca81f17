package browser

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/authharness/pkg/ui"
)

// pwPage adapts playwright.Page to ui.Page.
type pwPage struct {
	page playwright.Page
}

func (p *pwPage) ByRole(role string, opts ui.RoleOptions) ui.Locator {
	o := playwright.PageGetByRoleOptions{}
	if opts.Name != nil {
		o.Name = opts.Name
	}
	return &pwLocator{loc: p.page.GetByRole(playwright.AriaRole(role), o), desc: describeRole(role, opts.Name)}
}

func (p *pwPage) ByTestID(id string) ui.Locator {
	return &pwLocator{loc: p.page.GetByTestId(id), desc: "testid=" + id}
}

func (p *pwPage) ByCSS(selector string) ui.Locator {
	return &pwLocator{loc: p.page.Locator(selector), desc: "css=" + selector}
}

func (p *pwPage) ByText(pattern *regexp.Regexp) ui.Locator {
	return &pwLocator{loc: p.page.GetByText(pattern), desc: "text=" + pattern.String()}
}

func (p *pwPage) ByPlaceholder(text string) ui.Locator {
	loc := p.page.GetByPlaceholder(text, playwright.PageGetByPlaceholderOptions{Exact: playwright.Bool(true)})
	return &pwLocator{loc: loc, desc: "placeholder=" + text}
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) OnAppear(loc ui.Locator, times int, fn func(ui.Locator)) error {
	l, ok := loc.(*pwLocator)
	if !ok {
		return fmt.Errorf("locator %s does not belong to a playwright page", loc)
	}
	opts := playwright.PageAddLocatorHandlerOptions{}
	if times > 0 {
		opts.Times = playwright.Int(times)
	}
	return p.page.AddLocatorHandler(l.loc, func(matched playwright.Locator) {
		fn(&pwLocator{loc: matched, desc: l.desc})
	}, opts)
}

// pwLocator adapts playwright.Locator to ui.Locator.
type pwLocator struct {
	loc  playwright.Locator
	desc string
}

func (l *pwLocator) child(loc playwright.Locator, desc string) *pwLocator {
	return &pwLocator{loc: loc, desc: l.desc + " >> " + desc}
}

func (l *pwLocator) ByRole(role string, opts ui.RoleOptions) ui.Locator {
	o := playwright.LocatorGetByRoleOptions{}
	if opts.Name != nil {
		o.Name = opts.Name
	}
	return l.child(l.loc.GetByRole(playwright.AriaRole(role), o), describeRole(role, opts.Name))
}

func (l *pwLocator) ByTestID(id string) ui.Locator {
	return l.child(l.loc.GetByTestId(id), "testid="+id)
}

func (l *pwLocator) ByCSS(selector string) ui.Locator {
	return l.child(l.loc.Locator(selector), "css="+selector)
}

func (l *pwLocator) ByText(pattern *regexp.Regexp) ui.Locator {
	return l.child(l.loc.GetByText(pattern), "text="+pattern.String())
}

func (l *pwLocator) ByPlaceholder(text string) ui.Locator {
	loc := l.loc.GetByPlaceholder(text, playwright.LocatorGetByPlaceholderOptions{Exact: playwright.Bool(true)})
	return l.child(loc, "placeholder="+text)
}

// IsVisible reports whether any match is visible. Playwright's own
// IsVisible is strict and fails when several elements match, which is
// common for generic indicators such as role=status.
func (l *pwLocator) IsVisible() (bool, error) {
	n, err := l.loc.Count()
	if err != nil {
		return false, err
	}
	for i := 0; i < n; i++ {
		visible, err := l.loc.Nth(i).IsVisible()
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}
	return false, nil
}

func (l *pwLocator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return waitHidden(ctx, l.IsVisible, timeout)
}

func (l *pwLocator) Fill(value string) error {
	if err := l.loc.Fill(value); err != nil {
		return fmt.Errorf("fill %s failed: %w", l.desc, err)
	}
	return nil
}

func (l *pwLocator) Click() error {
	if err := l.loc.Click(); err != nil {
		return fmt.Errorf("click %s failed: %w", l.desc, err)
	}
	return nil
}

func (l *pwLocator) TextContent() (string, error) {
	return l.loc.TextContent()
}

func (l *pwLocator) String() string {
	return l.desc
}

func describeRole(role string, name *regexp.Regexp) string {
	if name == nil {
		return "role=" + role
	}
	return fmt.Sprintf("role=%s[name=/%s/]", role, name.String())
}
