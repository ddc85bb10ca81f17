package browser

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/authharness/pkg/ui"
)

// CSS approximations of ARIA roles. CDP has no role engine, so implicit
// roles are covered by listing the elements that carry them.
var roleSelectors = map[string]string{
	"button":      `button, [role="button"], input[type="submit"], input[type="button"], input[type="reset"]`,
	"link":        `a[href], [role="link"]`,
	"heading":     `h1, h2, h3, h4, h5, h6, [role="heading"]`,
	"img":         `img, [role="img"]`,
	"textbox":     `input:not([type]), input[type="text"], input[type="email"], input[type="password"], input[type="search"], input[type="tel"], input[type="url"], textarea, [role="textbox"]`,
	"progressbar": `progress, [role="progressbar"]`,
	"status":      `output, [role="status"]`,
	"dialog":      `dialog[open], [role="dialog"]`,
	"combobox":    `select, [role="combobox"]`,
}

func roleSelector(role string) string {
	if sel, ok := roleSelectors[role]; ok {
		return sel
	}
	return fmt.Sprintf(`[role=%q]`, role)
}

// rodRoot is what a lookup runs against: the page or a parent element.
type rodRoot interface {
	Elements(selector string) (rod.Elements, error)
}

type rodQuery func(root rodRoot) (rod.Elements, error)

type rodPage struct {
	page          *rod.Page
	baseURL       string
	actionTimeout time.Duration
	navTimeout    time.Duration
	done          <-chan struct{}
}

func (p *rodPage) locator(q rodQuery, desc string) *rodLocator {
	return &rodLocator{page: p, query: q, desc: desc}
}

func (p *rodPage) ByRole(role string, opts ui.RoleOptions) ui.Locator {
	return p.locator(roleQuery(role, opts.Name), describeRole(role, opts.Name))
}

func (p *rodPage) ByTestID(id string) ui.Locator {
	return p.locator(cssQuery(fmt.Sprintf(`[data-testid=%q]`, id)), "testid="+id)
}

func (p *rodPage) ByCSS(selector string) ui.Locator {
	return p.locator(cssQuery(selector), "css="+selector)
}

func (p *rodPage) ByText(pattern *regexp.Regexp) ui.Locator {
	return p.locator(textQuery(pattern), "text="+pattern.String())
}

func (p *rodPage) ByPlaceholder(text string) ui.Locator {
	return p.locator(cssQuery(fmt.Sprintf(`[placeholder=%q]`, text)), "placeholder="+text)
}

func (p *rodPage) Goto(ctx context.Context, target string) error {
	resolved, err := p.resolve(target)
	if err != nil {
		return err
	}
	page := p.page.Context(ctx).Timeout(p.navTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(resolved); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *rodPage) resolve(target string) (string, error) {
	if p.baseURL == "" {
		return target, nil
	}
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", p.baseURL, err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", target, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// OnAppear polls loc in the background until the session closes. fn runs
// each time loc turns from hidden to visible.
func (p *rodPage) OnAppear(loc ui.Locator, times int, fn func(ui.Locator)) error {
	l, ok := loc.(*rodLocator)
	if !ok || l.page != p {
		return fmt.Errorf("locator %s does not belong to this page", loc)
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		wasVisible := false
		fired := 0
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
			}
			visible, err := l.IsVisible()
			if err != nil {
				continue
			}
			if visible && !wasVisible {
				fn(l)
				fired++
				if times > 0 && fired >= times {
					return
				}
			}
			wasVisible = visible
		}
	}()
	return nil
}

// rodLocator resolves its elements on every action.
type rodLocator struct {
	page   *rodPage
	parent *rodLocator
	query  rodQuery
	desc   string
}

func (l *rodLocator) child(q rodQuery, desc string) *rodLocator {
	return &rodLocator{page: l.page, parent: l, query: q, desc: l.desc + " >> " + desc}
}

func (l *rodLocator) ByRole(role string, opts ui.RoleOptions) ui.Locator {
	return l.child(roleQuery(role, opts.Name), describeRole(role, opts.Name))
}

func (l *rodLocator) ByTestID(id string) ui.Locator {
	return l.child(cssQuery(fmt.Sprintf(`[data-testid=%q]`, id)), "testid="+id)
}

func (l *rodLocator) ByCSS(selector string) ui.Locator {
	return l.child(cssQuery(selector), "css="+selector)
}

func (l *rodLocator) ByText(pattern *regexp.Regexp) ui.Locator {
	return l.child(textQuery(pattern), "text="+pattern.String())
}

func (l *rodLocator) ByPlaceholder(text string) ui.Locator {
	return l.child(cssQuery(fmt.Sprintf(`[placeholder=%q]`, text)), "placeholder="+text)
}

func (l *rodLocator) resolve() (rod.Elements, error) {
	if l.parent == nil {
		return l.query(l.page.page)
	}
	parents, err := l.parent.resolve()
	if err != nil {
		return nil, err
	}
	var out rod.Elements
	for _, parent := range parents {
		els, err := l.query(parent)
		if err != nil {
			return nil, err
		}
		out = append(out, els...)
	}
	return out, nil
}

func (l *rodLocator) IsVisible() (bool, error) {
	els, err := l.resolve()
	if err != nil {
		return false, err
	}
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}
	return false, nil
}

func (l *rodLocator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return waitHidden(ctx, l.IsVisible, timeout)
}

// first waits up to the action timeout for a match, preferring a visible
// one.
func (l *rodLocator) first() (*rod.Element, error) {
	deadline := time.Now().Add(l.page.actionTimeout)
	for {
		els, err := l.resolve()
		if err == nil && len(els) > 0 {
			for _, el := range els {
				if visible, _ := el.Visible(); visible {
					return el.Timeout(l.page.actionTimeout), nil
				}
			}
		}
		if time.Now().After(deadline) {
			if err != nil {
				return nil, fmt.Errorf("%s: %w", l.desc, err)
			}
			return nil, fmt.Errorf("%w waiting for %s", ErrTimeout, l.desc)
		}
		time.Sleep(pollInterval)
	}
}

func (l *rodLocator) Fill(value string) error {
	el, err := l.first()
	if err != nil {
		return fmt.Errorf("fill %s failed: %w", l.desc, err)
	}
	defer el.CancelTimeout()
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("fill %s failed: %w", l.desc, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s failed: %w", l.desc, err)
	}
	return nil
}

func (l *rodLocator) Click() error {
	el, err := l.first()
	if err != nil {
		return fmt.Errorf("click %s failed: %w", l.desc, err)
	}
	defer el.CancelTimeout()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s failed: %w", l.desc, err)
	}
	return nil
}

func (l *rodLocator) TextContent() (string, error) {
	el, err := l.first()
	if err != nil {
		return "", err
	}
	defer el.CancelTimeout()
	return el.Text()
}

func (l *rodLocator) String() string {
	return l.desc
}

func cssQuery(selector string) rodQuery {
	return func(root rodRoot) (rod.Elements, error) {
		return root.Elements(selector)
	}
}

func roleQuery(role string, name *regexp.Regexp) rodQuery {
	selector := roleSelector(role)
	return func(root rodRoot) (rod.Elements, error) {
		els, err := root.Elements(selector)
		if err != nil || name == nil {
			return els, err
		}
		var out rod.Elements
		for _, el := range els {
			if name.MatchString(accessibleName(el)) {
				out = append(out, el)
			}
		}
		return out, nil
	}
}

// accessibleName approximates the computed name: aria-label, then alt,
// then value for input buttons, then the trimmed text.
func accessibleName(el *rod.Element) string {
	for _, attr := range []string{"aria-label", "alt", "value"} {
		if v, err := el.Attribute(attr); err == nil && v != nil && *v != "" {
			return strings.TrimSpace(*v)
		}
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// textQuery keeps the innermost elements whose text matches, the way
// Playwright's text engine does.
func textQuery(pattern *regexp.Regexp) rodQuery {
	return func(root rodRoot) (rod.Elements, error) {
		selector := "*"
		if _, isPage := root.(*rod.Page); isPage {
			selector = "body *"
		}
		els, err := root.Elements(selector)
		if err != nil {
			return nil, err
		}
		var matched rod.Elements
		for _, el := range els {
			text, err := el.Text()
			if err != nil {
				continue
			}
			if pattern.MatchString(strings.TrimSpace(text)) {
				matched = append(matched, el)
			}
		}

		var out rod.Elements
		for i, el := range matched {
			innermost := true
			for j, other := range matched {
				if i == j {
					continue
				}
				if contains, err := el.ContainsElement(other); err == nil && contains {
					innermost = false
					break
				}
			}
			if innermost {
				out = append(out, el)
			}
		}
		return out, nil
	}
}
