package browsertest

import (
	"fmt"
	"sync"

	"github.com/entrhq/authharness/pkg/pages"
	"github.com/entrhq/authharness/pkg/sessioncache"
	"github.com/entrhq/authharness/pkg/ui"
)

// SessionCookieName is the cookie a fake App issues on login.
const SessionCookieName = "SESSION"

// Descriptors of the fake sign-in form.
var (
	LoginForm     = CSS(pages.LoginFormSelector)
	LoginUsername = Chain(LoginForm, Placeholder(pages.UsernamePlaceholder))
	LoginPassword = Chain(LoginForm, Placeholder(pages.PasswordPlaceholder))
	LoginSubmit   = Chain(LoginForm, Text(ui.Exact(pages.SubmitText)))
	ErrorToast    = TestID(ui.ErrorToastTestID)
	Progressbar   = Role("progressbar", nil)
)

// App plays the application under test. Unauthenticated sessions get the
// sign-in form on every navigation; submitting accepted credentials hands
// out a session cookie and hides the form.
type App struct {
	// Domain of the issued cookie.
	Domain string

	// Username and Password are the accepted credentials. Empty accepts
	// anything.
	Username string
	Password string

	// SlowLogin shows a progressbar after submit that clears once waited
	// on.
	SlowLogin bool

	// StuckLoading shows a progressbar after submit that never clears.
	StuckLoading bool

	mu         sync.Mutex
	generation int
	logins     int
}

// Install lays the app out on s. Use it as Driver.Setup.
func (a *App) Install(s *Session) {
	page := s.FakePage()
	page.OnGoto = func(p *Page, _ string) {
		if a.Authenticated(s) {
			p.Hide(LoginForm)
			return
		}
		a.showForm(s, p)
	}
}

// Logins returns how many logins succeeded.
func (a *App) Logins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logins
}

// Revoke invalidates every session issued so far, as a server-side
// timeout would.
func (a *App) Revoke() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
}

// Authenticated reports whether s carries a live session cookie.
func (a *App) Authenticated(s *Session) bool {
	s.mu.Lock()
	cookies := append([]sessioncache.Cookie(nil), s.cookies...)
	s.mu.Unlock()

	token := a.token()
	for _, c := range cookies {
		if c.Name == SessionCookieName && c.Value == token {
			return true
		}
	}
	return false
}

// Cookies returns the cookie set a login issues right now.
func (a *App) Cookies() []sessioncache.Cookie {
	domain := a.Domain
	if domain == "" {
		domain = "app.example.test"
	}
	return []sessioncache.Cookie{
		{Name: SessionCookieName, Value: a.token(), Domain: domain, Path: "/", Expires: -1, HTTPOnly: true, Secure: true, SameSite: "Lax"},
		{Name: "locale", Value: "en", Domain: domain, Path: "/", Expires: -1, SameSite: "Lax"},
	}
}

func (a *App) token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("token-%d", a.generation)
}

func (a *App) showForm(s *Session, p *Page) {
	p.Add(LoginForm, &Element{Visible: true})
	p.Add(LoginUsername, &Element{Visible: true})
	p.Add(LoginPassword, &Element{Visible: true})
	p.Add(LoginSubmit, &Element{Visible: true, Text: pages.SubmitText, OnClick: func() {
		a.submit(s, p)
	}})
}

func (a *App) submit(s *Session, p *Page) {
	user := p.Element(LoginUsername)
	pass := p.Element(LoginPassword)

	p.mu.Lock()
	username, password := user.Value, pass.Value
	p.mu.Unlock()

	if (a.Username != "" && username != a.Username) || (a.Password != "" && password != a.Password) {
		p.Add(ErrorToast, &Element{Text: "Invalid credentials"})
		p.Show(ErrorToast)
		return
	}

	s.SetCookies(a.Cookies())
	a.mu.Lock()
	a.logins++
	a.mu.Unlock()

	p.Hide(LoginForm)
	switch {
	case a.StuckLoading:
		p.Add(Progressbar, &Element{Visible: true})
	case a.SlowLogin:
		p.Add(Progressbar, &Element{Visible: true, HideOnWait: true})
	}
}
