package sessioncache

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Jar loads the artifact for key into a cookie jar scoped to baseURL, so
// plain HTTP clients can reuse a cached browser login.
func (s *Store) Jar(key, baseURL string) (http.CookieJar, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	state, err := s.Read(key)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	jar.SetCookies(u, HTTPCookies(state.Cookies, u.Hostname()))
	return jar, nil
}

// HTTPCookies converts cookies that apply to host into net/http cookies.
func HTTPCookies(cookies []Cookie, host string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !domainMatch(host, c.Domain) {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: sameSite(c.SameSite),
		}
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = c.Domain
		}
		// Playwright uses -1 for session cookies.
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	host = strings.ToLower(host)
	return domain == "" || host == domain || strings.HasSuffix(host, "."+domain)
}

func sameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
