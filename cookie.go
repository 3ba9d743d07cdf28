package httpengine

import (
	"net/http"
	"strings"
	"time"
)

// SameSite mirrors http.SameSite so callers of SetCookie don't need to
// import net/http themselves for a trivial enum.
type SameSite int

const (
	SameSiteDefault SameSite = iota
	SameSiteLax
	SameSiteStrict
	SameSiteNone
)

// CookieOptions carries the attributes accepted by RequestState.SetCookie,
// matching the {domain?, path?, expires?, maxAge?, secure?, httpOnly?,
// sameSite?} shape from SPEC_FULL §4.3.
type CookieOptions struct {
	Domain   string
	Path     string
	Expires  time.Time
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// cookie is the internal representation serialised into a Set-Cookie value.
// Encoding itself is delegated to net/http's own http.Cookie, which already
// implements RFC 6265 name/value/domain sanitisation and validation; cookie
// only adapts between the engine's CookieOptions shape and http.Cookie's.
type cookie struct {
	name    string
	value   string
	options CookieOptions
}

func (c *cookie) String() string {
	hc := &http.Cookie{
		Name:     c.name,
		Value:    c.value,
		Path:     c.options.Path,
		Domain:   c.options.Domain,
		MaxAge:   c.options.MaxAge,
		Secure:   c.options.Secure,
		HttpOnly: c.options.HTTPOnly,
	}
	if c.options.Expires.Year() >= 1601 {
		hc.Expires = c.options.Expires
	}
	switch c.options.SameSite {
	case SameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	case SameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case SameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	}

	if hc.Valid() != nil {
		return ""
	}
	return hc.String()
}

// validCookieDomain reports whether d is usable as a cookie Domain
// attribute, delegating to http.Cookie's own RFC 6265 domain validation.
func validCookieDomain(d string) bool {
	if d == "" {
		return false
	}
	hc := &http.Cookie{Name: "a", Value: "b", Domain: d}
	return hc.Valid() == nil
}

// parseCookies splits a Cookie request header into a multi-map, matching
// SPEC_FULL §3's "cookies (multi-map)" field.
func parseCookies(header string) map[string][]string {
	out := make(map[string][]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		out[name] = append(out[name], value)
	}
	return out
}
