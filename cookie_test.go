package httpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCookieStringBasic(t *testing.T) {
	c := &cookie{name: "session", value: "abc123", options: CookieOptions{Path: "/", HTTPOnly: true, Secure: true}}
	s := c.String()
	assert.Contains(t, s, "session=abc123")
	assert.Contains(t, s, "; Path=/")
	assert.Contains(t, s, "; HttpOnly")
	assert.Contains(t, s, "; Secure")
}

func TestCookieStringSameSite(t *testing.T) {
	c := &cookie{name: "a", value: "b", options: CookieOptions{SameSite: SameSiteStrict}}
	assert.Contains(t, c.String(), "; SameSite=Strict")
}

func TestCookieStringMaxAgeNegativeMeansExpireNow(t *testing.T) {
	c := &cookie{name: "a", value: "b", options: CookieOptions{MaxAge: -1}}
	assert.Contains(t, c.String(), "; Max-Age=0")
}

func TestCookieStringEmptyForInvalidName(t *testing.T) {
	c := &cookie{name: "bad name;", value: "v"}
	assert.Equal(t, "", c.String())
}

func TestCookieStringExpires(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &cookie{name: "a", value: "b", options: CookieOptions{Expires: exp}}
	assert.Contains(t, c.String(), "; Expires=")
}

func TestParseCookiesMultiMapAndQuoting(t *testing.T) {
	got := parseCookies(`a=1; b="quoted value"; a=2`)
	assert.Equal(t, []string{"1", "2"}, got["a"])
	assert.Equal(t, []string{"quoted value"}, got["b"])
}

func TestParseCookiesEmptyHeader(t *testing.T) {
	got := parseCookies("")
	assert.Empty(t, got)
}

func TestValidCookieDomain(t *testing.T) {
	assert.True(t, validCookieDomain("example.com"))
	assert.True(t, validCookieDomain(".example.com"))
	assert.False(t, validCookieDomain(""))
	assert.False(t, validCookieDomain("-bad.com"))
}
