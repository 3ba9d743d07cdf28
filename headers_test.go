package httpengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersGetIsCaseInsensitive(t *testing.T) {
	h := NewHeaders()
	h.Set("Content-Type", "application/json")
	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
}

func TestHeadersAddAccumulatesMultiValue(t *testing.T) {
	h := NewHeaders()
	h.Add("Set-Cookie", "a=1")
	h.Add("set-cookie", "b=2")
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("set-cookie"))
}

func TestHeadersContainsDistinguishesEmptyFromAbsent(t *testing.T) {
	h := NewHeaders()
	h.Set("x-empty", "")
	assert.True(t, h.Contains("x-empty"))
	assert.False(t, h.Contains("x-missing"))
}

func TestHeadersDelete(t *testing.T) {
	h := NewHeaders()
	h.Set("x-foo", "bar")
	h.Delete("X-Foo")
	assert.False(t, h.Contains("x-foo"))
}

func TestNormalizePseudoHeadersTranslatesAuthority(t *testing.T) {
	h := NewHeaders()
	h.Add(":authority", "example.com")
	normalizePseudoHeaders(h)
	assert.Equal(t, "example.com", h.Get("host"))
	assert.False(t, h.Contains(":authority"))
}
