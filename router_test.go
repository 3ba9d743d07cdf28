package httpengine

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterStaticMatch(t *testing.T) {
	r := NewRouter(NewEventBus())
	leaf := r.Root().Static("admin").Static("users")
	leaf.Handle(http.MethodGet, BodyFormatIgnore, nil, func(rs *RequestState) (StreamEnded, error) {
		return rs.SendEmpty(http.StatusOK, nil)
	})

	matches, node, mismatch := r.Match(http.MethodGet, "/admin/users")
	require.NotNil(t, node)
	assert.False(t, mismatch)
	assert.Len(t, matches, 2)
}

func TestRouterParamCapture(t *testing.T) {
	r := NewRouter(NewEventBus())
	leaf := r.Root().Static("recipes").Param("id")
	leaf.Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	matches, node, mismatch := r.Match(http.MethodGet, "/recipes/42")
	require.NotNil(t, node)
	assert.False(t, mismatch)
	params := MergeCaptures(matches)
	assert.Equal(t, "42", params["id"])
}

func TestRouterAnyCapturesSlashesAndDecodesOnce(t *testing.T) {
	// Scenario S4: GET /files/a%2Fb.txt routed to a catch-all regex
	// -> pathParams.name == "a/b.txt".
	r := NewRouter(NewEventBus())
	leaf := r.Root().Static("files").Any("name")
	leaf.Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	matches, node, _ := r.Match(http.MethodGet, "/files/a%2Fb.txt")
	require.NotNil(t, node)
	params := MergeCaptures(matches)
	assert.Equal(t, "a/b.txt", params["name"])
}

func TestRouterInnermostCaptureWins(t *testing.T) {
	r := NewRouter(NewEventBus())
	outer := r.Root().Param("id")
	inner := outer.Static("nested").Param("id")
	inner.Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	matches, node, _ := r.Match(http.MethodGet, "/outer-id/nested/inner-id")
	require.NotNil(t, node)
	params := MergeCaptures(matches)
	assert.Equal(t, "inner-id", params["id"])
}

func TestRouterMethodMismatch(t *testing.T) {
	r := NewRouter(NewEventBus())
	r.Root().Static("ping").Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	matches, node, mismatch := r.Match(http.MethodPost, "/ping")
	assert.Nil(t, matches)
	require.NotNil(t, node)
	assert.True(t, mismatch)
}

func TestRouterNoMatch(t *testing.T) {
	r := NewRouter(NewEventBus())
	r.Root().Static("ping").Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	_, node, mismatch := r.Match(http.MethodGet, "/pong")
	assert.Nil(t, node)
	assert.False(t, mismatch)
}

func TestRouterDenyFinalNeverTerminates(t *testing.T) {
	r := NewRouter(NewEventBus())
	mid := r.Root().Static("admin").DenyFinal()
	mid.Handle(http.MethodGet, BodyFormatIgnore, nil, nil) // should never be reachable as a terminal
	mid.Static("users").Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	_, node, _ := r.Match(http.MethodGet, "/admin")
	assert.Nil(t, node, "denyFinal node must never terminate a match")

	_, node, _ = r.Match(http.MethodGet, "/admin/users")
	assert.NotNil(t, node)
}

func TestRouterPrefersLiteralOverRegexCapture(t *testing.T) {
	r := NewRouter(NewEventBus())
	root := r.Root()
	literal := root.Static("new")
	literal.Handle(http.MethodGet, BodyFormatIgnore, nil, nil)
	param := root.Param("id")
	param.Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	_, node, _ := r.Match(http.MethodGet, "/new")
	assert.Same(t, literal, node, "a literal sibling must win over a regex-capture sibling")
}

func TestAllowHeaderValueIsSortedAndJoined(t *testing.T) {
	r := NewRouter(NewEventBus())
	leaf := r.Root().Static("x")
	leaf.Handle(http.MethodPost, BodyFormatIgnore, nil, nil)
	leaf.Handle(http.MethodGet, BodyFormatIgnore, nil, nil)

	assert.Equal(t, "GET, POST", allowHeaderValue(leaf))
}
