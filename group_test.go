package httpengine

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupInheritsChecksAndHandlers(t *testing.T) {
	r := NewRouter(NewEventBus())
	var calls []string

	check := func(rs *RequestState) *SendError {
		calls = append(calls, "check")
		return nil
	}
	mw := func(rs *RequestState) (StreamEnded, error) {
		calls = append(calls, "mw")
		return StreamEnded{}, nil
	}

	g := r.Root().Group().Use([]SecurityCheck{check}, mw).Static("admin")
	g.Handle(http.MethodGet, BodyFormatIgnore, nil, func(rs *RequestState) (StreamEnded, error) {
		calls = append(calls, "handler")
		return rs.SendEmpty(http.StatusOK, nil)
	})

	e := NewEngine(EngineConfig{Listeners: []ListenerConfig{{Scheme: SchemeHTTP, Port: "0"}}})
	e.Router = r

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req, e.Config.Listeners[0])

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"check", "mw", "handler"}, calls)
}

func TestGroupStaticDescendsFromNode(t *testing.T) {
	r := NewRouter(NewEventBus())
	g := r.Root().Group()
	child := g.Static("foo")
	require.NotNil(t, child.Node())
	assert.Same(t, r.Root().Static("foo"), child.Node())
}
