package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/multiwiki/httpengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverTurnsPanicIntoInternalServerError(t *testing.T) {
	e := httpengine.NewEngine(httpengine.EngineConfig{})
	var captured interface{}
	handler := RecoverWithConfig(RecoverConfig{
		OnPanic: func(recovered interface{}, stack []byte) { captured = recovered },
	}, func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
		panic("boom")
	})
	e.Router.Root().Static("panic").Handle(http.MethodGet, httpengine.BodyFormatIgnore, nil, handler)

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req, httpengine.ListenerConfig{})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", captured)
}

func TestRecoverPassesThroughOnNoPanic(t *testing.T) {
	e := httpengine.NewEngine(httpengine.EngineConfig{})
	handler := Recover(func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
		return rs.SendEmpty(http.StatusOK, nil)
	})
	e.Router.Root().Static("ok").Handle(http.MethodGet, httpengine.BodyFormatIgnore, nil, handler)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req, httpengine.ListenerConfig{})

	require.Equal(t, http.StatusOK, rec.Code)
}
