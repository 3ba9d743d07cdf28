// Command wikihttpd is a minimal demonstration server wiring httpengine's
// Router, validation, file sender, and SSE onto a handful of illustrative
// wiki routes. It is not the wiki application itself — only the engine it
// would run on.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/multiwiki/httpengine"
	"github.com/multiwiki/httpengine/middleware"
)

type pageParams struct {
	Slug string `validate:"required,min=1"`
}

type createUserBody struct {
	Username string `validate:"required,min=3,max=64"`
}

func main() {
	cfg := httpengine.DefaultEngineConfig()
	cfg.AppName = "wikihttpd"

	engine := httpengine.NewEngine(cfg)

	engine.Bus.On(httpengine.EventRequestMiddleware, func(args ...interface{}) error {
		rs := args[0].(*httpengine.RequestState)
		return runMiddleware(rs)
	})

	root := engine.Router.Root()

	root.Static("healthz").Handle(http.MethodGet, httpengine.BodyFormatIgnore, nil,
		func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
			return rs.SendSimple(http.StatusOK, "ok")
		})

	wikiGroup := root.Group().Static("wiki")
	pageNode := wikiGroup.Param("slug")
	httpengine.RegisterTypedRoutes(pageNode.Node(), httpengine.TypedRoute{
		Method:     http.MethodGet,
		BodyFormat: httpengine.BodyFormatIgnore,
		DecodePathParams: func(p map[string]string) (interface{}, error) {
			return &pageParams{Slug: p["slug"]}, nil
		},
		Inner: func(rs *httpengine.RequestState, pathParams, queryParams, body interface{}) (interface{}, *httpengine.SendError) {
			p := pathParams.(*pageParams)
			return map[string]string{"slug": p.Slug, "title": p.Slug}, nil
		},
	}, map[string]*httpengine.RouteNode{http.MethodGet: pageNode.Node()})

	admin := root.Static("admin")
	admin.Static("user_create").Handle(
		http.MethodPost,
		httpengine.BodyFormatJSON,
		[]httpengine.SecurityCheck{middleware.RequestedWith("XMLHttpRequest")},
		func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
			var body createUserBody
			if m, ok := rs.Data.(map[string]interface{}); ok {
				if u, ok := m["username"].(string); ok {
					body.Username = u
				}
			}
			if se := httpengine.CheckQuery(rs, &body, "admin.user_create"); se != nil {
				return httpengine.StreamEnded{}, se
			}
			return rs.SendJSON(http.StatusCreated, map[string]string{"username": body.Username})
		},
	)

	assetCache, err := httpengine.NewFileCache(64 << 20)
	if err != nil {
		engine.Logger.Fatalf("wikihttpd: failed to build file cache: %v", err)
	}
	root.Static("assets").Any("path").Handle(http.MethodGet, httpengine.BodyFormatIgnore, nil,
		func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
			return rs.SendFile(httpengine.FileSenderOptions{
				Root:         "./public",
				RelativePath: rs.PathParams["path"],
				AcceptRanges: true,
				CacheControl: "public",
				MaxAgeSecs:   3600,
				LastModified: true,
				ETag:         true,
				Cache:        assetCache,
			})
		})

	root.Static("events").Handle(http.MethodGet, httpengine.BodyFormatIgnore, nil,
		func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
			sse, err := rs.SendSSE(httpengine.SSEOptions{RetryMillis: 2000})
			if err != nil {
				return httpengine.StreamEnded{}, httpengine.InternalServerError(err)
			}
			for i := 0; i < 3; i++ {
				time.Sleep(time.Second)
				_ = sse.EmitEvent("tick", fmt.Sprintf("%d", i), "")
			}
			return sse.Close()
		})

	engine.SetRecovery(func(rs *httpengine.RequestState, se *httpengine.SendError) (httpengine.StreamEnded, error) {
		engine.Logger.Errorf("request failed: %s", se.Error())
		return rs.SendJSON(se.Status, se)
	})

	if err := engine.Serve(); err != nil {
		engine.Logger.Fatalf("wikihttpd: failed to start: %v", err)
	}
	engine.Logger.Infof("wikihttpd listening on %v", engine.Addresses())

	select {}
}

func runMiddleware(rs *httpengine.RequestState) error {
	return middleware.Security(func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
		return httpengine.StreamEnded{}, nil
	})(rs)
}
