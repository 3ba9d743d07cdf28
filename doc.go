/*
Package httpengine implements the embedded HTTP request-handling engine that
sits beneath the multi-tenant wiki server's application code.

The engine accepts HTTP/1.1 and HTTP/2 (cleartext or TLS) connections on one
or more listeners, normalises every request into a RequestState, routes it
through a tree of RouteNodes with typed path/query/body validation, and
produces the response through a streaming abstraction offering buffered
writes, file-serving with range and conditional-GET semantics, Server-Sent
Events, multipart ingestion and transparent content-encoding negotiation.
A process-wide EventBus coordinates startup, shutdown and router hooks.

Routing

A Router is a tree of RouteNodes rooted at a single node created by NewRouter.
Register a route by attaching a handler to a node reached by a sequence of
path components:

	router := httpengine.NewRouter(httpengine.NewEventBus())
	users := router.Root().Static("users")
	users.Param("UserID").Handle(http.MethodGet, httpengine.BodyFormatIgnore, nil,
		func(rs *httpengine.RequestState) (httpengine.StreamEnded, error) {
			id := rs.PathParams["UserID"]
			return rs.SendJSON(http.StatusOK, map[string]string{"user_id": id})
		},
	)

Every sender method on RequestState returns a StreamEnded sentinel that
proves the response has been finalised; handlers must return or propagate it.
*/
package httpengine
