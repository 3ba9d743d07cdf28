package httpengine

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"
)

// ShutdownGracePeriod is how long in-flight requests are given to complete
// once the exit event fires before the process is expected to force-exit,
// per SPEC_FULL §5.
const ShutdownGracePeriod = 5 * time.Second

// Engine is the top-level object wiring together the EventBus, Router and
// ListenerSet, and building a RequestState for every accepted request — the
// generalisation of the teacher's Air struct (air.go) to SPEC_FULL's
// component model. Each request gets a freshly allocated RequestState;
// statePool is not used and RequestStates are not pooled.
type Engine struct {
	Config EngineConfig
	Bus    *EventBus
	Router *Router
	Logger *Logger

	listeners *ListenerSet
	compress  []Encoding

	fallback Handler
	recovery RecoveryHandler

	statePool sync.Pool
}

// NewEngine builds an Engine from cfg, ready for Route registration and
// Serve.
func NewEngine(cfg EngineConfig) *Engine {
	bus := NewEventBus()
	logger := newLogger(cfg)
	e := &Engine{
		Config:    cfg,
		Bus:       bus,
		Router:    NewRouter(bus),
		Logger:    logger,
		listeners: NewListenerSet(bus, logger),
		compress:  []Encoding{EncodingBrotli, EncodingGzip, EncodingDeflate, EncodingIdentity},
		fallback:  DefaultNotFoundHandler,
		recovery:  defaultRecoveryHandler,
	}
	return e
}

// SetFallback overrides the handler invoked when no route matches, per
// SPEC_FULL §4.5 step 8's request.fallback.
func (e *Engine) SetFallback(h Handler) { e.fallback = h }

// SetRecovery overrides the default top-level SendError renderer, per
// SPEC_FULL §4.5 step 7.
func (e *Engine) SetRecovery(h RecoveryHandler) { e.recovery = h }

func defaultRecoveryHandler(rs *RequestState, err *SendError) (StreamEnded, error) {
	return rs.SendJSON(err.Status, err)
}

// Serve opens every listener in e.Config and begins dispatching requests
// to e.Router, per SPEC_FULL §4.2. It returns once every listener has been
// bound; listeners continue serving on background goroutines until Close.
func (e *Engine) Serve() error {
	e.Bus.Emit(EventListenRouterInit, e)

	for _, lc := range e.Config.Listeners {
		lc := lc
		if lc.MaxBodyBytes == 0 {
			lc.MaxBodyBytes = DefaultMaxBodyBytes
		}
		handler := e.handlerFor(lc)
		if _, err := e.listeners.Open(lc, handler); err != nil {
			return err
		}
	}
	return nil
}

// handlerFor builds the http.Handler a Listener hands to its underlying
// *http.Server for listener config lc.
func (e *Engine) handlerFor(lc ListenerConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.ServeHTTP(w, r, lc)
	})
}

// ServeHTTP is the single entry point every accepted request passes
// through: parse, request.middleware, match, body preparation, security
// checks, request.handle, recovery, per SPEC_FULL §4.5. It follows the
// dispatch shape of the teacher's Air.ServeHTTP, without its request
// pooling.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request, lc ListenerConfig) {
	rs, parseErr := newRequestState(w, r, e.Bus, e.Config.PathPrefix, e.compress, lc.MaxBodyBytes)
	if parseErr != nil {
		e.renderParseError(w, parseErr)
		return
	}
	rs.logger = e.Logger

	if shortCircuited := e.runMiddleware(rs); shortCircuited {
		return
	}

	matches, node, methodMismatch := e.Router.Match(rs.Method, rs.URL)
	if node == nil {
		e.Bus.Emit(EventRequestFallback, rs)
		e.invokeHandler(rs, e.fallback, nil)
		return
	}
	if methodMismatch {
		e.invokeHandler(rs, DefaultMethodNotAllowedHandler(allowHeaderValue(node)), nil)
		return
	}

	rs.PathParams = MergeCaptures(matches)
	mh := node.handlers[rs.Method]
	rs.BodyFormat = mh.bodyFormat
	rs.RoutePath = routePathOf(matches)

	if se := e.prepareBody(rs, mh.bodyFormat); se != nil {
		e.renderSendError(rs, se)
		return
	}

	for _, check := range mh.securityChecks {
		if se := check(rs); se != nil {
			e.renderSendErrorWithNode(rs, se, node)
			return
		}
	}

	e.Bus.Emit(EventRequestHandle, rs)
	e.invokeHandler(rs, chainHandler(mh.chain), node)
}

func routePathOf(matches []RouteMatch) string {
	segments := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Node.kind == MatcherLiteral {
			segments = append(segments, m.Node.literal)
		} else {
			segments = append(segments, ":"+firstName(m.Node.names))
		}
	}
	path := ""
	for _, s := range segments {
		path += "/" + s
	}
	if path == "" {
		path = "/"
	}
	return path
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// chainHandler composes an ordered handler chain into a single Handler:
// the first to return an ended StreamEnded (or an error) completes the
// request, matching SPEC_FULL §4.5 step 6's "first to throw the
// stream-ended sentinel completes the request".
func chainHandler(chain []Handler) Handler {
	return func(rs *RequestState) (StreamEnded, error) {
		var last StreamEnded
		for _, h := range chain {
			se, err := h(rs)
			if err != nil {
				return se, err
			}
			if se.Ended() {
				return se, nil
			}
			last = se
		}
		return last, nil
	}
}

// runMiddleware emits request.middleware; a subscriber (e.g. a security
// headers hook) may short-circuit by sending a response on rs directly, per
// SPEC_FULL §4.5 step 2. It uses EmitAsync, which runs the handlers serially
// before returning, so a middleware handler's returned error is observable,
// but a single failing handler never blocks the others from running.
func (e *Engine) runMiddleware(rs *RequestState) bool {
	if err := e.Bus.EmitAsync(EventRequestMiddleware, rs); err != nil {
		e.Logger.Error(err)
	}
	return rs.HeadersSent()
}

func (e *Engine) prepareBody(rs *RequestState, format BodyFormat) *SendError {
	switch format {
	case BodyFormatIgnore, BodyFormatStream, BodyFormatMultipart:
		return nil
	case BodyFormatBuffer:
		buf, err := rs.ReadBuffer()
		if err != nil {
			if se, ok := AsSendError(err); ok {
				return se
			}
			return InternalServerError(err)
		}
		rs.DataBuffer = buf
		return nil
	case BodyFormatString:
		buf, err := rs.ReadBuffer()
		if err != nil {
			if se, ok := AsSendError(err); ok {
				return se
			}
			return InternalServerError(err)
		}
		rs.DataBuffer = buf
		rs.Data = string(buf)
		return nil
	case BodyFormatJSON:
		buf, err := rs.ReadBuffer()
		if err != nil {
			if se, ok := AsSendError(err); ok {
				return se
			}
			return InternalServerError(err)
		}
		var v interface{}
		if len(buf) > 0 {
			if err := decodeJSON(buf, &v); err != nil {
				return NewSendError(ReasonBadRequest, 400, err.Error())
			}
		}
		rs.Data = v
		return nil
	case BodyFormatFormURLEncoded, BodyFormatFormURLEncodedURLSearchParams:
		buf, err := rs.ReadBuffer()
		if err != nil {
			if se, ok := AsSendError(err); ok {
				return se
			}
			return InternalServerError(err)
		}
		values, err := parseFormURLEncoded(string(buf))
		if err != nil {
			return NewSendError(ReasonBadRequest, 400, err.Error())
		}
		rs.Data = values
		return nil
	}
	return nil
}

func (e *Engine) invokeHandler(rs *RequestState, h Handler, node *RouteNode) {
	se, err := h(rs)
	if err != nil {
		if sendErr, ok := AsSendError(err); ok {
			e.renderSendErrorWithNode(rs, sendErr, node)
			return
		}
		e.renderSendErrorWithNode(rs, InternalServerError(err), node)
		return
	}
	if !se.Ended() {
		e.renderSendErrorWithNode(rs, RequestDropped(rs.RoutePath), node)
	}
}

func (e *Engine) renderSendError(rs *RequestState, se *SendError) {
	e.renderSendErrorWithNode(rs, se, nil)
}

func (e *Engine) renderSendErrorWithNode(rs *RequestState, se *SendError, node *RouteNode) {
	if rs.HeadersSent() {
		return
	}
	if se.Status >= http.StatusInternalServerError {
		e.Logger.Errorf("%s %s -> %d %s\n%s", rs.Method, rs.URL, se.Status, se.Reason, debug.Stack())
	}
	recovery := e.recovery
	for n := node; n != nil; n = n.parent {
		if n.recovery != nil {
			recovery = n.recovery
			break
		}
	}
	_, _ = recovery(rs, se)
}

func (e *Engine) renderParseError(w http.ResponseWriter, se *SendError) {
	if se.Status == http.StatusFound {
		location, _ := se.Details.(string)
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusFound)
		return
	}
	w.WriteHeader(se.Status)
	if detail, ok := se.Details.(string); ok {
		_, _ = w.Write([]byte(detail))
	}
}

// Shutdown triggers the exit event and waits until every exit subscriber
// (including each Listener's close) has returned or ctx is done, whichever
// comes first, per SPEC_FULL §5.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.Bus.Emit(EventExit)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is Shutdown with the default grace period.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGracePeriod)
	defer cancel()
	return e.Shutdown(ctx)
}

// Addresses returns the bound address of every listener, per
// ListenerSet.Addresses.
func (e *Engine) Addresses() []string { return e.listeners.Addresses() }
