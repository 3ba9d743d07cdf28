package httpengine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// EventHandler receives the arguments passed to Emit/EmitAsync for the
// event it was registered against.
type EventHandler func(args ...interface{}) error

// Well-known event names emitted by the engine itself. Application code may
// emit and subscribe to additional names freely; the "mws." prefix is
// reserved for middleware-contributed events.
const (
	EventExit             = "exit"
	EventListenRouterInit = "listen.router.init"
	EventRequestMiddleware = "request.middleware"
	EventRequestStreamer  = "request.streamer"
	EventRequestState     = "request.state"
	EventRequestHandle    = "request.handle"
	EventRequestFallback  = "request.fallback"
)

type subscription struct {
	id      string
	handler EventHandler
}

// EventBus is a process-wide registry of named events with typed payloads,
// used to coordinate startup, shutdown, and router lifecycle hooks across
// otherwise-independent components. A single EventBus is normally shared by
// one Engine and constructed in NewEngine; it has no teardown of its own,
// and subscriptions stay registered after Exit fires.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
}

// NewEventBus returns an empty, ready-to-use EventBus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]subscription)}
}

// On registers handler for name and returns a token that Off accepts to
// remove exactly this registration.
func (b *EventBus) On(name string, handler EventHandler) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], subscription{id: id, handler: handler})
	return id
}

// Off removes the handler registered under the token returned by On. It is
// a no-op if the token is unknown or already removed.
func (b *EventBus) Off(name, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == token {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit fires name fire-and-forget: every handler runs synchronously in
// registration order, but an error from one handler does not stop the
// others, and Emit itself never returns an error. Use EmitAsync when the
// caller needs to observe failures.
func (b *EventBus) Emit(name string, args ...interface{}) {
	for _, h := range b.snapshot(name) {
		func() {
			defer func() { recover() }()
			_ = h.handler(args...)
		}()
	}
}

// EmitAsync awaits each handler registered for name, serially and in
// registration order, and aggregates every returned error into a single
// composite error. A nil return means every handler succeeded.
func (b *EventBus) EmitAsync(name string, args ...interface{}) error {
	var errs []string
	for _, h := range b.snapshot(name) {
		if err := b.invoke(h, args); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &compositeError{name: name, errs: errs}
}

func (b *EventBus) invoke(h subscription, args []interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return h.handler(args...)
}

func (b *EventBus) snapshot(name string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.handlers[name]
	out := make([]subscription, len(subs))
	copy(out, subs)
	return out
}

// compositeError aggregates the failures of every handler run for a single
// EmitAsync call. It is logged by the caller but deliberately does not stop
// sibling handlers from having already run.
type compositeError struct {
	name string
	errs []string
}

func (c *compositeError) Error() string {
	return fmt.Sprintf("event %q: %d handler(s) failed: %s", c.name, len(c.errs), strings.Join(c.errs, "; "))
}
