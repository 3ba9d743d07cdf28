package httpengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/manucorporat/sse"
)

// SSEOptions configures the preamble and retry behaviour of a Server-Sent
// Events stream opened by RequestState.SendSSE.
type SSEOptions struct {
	// RetryMillis, if greater than zero, is appended as a "retry:" field on
	// every event frame, per SPEC_FULL §4.3; zero or a negative value omits
	// the field.
	RetryMillis int
}

// SSEHandle is returned by SendSSE and is the only way to write further
// frames on the stream it opened.
type SSEHandle struct {
	rs      *RequestState
	opts    SSEOptions
	mu      sync.Mutex
	closed  bool
	onClose []func()
	exitTok string
}

// SendSSE writes the Server-Sent Events preamble (headers plus a leading
// comment frame) and returns a handle for emitting further events, per
// SPEC_FULL §4.3. The caller is responsible for eventually calling Close;
// the handle also subscribes to the engine's exit event and closes itself
// when shutdown begins.
func (rs *RequestState) SendSSE(opts SSEOptions) (*SSEHandle, error) {
	if already, _ := rs.markHeadersSent(); already {
		return nil, errors.New("httpengine: headers already sent")
	}

	headers := NewHeaders()
	headers.Set("content-type", "text/event-stream")
	headers.Set("cache-control", "no-cache, max-age=0")
	headers.Set("content-encoding", "identity")
	headers.Set("connection", "keep-alive")
	headers.Set("x-accel-buffering", "no")
	rs.writeHead(http.StatusOK, headers)

	fmt.Fprint(rs.w, ": connected\n\n")
	if f, ok := rs.w.(http.Flusher); ok {
		f.Flush()
	}

	h := &SSEHandle{rs: rs, opts: opts}
	if rs.bus != nil {
		h.exitTok = rs.bus.On(EventExit, func(...interface{}) error {
			h.Close()
			return nil
		})
	}
	return h, nil
}

// EmitEvent writes one event frame. name and id must not contain newlines;
// data is JSON-encoded. Writing after Close returns an error.
func (h *SSEHandle) EmitEvent(name string, data interface{}, id string) error {
	if strings.ContainsAny(name, "\r\n") || strings.ContainsAny(id, "\r\n") {
		return errors.New("httpengine: sse name/id must not contain newlines")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("httpengine: sse stream is closed")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	evt := sse.Event{Event: name, Data: json.RawMessage(payload)}
	if id != "" {
		evt.Id = id
	}
	if h.opts.RetryMillis >= 0 {
		evt.Retry = uint(h.opts.RetryMillis)
	}

	if err := sse.Encode(h.rs.w, evt); err != nil {
		return err
	}
	if f, ok := h.rs.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// EmitComment writes a ":"-prefixed comment frame, typically used as a
// keep-alive ping.
func (h *SSEHandle) EmitComment(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("httpengine: sse stream is closed")
	}
	_, err := fmt.Fprintf(h.rs.w, ": %s\n\n", text)
	if f, ok := h.rs.w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}

// OnClose registers cb to run when the stream is closed, either explicitly
// or because the engine's exit event fired.
func (h *SSEHandle) OnClose(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = append(h.onClose, cb)
}

// Close finalises the stream. It is safe to call more than once.
func (h *SSEHandle) Close() (StreamEnded, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return newStreamEnded(), nil
	}
	h.closed = true
	callbacks := h.onClose
	h.mu.Unlock()

	if h.rs.bus != nil && h.exitTok != "" {
		h.rs.bus.Off(EventExit, h.exitTok)
	}
	for _, cb := range callbacks {
		cb()
	}
	return newStreamEnded(), nil
}
