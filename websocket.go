package httpengine

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a WebSocket peer, adapted from the teacher's websocket.go to
// use RequestState's sender bookkeeping instead of Response.Written. This is
// a supplemental feature: SPEC_FULL's Non-goals exclude a general proxy
// surface but say nothing against exposing the protocol upgrade the teacher
// already supports.
type WebSocket struct {
	TextHandler            func(text string) error
	BinaryHandler          func(b []byte) error
	ConnectionCloseHandler func(statusCode int, reason string) error
	PingHandler            func(appData string) error
	PongHandler            func(appData string) error
	ErrorHandler           func(err error)

	conn   *websocket.Conn
	Closed bool
}

// WebSocketOptions configures the handshake Upgrade performs.
type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	Subprotocols     []string
	// CheckOrigin, when nil, accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Upgrade switches rs's connection to the WebSocket protocol, per RFC 6455.
// It marks rs's headers as sent: no further Send* call on rs is valid once
// this succeeds.
func (rs *RequestState) Upgrade(opts WebSocketOptions) (*WebSocket, error) {
	if already, _ := rs.markHeadersSent(); already {
		return nil, errors.New("httpengine: response already started")
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	upgrader := &websocket.Upgrader{
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     opts.Subprotocols,
		CheckOrigin:      checkOrigin,
	}

	conn, err := upgrader.Upgrade(rs.w, rs.r, nil)
	if err != nil {
		return nil, err
	}

	ws := &WebSocket{conn: conn}

	conn.SetCloseHandler(func(status int, reason string) error {
		ws.Closed = true
		if ws.ConnectionCloseHandler != nil {
			return ws.ConnectionCloseHandler(status, reason)
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(status, ""),
			time.Now().Add(time.Second),
		)
		return nil
	})

	conn.SetPingHandler(func(appData string) error {
		if ws.PingHandler != nil {
			return ws.PingHandler(appData)
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	conn.SetPongHandler(func(appData string) error {
		if ws.PongHandler != nil {
			return ws.PongHandler(appData)
		}
		return nil
	})

	return ws, nil
}

// Close closes the ws without sending or waiting for a close message.
func (ws *WebSocket) Close() error {
	ws.Closed = true
	return ws.conn.Close()
}

// WriteText writes text to the remote peer.
func (ws *WebSocket) WriteText(text string) error {
	return ws.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// WriteBinary writes b to the remote peer.
func (ws *WebSocket) WriteBinary(b []byte) error {
	return ws.conn.WriteMessage(websocket.BinaryMessage, b)
}

// WriteConnectionClose writes a connection close to the remote peer with
// statusCode and reason.
func (ws *WebSocket) WriteConnectionClose(statusCode int, reason string) error {
	return ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(statusCode, reason))
}

// WritePing writes a ping to the remote peer with appData.
func (ws *WebSocket) WritePing(appData string) error {
	return ws.conn.WriteMessage(websocket.PingMessage, []byte(appData))
}

// WritePong writes a pong to the remote peer with appData.
func (ws *WebSocket) WritePong(appData string) error {
	return ws.conn.WriteMessage(websocket.PongMessage, []byte(appData))
}

// ReadLoop blocks reading frames from ws until the connection closes or an
// error occurs, dispatching each frame to TextHandler/BinaryHandler. Callers
// typically run it on its own goroutine after Upgrade.
func (ws *WebSocket) ReadLoop() error {
	for {
		mt, data, err := ws.conn.ReadMessage()
		if err != nil {
			if ws.ErrorHandler != nil && !ws.Closed {
				ws.ErrorHandler(err)
			}
			return err
		}
		switch mt {
		case websocket.TextMessage:
			if ws.TextHandler != nil {
				if err := ws.TextHandler(string(data)); err != nil {
					return err
				}
			}
		case websocket.BinaryMessage:
			if ws.BinaryHandler != nil {
				if err := ws.BinaryHandler(data); err != nil {
					return err
				}
			}
		}
	}
}
