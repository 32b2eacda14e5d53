package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait is how long a connection may stay silent. Clients autosave and
	// ping far more often than this.
	readWait = 5 * time.Minute
	// maxMessageSize bounds a single frame; a full autosave with audit
	// records fits comfortably.
	maxMessageSize = 512 << 10
)

// Configure applies read limits and keeps the read deadline fresh on pongs.
func Configure(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteEvent sends data wrapped in a Reply.
func WriteEvent(conn *websocket.Conn, event Event, ref string, data any) error {
	return WriteTyped(conn, Reply{Event: event, Ref: ref, Data: data})
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, ref, code, message string) error {
	return WriteTyped(conn, ErrorResponse{
		Event:   EventError,
		Ref:     ref,
		Code:    code,
		Message: message,
	})
}

// ReadJSON reads and decodes a message, extending the read deadline.
func ReadJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
