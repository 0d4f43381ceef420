package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// Reply sends event with data for the given request.
func Reply(conn *websocket.Conn, event Event, requestID string, data any) error {
	return WriteTyped(conn, ResponseEnvelope{Event: event, RequestID: requestID, Data: data})
}

// WriteError sends a typed error frame carrying an API error code.
func WriteError(conn *websocket.Conn, requestID, code, errMsg string) error {
	return WriteTyped(conn, ResponseEnvelope{
		Event:     EventError,
		RequestID: requestID,
		Code:      code,
		Error:     errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v any) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
