package realtime

import "github.com/gofiber/websocket/v2"

// WebSocketConn wraps the fiber websocket connection so the hub does not
// import the websocket package directly.
type WebSocketConn struct {
	Conn *websocket.Conn
}

func NewWebSocketConn(c *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: c}
}
