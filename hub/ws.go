package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single send may block on a slow peer.
const writeWait = 10 * time.Second

// WSConn adapts a gorilla websocket connection to the Conn interface.
// gorilla permits only one concurrent writer, so all writes serialize on an
// internal mutex.
type WSConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWSConn wraps an upgraded websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// WriteJSON sends one JSON message, bounded by the write deadline.
func (c *WSConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Close sends a close frame with the given code and closes the socket.
func (c *WSConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.conn.Close()
}

// RemoteAddr describes the peer.
func (c *WSConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// ReadMessage reads the next frame from the peer. Used by the server's read
// loop; not part of the Conn interface because the hub never reads.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Compile-time interface check.
var _ Conn = (*WSConn)(nil)
