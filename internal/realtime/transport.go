package realtime

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is one open framed connection
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a transport error.
	ReadMessage() ([]byte, error)
	// WriteJSON sends one frame.
	WriteJSON(v any) error
	Close() error
}

// Transport opens connections; injected so tests can run in-memory
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsTransport struct{}

// NewWebSocketTransport returns the gorilla/websocket-backed Transport
func NewWebSocketTransport() Transport { return wsTransport{} }

func (wsTransport) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
