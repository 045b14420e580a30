package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// WebSocketTransport reads text frames from a WebSocket endpoint. Each frame
// is one command.
type WebSocketTransport struct {
	URL         string
	Header      http.Header
	DialTimeout time.Duration
}

func (t *WebSocketTransport) Connect(ctx context.Context) (Conn, error) {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	for k, vs := range t.Header {
		for _, v := range vs {
			opts.HTTPHeader.Add(k, v)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, resp, err := websocket.Dial(dialCtx, t.URL, opts)
	cancel()
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Next(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
