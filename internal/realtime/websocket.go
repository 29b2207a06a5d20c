// ABOUTME: Websocket transport behind the connection manager's Dialer/Conn seams.
// ABOUTME: Translates server close frames into ServerClosedError for reconnect policy.

package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helio-ai/console/internal/auth"
)

// handshakeTimeout bounds the websocket upgrade round trip.
const handshakeTimeout = 10 * time.Second

// ServerClosedError indicates the server deliberately closed the connection
// (a close frame arrived, as opposed to the link dropping). The manager
// retries such a disconnect immediately rather than backing off.
type ServerClosedError struct {
	Code   int
	Reason string
}

func (e *ServerClosedError) Error() string {
	if e.Reason == "" {
		return "server closed connection"
	}
	return "server closed connection: " + e.Reason
}

// Conn is one established realtime socket.
type Conn interface {
	// ReadMessage blocks until the next frame arrives.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer establishes authenticated sockets. Tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, socketURL string, cred auth.Credential) (Conn, error)
}

// WebsocketDialer dials the backend over websocket, carrying the bearer token
// and tenant identifier as handshake headers.
type WebsocketDialer struct{}

// NewWebsocketDialer creates the production dialer.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{}
}

// Dial opens an authenticated websocket to the given URL.
func (d *WebsocketDialer) Dial(ctx context.Context, socketURL string, cred auth.Credential) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	header.Set("X-Tenant-ID", cred.TenantID)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	c, resp, err := dialer.DialContext(ctx, socketURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return &wsConn{c: c}, nil
}

// wsConn wraps a gorilla connection. Writes are serialized: gorilla supports
// one concurrent writer only.
type wsConn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &ServerClosedError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) WriteJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.c.WriteJSON(v)
}

func (w *wsConn) Close() error {
	w.writeMu.Lock()
	// Best effort: tell the server we are leaving before dropping the socket.
	_ = w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.c.Close()
}
