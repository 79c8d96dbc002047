package emulator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is an open connection to the central system. ReadMessage is called from a single
// reader goroutine and WriteMessage from the charge point's own goroutine; Close may be called
// from anywhere.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	Subprotocol() string
}

type Dialer interface {
	Dial(ctx context.Context, endpoint, protocol string) (Transport, error)
}

// Endpoint appends the charge point id to the central system url.
func Endpoint(baseUrl, chargePointId string) string {
	return strings.TrimRight(baseUrl, "/") + "/" + url.PathEscape(chargePointId)
}

type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{HandshakeTimeout: 10 * time.Second}
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint, protocol string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     []string{protocol},
	}
	conn, response, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", endpoint, response.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn
}

func (t *websocketTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *websocketTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *websocketTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *websocketTransport) Subprotocol() string {
	return t.conn.Subprotocol()
}

// isNormalClose reports whether a read error is an orderly close by either side.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
