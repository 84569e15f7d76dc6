package mqlink

import (
	"context"
	"net"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

const (
	// defaultWebSocketPath is requested when the address has no path.
	defaultWebSocketPath = "/mqtt"

	subprotocolMQTT   = "mqtt"
	subprotocolMQTT31 = "mqttv3.1"
)

// webSocketUpgrader is the default WebSocketUpgrader. It runs the opening
// handshake over the connection handed to it, which may already carry a
// proxy tunnel and TLS.
type webSocketUpgrader struct{}

func (webSocketUpgrader) Upgrade(ctx context.Context, conn net.Conn, url, subprotocol string) (net.Conn, error) {
	var once sync.Once
	reuse := func(context.Context, string, string) (net.Conn, error) {
		var c net.Conn
		once.Do(func() { c = conn })
		if c == nil {
			return nil, net.ErrClosed
		}
		return c, nil
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:       reuse,
			DialTLSContext:    reuse,
			DisableKeepAlives: true,
		},
	}

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   client,
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return nil, err
	}

	// NetConn's context governs the lifetime of the connection, not of
	// the upgrade.
	return websocket.NetConn(context.Background(), ws, websocket.MessageBinary), nil
}

// webSocketURL builds the upgrade URL for dest. The scheme follows the
// attempt's TLS setting; TLS itself is already on the connection.
func webSocketURL(dest Endpoint, secure bool) string {
	scheme := "ws://"
	if secure {
		scheme = "wss://"
	}
	path := dest.Topic
	if path == "" {
		path = defaultWebSocketPath
	}
	return scheme + dest.HostPort() + path
}

func webSocketSubprotocol(version uint8) string {
	if version == ProtocolV31 {
		return subprotocolMQTT31
	}
	return subprotocolMQTT
}
