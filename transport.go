package mqlink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// ContextDialer is an interface for custom network dialing logic.
// It matches the signature of net.Dialer.DialContext.
//
// The dialer opens the raw socket of an attempt: to the broker, or to the
// HTTP proxy when one applies.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialFunc is a helper to convert a function to the ContextDialer interface.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext implements ContextDialer.
func (f DialFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// TLSHandshaker layers TLS over an established connection.
type TLSHandshaker interface {
	Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error)
}

// HandshakeFunc is a helper to convert a function to the TLSHandshaker
// interface.
type HandshakeFunc func(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error)

// Handshake implements TLSHandshaker.
func (f HandshakeFunc) Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error) {
	return f(ctx, conn, serverName)
}

// WebSocketUpgrader performs the WebSocket opening handshake over an
// established connection and returns a connection carrying binary messages.
type WebSocketUpgrader interface {
	Upgrade(ctx context.Context, conn net.Conn, url, subprotocol string) (net.Conn, error)
}

// UpgradeFunc is a helper to convert a function to the WebSocketUpgrader
// interface.
type UpgradeFunc func(ctx context.Context, conn net.Conn, url, subprotocol string) (net.Conn, error)

// Upgrade implements WebSocketUpgrader.
func (f UpgradeFunc) Upgrade(ctx context.Context, conn net.Conn, url, subprotocol string) (net.Conn, error) {
	return f(ctx, conn, url, subprotocol)
}

// tlsHandshaker is the default TLSHandshaker.
type tlsHandshaker struct {
	config *tls.Config
}

func (h tlsHandshaker) Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error) {
	var cfg *tls.Config
	if h.config != nil {
		cfg = h.config.Clone()
	} else {
		cfg = &tls.Config{}
	}
	// Also set without verification, so the server still receives SNI.
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

// socks5Dialer returns a dialer that reaches addresses through the SOCKS5
// proxy at addr, dialing the proxy with forward.
func socks5Dialer(addr string, auth *proxy.Auth, forward *net.Dialer) (ContextDialer, error) {
	if addr == "" {
		return nil, configError("empty SOCKS5 proxy address")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "1080")
	}

	d, err := proxy.SOCKS5("tcp", addr, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create SOCKS5 dialer: %w", ErrInvalidConfig, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, configError("SOCKS5 dialer does not support contexts")
	}
	return cd, nil
}
