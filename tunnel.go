package mqlink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	// tunnelTimeout bounds the wait for the proxy's CONNECT response.
	tunnelTimeout = 10 * time.Second

	// tunnelStatusLen is the length of "HTTP/1.x 200".
	tunnelStatusLen = 12

	// maxTunnelResponse bounds the proxy response headers drained after
	// the status line.
	maxTunnelResponse = 8 * 1024
)

var (
	tunnelOK10 = []byte("HTTP/1.0 200")
	tunnelOK11 = []byte("HTTP/1.1 200")
	headerEnd  = []byte("\r\n\r\n")
)

// Tunnel asks the HTTP proxy on conn to open a tunnel to target.
//
// auth is a Basic-Auth token sent as Proxy-authorization when non-empty.
// The proxy has ten seconds to answer. On success the proxy's response has
// been consumed, so the next byte read from conn belongs to the target.
//
// A non-200 answer yields a *ProxyError, a missing answer ErrProxyTimeout,
// and socket failures ErrTransport. Cancelling ctx aborts the wait.
func Tunnel(ctx context.Context, conn net.Conn, target Endpoint, auth string) error {
	return tunnel(ctx, conn, target, auth, time.Now().Add(tunnelTimeout))
}

func tunnel(ctx context.Context, conn net.Conn, target Endpoint, auth string, deadline time.Time) error {
	if err := conn.SetDeadline(deadline); err != nil {
		return transportError(err)
	}
	defer conn.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(buildConnectRequest(target, auth)); err != nil {
		return tunnelError(ctx, err)
	}

	status := make([]byte, tunnelStatusLen)
	if n, err := io.ReadFull(conn, status); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &ProxyError{Status: string(status[:n])}
		}
		return tunnelError(ctx, err)
	}
	if !bytes.Equal(status, tunnelOK10) && !bytes.Equal(status, tunnelOK11) {
		return &ProxyError{Status: string(status)}
	}

	return drainResponse(ctx, conn, status)
}

// buildConnectRequest formats the CONNECT request in a single pass.
func buildConnectRequest(target Endpoint, auth string) []byte {
	hostPort := target.HostPort()

	buf := make([]byte, 0, 2*len(hostPort)+len(auth)+64)
	buf = append(buf, "CONNECT "...)
	buf = append(buf, hostPort...)
	buf = append(buf, " HTTP/1.1\r\nHost: "...)
	buf = append(buf, hostPort...)
	buf = append(buf, "\r\n"...)
	if auth != "" {
		buf = append(buf, "Proxy-authorization: Basic "...)
		buf = append(buf, auth...)
		buf = append(buf, "\r\n"...)
	}
	return append(buf, "\r\n"...)
}

// drainResponse reads the rest of the proxy's response up to the blank line
// ending its headers. It reads one byte at a time so nothing that belongs
// to the tunnelled stream is consumed.
func drainResponse(ctx context.Context, conn net.Conn, status []byte) error {
	tail := make([]byte, 0, len(headerEnd))
	push := func(b byte) {
		if len(tail) == len(headerEnd) {
			copy(tail, tail[1:])
			tail = tail[:len(tail)-1]
		}
		tail = append(tail, b)
	}
	for _, b := range status {
		push(b)
	}

	one := make([]byte, 1)
	for read := len(status); !bytes.Equal(tail, headerEnd); read++ {
		if read >= maxTunnelResponse {
			return &ProxyError{Status: "response headers exceed " + strconv.Itoa(maxTunnelResponse) + " bytes"}
		}
		if _, err := io.ReadFull(conn, one); err != nil {
			if errors.Is(err, io.EOF) {
				return &ProxyError{Status: string(status) + " (connection closed)"}
			}
			return tunnelError(ctx, err)
		}
		push(one[0])
	}
	return nil
}

// tunnelError classifies an I/O error from the tunnel exchange.
func tunnelError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return transportError(ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrProxyTimeout
	}
	return transportError(err)
}
