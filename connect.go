package mqlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gonzalop/mqlink/internal/metrics"
	"github.com/gonzalop/mqlink/internal/packets"
)

// defaultConnAckTimeout bounds the CONNACK wait when neither the context
// nor the options give a limit.
const defaultConnAckTimeout = 30 * time.Second

// Capabilities selects the transport layers of one connection attempt.
type Capabilities struct {
	// TLS runs a TLS handshake after the socket connect and proxy tunnel.
	TLS bool

	// WebSocket runs a WebSocket upgrade after TLS.
	WebSocket bool

	// UnixSocket dials the address as a Unix domain socket path. It cannot
	// be combined with TLS, WebSocket or a proxy.
	UnixSocket bool

	// ConnectTimeout bounds the socket connect. Zero means the client's
	// WithConnectTimeout setting.
	ConnectTimeout time.Duration
}

func (caps Capabilities) validate() error {
	if caps.ConnectTimeout < 0 {
		return configError("negative connect timeout %v", caps.ConnectTimeout)
	}
	if caps.UnixSocket && (caps.TLS || caps.WebSocket) {
		return configError("unix sockets cannot be combined with TLS or WebSocket")
	}
	return nil
}

// defaultPort returns the port used when the address has none.
func (caps Capabilities) defaultPort() int {
	switch {
	case caps.TLS && caps.WebSocket:
		return DefaultSecureWebSockPort
	case caps.TLS:
		return DefaultSecureMQTTPort
	case caps.WebSocket:
		return DefaultWebSocketPort
	default:
		return DefaultMQTTPort
	}
}

func (caps Capabilities) scheme() Scheme {
	if caps.TLS {
		return SchemeHTTPS
	}
	return SchemeHTTP
}

// operation is the I/O of one stage, running in its own goroutine.
//
// done is closed when the I/O finishes. wake is what Ready hands out; it is
// closed when the I/O finishes or when the attempt is abandoned, whichever
// comes first.
type operation struct {
	done     chan struct{}
	wake     chan struct{}
	wakeOnce sync.Once
	conn     net.Conn
	err      error
}

func startOperation(fn func() (net.Conn, error)) *operation {
	op := &operation{
		done: make(chan struct{}),
		wake: make(chan struct{}),
	}
	go func() {
		op.conn, op.err = fn()
		close(op.done)
		op.signal()
	}()
	return op
}

func (op *operation) signal() {
	op.wakeOnce.Do(func() { close(op.wake) })
}

func (op *operation) ready() bool {
	select {
	case <-op.done:
		return true
	default:
		return false
	}
}

// discard wakes anyone waiting on op and closes whatever connection op
// produces once it finishes.
func (op *operation) discard() {
	op.signal()
	go func() {
		<-op.done
		if op.conn != nil {
			op.conn.Close()
		}
	}()
}

// attempt is the state of one connection attempt. It is separate from the
// Client so that nothing but the driver touches it.
type attempt struct {
	address string
	caps    Capabilities
	dest    Endpoint
	proxy   *ProxyTarget

	state StageState
	op    *operation

	ctx    context.Context
	cancel context.CancelFunc
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Ready returns a channel that is closed when the I/O of the current stage
// has finished and Resume can make progress. When nothing is pending the
// returned channel is already closed.
func (c *Client) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != nil && c.attempt.op != nil {
		return c.attempt.op.wake
	}
	return closedChan
}

// Connect starts a connection attempt to address.
//
// The address is host[:port][/path] (the path is the WebSocket resource),
// or a socket path when caps.UnixSocket is set. The port defaults by
// capability: 1883, 8883 with TLS, 80 with WebSocket, 443 with both.
//
// The proxy for the attempt is resolved once, here: an explicit
// WithHTTPProxy or WithHTTPSProxy setting, otherwise the environment when
// opted in and the destination is not in its no-proxy list.
//
// Connect returns ErrInProgress once the socket connect is under way; wait
// on Ready and call Resume. ctx governs the whole attempt. Configuration
// errors are returned before any I/O and leave the client idle.
func (c *Client) Connect(ctx context.Context, address string, caps Capabilities) error {
	c.drive.Lock()
	defer c.drive.Unlock()

	if err := c.validate(caps); err != nil {
		return err
	}
	if c.currentAttempt() != nil || c.connected.Load() {
		return ErrNotIdle
	}
	c.takeAbandoned()

	dialer, err := c.socketDialer(caps)
	if err != nil {
		return err
	}

	a := &attempt{
		address: address,
		caps:    caps,
		state:   StageState{Stage: StageIdle, Since: time.Now()},
	}

	network, dialAddr := "unix", address
	if caps.UnixSocket {
		if address == "" {
			return configError("empty unix socket path")
		}
		a.dest = Endpoint{Host: address}
	} else {
		a.dest = ParseAddress(address, caps.defaultPort(), caps.WebSocket)
		if a.dest.Host == "" {
			return configError("address %q has no host", address)
		}
		if err := c.resolveProxy(a); err != nil {
			return err
		}
		network, dialAddr = "tcp", a.dest.HostPort()
		if a.proxy != nil {
			dialAddr = a.proxy.Endpoint().HostPort()
		}
	}

	timeout := caps.ConnectTimeout
	if timeout == 0 {
		timeout = c.opts.ConnectTimeout
	}

	c.healthy.Store(true)
	a.ctx, a.cancel = context.WithCancel(ctx)
	c.attempts.Add(1)

	c.mu.Lock()
	c.attempt = a
	c.mu.Unlock()

	c.opts.Logger.Debug("connecting to MQTT server",
		"address", address,
		"network", network,
		"dial", dialAddr,
		"tls", caps.TLS,
		"websocket", caps.WebSocket)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.setStage(a, StageTCPInProgress, deadline)
	c.park(a, startOperation(func() (net.Conn, error) {
		dctx := a.ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, timeout)
			defer cancel()
		}
		conn, err := dialer.DialContext(dctx, network, dialAddr)
		if err != nil {
			return nil, transportError(fmt.Errorf("failed to connect to %s: %w", dialAddr, err))
		}
		return conn, nil
	}))
	return ErrInProgress
}

func (c *Client) validate(caps Capabilities) error {
	if err := caps.validate(); err != nil {
		return err
	}
	switch c.opts.ProtocolVersion {
	case ProtocolV31, ProtocolV311, ProtocolV50:
	default:
		return configError("unsupported protocol version %d", c.opts.ProtocolVersion)
	}
	if caps.UnixSocket && (c.opts.HTTPProxy != "" || c.opts.SOCKS5Proxy != "") {
		return configError("unix sockets cannot be proxied")
	}
	return nil
}

// socketDialer returns the dialer for the socket connect.
func (c *Client) socketDialer(caps Capabilities) (ContextDialer, error) {
	if c.opts.SOCKS5Proxy != "" && !caps.UnixSocket {
		forward, _ := c.dialer.(*net.Dialer)
		if forward == nil {
			forward = &net.Dialer{}
		}
		return socks5Dialer(c.opts.SOCKS5Proxy, c.opts.SOCKS5Auth, forward)
	}
	if c.dialer != nil {
		return c.dialer, nil
	}
	return &net.Dialer{}, nil
}

// resolveProxy selects the proxy for the attempt and installs it in the
// slot of the attempt's scheme. Only that slot changes.
func (c *Client) resolveProxy(a *attempt) error {
	env, err := c.environment()
	if err != nil {
		return err
	}

	scheme := a.caps.scheme()
	explicit := c.opts.HTTPProxy
	if scheme == SchemeHTTPS {
		explicit = c.opts.HTTPSProxy
	}

	sel, err := selectProxy(scheme, explicit, env, a.address)
	if err != nil {
		return err
	}

	switch {
	case sel.bypassedBy != "":
		c.opts.Logger.Debug("proxy bypassed", "destination", a.address, "pattern", sel.bypassedBy)
	case sel.target != nil:
		c.opts.Logger.Debug("using proxy",
			"scheme", scheme,
			"proxy", sel.target.Address,
			"origin", sel.origin,
			"auth", sel.target.Auth != "")
	}

	c.mu.Lock()
	*c.proxy.slot(scheme) = sel.target
	c.mu.Unlock()
	a.proxy = sel.target
	return nil
}

// environment returns the environment snapshot for one attempt.
func (c *Client) environment() (Environment, error) {
	if c.opts.Environment != nil {
		return *c.opts.Environment, nil
	}
	env, err := LoadEnvironment()
	if err != nil {
		return Environment{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return env, nil
}

// Resume advances the current attempt once the pending stage's I/O has
// finished.
//
// It returns ErrInProgress while an attempt is parked in a stage, nil once
// CONNECT has been sent (StageAwaitingConnAck), and a *ConnectError when
// the attempt failed, in which case the client is back in StageIdle.
// Calling Resume before the I/O finished is harmless.
func (c *Client) Resume(ctx context.Context) error {
	c.drive.Lock()
	defer c.drive.Unlock()

	a := c.currentAttempt()
	if a == nil {
		if err := c.takeAbandoned(); err != nil {
			return err
		}
		return ErrNoAttempt
	}
	if a.state.Stage == StageAwaitingConnAck {
		return nil
	}

	op := a.op
	if !op.ready() {
		return ErrInProgress
	}
	c.park(a, nil)

	completed := a.state.Stage
	if op.err != nil {
		return c.fail(a, op.err)
	}
	c.setConn(op.conn, completed == StageTCPInProgress)

	return c.advance(ctx, a, completed)
}

// advance starts the first stage after completed that the attempt needs.
// Stages always run in the order proxy tunnel, TLS, WebSocket, CONNECT.
func (c *Client) advance(ctx context.Context, a *attempt, completed Stage) error {
	conn := c.currentConn()

	if completed < StageProxyConnectInProgress && a.proxy != nil {
		target := a.dest
		auth := a.proxy.Auth
		deadline := time.Now().Add(tunnelTimeout)

		c.opts.Logger.Debug("requesting proxy tunnel",
			"proxy", a.proxy.Address,
			"target", target.HostPort(),
			"auth", auth != "")
		c.setStage(a, StageProxyConnectInProgress, deadline)
		c.park(a, startOperation(func() (net.Conn, error) {
			err := tunnel(a.ctx, conn, target, auth, deadline)
			c.opts.Metrics.Tunnel(tunnelResult(err))
			if err != nil {
				return nil, err
			}
			return conn, nil
		}))
		return ErrInProgress
	}

	if completed < StageSSLInProgress && a.caps.TLS {
		c.setStage(a, StageSSLInProgress, time.Time{})
		c.park(a, startOperation(func() (net.Conn, error) {
			tc, err := c.handshaker.Handshake(a.ctx, conn, a.dest.Host)
			if err != nil {
				return nil, transportError(fmt.Errorf("TLS handshake failed: %w", err))
			}
			return tc, nil
		}))
		return ErrInProgress
	}

	if completed < StageWebSocketInProgress && a.caps.WebSocket {
		wsURL := webSocketURL(a.dest, a.caps.TLS)
		subprotocol := webSocketSubprotocol(c.opts.ProtocolVersion)

		c.opts.Logger.Debug("upgrading to WebSocket", "url", wsURL, "subprotocol", subprotocol)
		c.setStage(a, StageWebSocketInProgress, time.Time{})
		c.park(a, startOperation(func() (net.Conn, error) {
			wc, err := c.upgrader.Upgrade(a.ctx, conn, wsURL, subprotocol)
			if err != nil {
				return nil, transportError(fmt.Errorf("WebSocket upgrade failed: %w", err))
			}
			return wc, nil
		}))
		return ErrInProgress
	}

	return c.sendConnect(ctx, a, conn)
}

// sendConnect writes CONNECT. Success moves the attempt to
// StageAwaitingConnAck; failure ends it.
func (c *Client) sendConnect(ctx context.Context, a *attempt, conn net.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}

	c.writeLock.Lock()
	_, err := c.buildConnectPacket().WriteTo(&countingWriter{Writer: conn, c: c})
	c.writeLock.Unlock()
	if err != nil {
		return c.fail(a, transportError(fmt.Errorf("failed to send CONNECT: %w", err)))
	}
	c.packetsSent.Add(1)

	c.setStage(a, StageAwaitingConnAck, time.Time{})
	return nil
}

// AwaitConnAck reads the server's CONNACK after Resume reported that
// CONNECT was sent.
//
// The wait is bounded by ctx, or by the connect timeout when ctx has no
// deadline. On acceptance the client is connected and back in StageIdle.
// A refusal is returned as a *ConnectError wrapping ErrConnectionRefused
// and, for MQTT v5.0, a *MqttError with the reason code.
func (c *Client) AwaitConnAck(ctx context.Context) error {
	c.drive.Lock()
	defer c.drive.Unlock()

	a := c.currentAttempt()
	if a == nil {
		if err := c.takeAbandoned(); err != nil {
			return err
		}
		return ErrNoAttempt
	}
	if a.state.Stage != StageAwaitingConnAck {
		return ErrNoAttempt
	}
	conn := c.currentConn()

	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := c.opts.ConnectTimeout
		if timeout <= 0 {
			timeout = defaultConnAckTimeout
		}
		deadline = time.Now().Add(timeout)
	}
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	pkt, err := packets.ReadPacket(&countingReader{Reader: conn, c: c}, c.opts.ProtocolVersion)
	stop()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return c.fail(a, transportError(fmt.Errorf("failed to read CONNACK: %w", err)))
	}
	c.packetsReceived.Add(1)

	connack, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		return c.fail(a, fmt.Errorf("%w: expected CONNACK, got %s", ErrTransport, packets.PacketNames[pkt.Type()]))
	}
	if connack.ReturnCode != packets.ConnAccepted {
		return c.fail(a, c.refusal(connack))
	}

	c.mu.Lock()
	c.sessionPresent = connack.SessionPresent
	c.assignedClientID = ""
	c.serverKeepAlive = 0
	c.reasonString = ""
	if props := connack.Properties; props != nil {
		c.assignedClientID = props.AssignedClientIdentifier
		c.serverKeepAlive = props.ServerKeepAlive
		c.reasonString = props.ReasonString
	}
	c.mu.Unlock()

	c.connected.Store(true)
	c.finish(a, metrics.OutcomeConnected)

	c.opts.Logger.Debug("connection established",
		"address", a.address,
		"socket", c.SocketID(),
		"session_present", connack.SessionPresent)
	return nil
}

// refusal maps a refused CONNACK to an error.
func (c *Client) refusal(connack *packets.ConnackPacket) error {
	if c.opts.ProtocolVersion >= ProtocolV50 {
		err := &MqttError{
			ReasonCode: connack.ReturnCode,
			Parent:     ErrConnectionRefused,
		}
		if connack.Properties != nil {
			err.Message = connack.Properties.ReasonString
		}
		return err
	}

	var reason error
	switch connack.ReturnCode {
	case packets.ConnRefusedUnacceptableProtocol:
		reason = ErrUnacceptableProtocolVersion
	case packets.ConnRefusedIdentifierRejected:
		reason = ErrIdentifierRejected
	case packets.ConnRefusedServerUnavailable:
		reason = ErrServerUnavailable
	case packets.ConnRefusedBadUsernameOrPassword:
		reason = ErrBadUsernameOrPassword
	case packets.ConnRefusedNotAuthorized:
		reason = ErrNotAuthorized
	default:
		return fmt.Errorf("%w: code %d", ErrConnectionRefused, connack.ReturnCode)
	}
	return fmt.Errorf("%w: %w", ErrConnectionRefused, reason)
}

// Run drives a connection attempt to completion: Connect, then Resume
// whenever Ready fires, then AwaitConnAck.
//
// Cancelling ctx abandons the attempt.
func (c *Client) Run(ctx context.Context, address string, caps Capabilities) error {
	err := c.Connect(ctx, address, caps)
	for errors.Is(err, ErrInProgress) {
		select {
		case <-c.Ready():
		case <-ctx.Done():
			return c.abort(ctx.Err())
		}
		err = c.Resume(ctx)
	}
	if err != nil {
		return err
	}
	return c.AwaitConnAck(ctx)
}

// abort ends the current attempt with cause.
func (c *Client) abort(cause error) error {
	c.drive.Lock()
	defer c.drive.Unlock()
	a := c.currentAttempt()
	if a == nil {
		return transportError(cause)
	}
	return c.fail(a, transportError(cause))
}

// abandon fails the current attempt on behalf of someone other than the
// driver. The failure is kept for the driver's next Resume or AwaitConnAck.
func (c *Client) abandon(a *attempt, err error) {
	failure := c.fail(a, err)
	c.mu.Lock()
	c.abandoned = failure
	c.mu.Unlock()
}

// takeAbandoned returns and clears the failure left by abandon.
func (c *Client) takeAbandoned() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.abandoned
	c.abandoned = nil
	return err
}

func (c *Client) currentAttempt() *attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// park records op as the pending I/O of the attempt.
func (c *Client) park(a *attempt, op *operation) {
	c.mu.Lock()
	a.op = op
	c.mu.Unlock()
}

// setStage moves the attempt to stage to.
func (c *Client) setStage(a *attempt, to Stage, deadline time.Time) {
	now := time.Now()
	c.mu.Lock()
	from := a.state
	a.state = StageState{Stage: to, Since: now, Deadline: deadline}
	c.mu.Unlock()

	c.opts.Metrics.Transition(from.Stage.String(), to.String(), now.Sub(from.Since))
	c.opts.Logger.Debug("connection stage changed", "from", from.Stage, "to", to)
	if c.opts.OnStageChange != nil {
		c.opts.OnStageChange(from.Stage, to)
	}
}

// fail ends the attempt with err: the connection is closed, the client is
// marked unhealthy and returns to StageIdle.
func (c *Client) fail(a *attempt, err error) error {
	stage := a.state.Stage

	if a.op != nil {
		a.op.discard()
		c.park(a, nil)
	}
	a.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.socketID = ""
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	c.healthy.Store(false)
	outcome := metrics.OutcomeFailed
	if errors.Is(err, ErrConnectionRefused) {
		outcome = metrics.OutcomeRefused
	}
	c.finish(a, outcome)

	c.opts.Logger.Debug("connection attempt failed", "address", a.address, "stage", stage, "error", err)
	return &ConnectError{Stage: stage, Err: err}
}

// finish returns the client to StageIdle and forgets the attempt.
func (c *Client) finish(a *attempt, outcome string) {
	c.setStage(a, StageIdle, time.Time{})
	a.cancel()
	c.mu.Lock()
	c.attempt = nil
	c.mu.Unlock()
	c.opts.Metrics.Attempt(outcome)
}

func tunnelResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProxyRejected):
		return "rejected"
	case errors.Is(err, ErrProxyTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// ParseServer splits a server URI into the address and capabilities for
// Connect.
//
// Supported schemes:
//   - tcp:// or mqtt:// - Unencrypted connection (default port 1883)
//   - tls://, ssl://, or mqtts:// - TLS encrypted connection (default port 8883)
//   - ws:// - WebSocket (default port 80, path /mqtt)
//   - wss:// - WebSocket over TLS (default port 443, path /mqtt)
//   - unix:// - Unix domain socket, followed by the socket path
//
// A URI without a scheme is treated as tcp://.
func ParseServer(server string) (string, Capabilities, error) {
	scheme, address, found := strings.Cut(server, "://")
	if !found {
		scheme, address = "tcp", server
	}

	var caps Capabilities
	switch strings.ToLower(scheme) {
	case "tcp", "mqtt":
	case "tls", "ssl", "mqtts":
		caps.TLS = true
	case "ws":
		caps.WebSocket = true
	case "wss":
		caps.TLS = true
		caps.WebSocket = true
	case "unix":
		caps.UnixSocket = true
		p, err := url.PathUnescape(address)
		if err != nil {
			return "", caps, configError("unix socket path %q: %v", address, err)
		}
		return p, caps, nil
	default:
		return "", caps, configError("unsupported scheme: %s (supported: tcp, mqtt, tls, ssl, mqtts, ws, wss, unix)", scheme)
	}

	if !caps.WebSocket {
		address = strings.TrimSuffix(address, "/")
	}
	if address == "" {
		return "", caps, configError("server %q has no host", server)
	}
	return address, caps, nil
}

// Dial creates a client and connects it to server, returning once CONNACK
// accepted the connection.
//
// The server parameter specifies the server address with scheme and port;
// see ParseServer. The context bounds the whole attempt.
//
// Example (basic connection):
//
//	client, err := mqlink.Dial(ctx, "tcp://localhost:1883",
//	    mqlink.WithClientID("my-client"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
// Example (through an HTTP proxy, over TLS and WebSocket):
//
//	client, err := mqlink.Dial(ctx, "wss://broker.example.com/mqtt",
//	    mqlink.WithHTTPSProxy("http://proxy.internal:3128"))
func Dial(ctx context.Context, server string, opts ...Option) (*Client, error) {
	address, caps, err := ParseServer(server)
	if err != nil {
		return nil, err
	}

	c := NewClient(opts...)
	if err := c.Run(ctx, address, caps); err != nil {
		return nil, err
	}
	return c, nil
}
