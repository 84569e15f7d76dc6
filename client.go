package mqlink

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/mqlink/internal/packets"
)

// SocketID identifies the socket of a connected client. A new identifier
// is assigned each time an attempt's socket connect completes.
type SocketID string

// Client is the connection record of one MQTT client.
//
// A Client is driven through its connection stages by Connect, Resume and
// AwaitConnAck, or by Run which calls them in a loop. Only one goroutine
// should drive a client at a time; the getters may be called from anywhere.
type Client struct {
	// Configuration
	opts *clientOptions

	// Collaborators resolved from the options
	dialer     ContextDialer
	handshaker TLSHandshaker
	upgrader   WebSocketUpgrader

	// drive serializes the driver methods.
	drive sync.Mutex

	// mu guards the fields below.
	mu       sync.Mutex
	attempt   *attempt
	abandoned error
	conn      net.Conn
	socketID  SocketID
	proxy     ProxyConfig

	// unregister is installed by a Manager and called with the socket
	// identifier when the client closes.
	unregister func(SocketID)

	// Results of the last CONNACK
	sessionPresent   bool
	assignedClientID string
	serverKeepAlive  uint16
	reasonString     string

	// writeLock serializes packet writes once connected.
	writeLock sync.Mutex

	healthy         atomic.Bool
	connected       atomic.Bool
	pingOutstanding atomic.Bool

	// Stats (atomic)
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	attempts        atomic.Uint64
}

// NewClient returns an idle client configured by opts.
//
// Configuration problems that need no network access, such as an invalid
// SOCKS5 proxy, are reported by the first Connect.
func NewClient(opts ...Option) *Client {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	options.Logger = options.Logger.With("lib", "mqlink")

	c := &Client{
		opts:       options,
		dialer:     options.Dialer,
		handshaker: options.TLSHandshaker,
		upgrader:   options.WebSocketUpgrader,
	}
	if c.handshaker == nil {
		c.handshaker = tlsHandshaker{config: options.TLSConfig}
	}
	if c.upgrader == nil {
		c.upgrader = webSocketUpgrader{}
	}
	return c
}

// Stage returns the stage of the current attempt, StageIdle when there is
// none.
func (c *Client) Stage() Stage {
	return c.StageState().Stage
}

// StageState returns the stage of the current attempt with its data.
func (c *Client) StageState() StageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == nil {
		return StageState{Stage: StageIdle}
	}
	return c.attempt.state
}

// SocketID returns the identifier of the client's socket, empty before the
// socket connect of an attempt completes.
func (c *Client) SocketID() SocketID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Proxy returns the proxy slots installed by the last attempt.
func (c *Client) Proxy() ProxyConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

// Conn returns the fully layered connection once CONNECT has been sent,
// nil otherwise.
func (c *Client) Conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != nil && c.attempt.state.Stage != StageAwaitingConnAck {
		return nil
	}
	return c.conn
}

// IsConnected reports whether CONNACK accepted the connection and the
// client has not been closed since.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Healthy reports whether the last attempt has not failed. It is set when
// an attempt starts and cleared when it fails.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// PingOutstanding reports whether a PINGREQ was sent and its PINGRESP has
// not been handled yet.
func (c *Client) PingOutstanding() bool {
	return c.pingOutstanding.Load()
}

// SessionPresent returns the session present flag of the last CONNACK.
func (c *Client) SessionPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionPresent
}

// AssignedClientID returns the client identifier assigned by an MQTT v5.0
// server, empty if the server did not assign one.
func (c *Client) AssignedClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignedClientID
}

// ServerKeepAlive returns the keep alive, in seconds, imposed by an MQTT
// v5.0 server, or 0 if the server accepted the requested one.
func (c *Client) ServerKeepAlive() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverKeepAlive
}

// ClientStats holds connection statistics.
type ClientStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Attempts        uint64
	Connected       bool
}

// GetStats returns the current client statistics.
func (c *Client) GetStats() ClientStats {
	return ClientStats{
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		Attempts:        c.attempts.Load(),
		Connected:       c.IsConnected(),
	}
}

// Ping sends PINGREQ and marks the ping as outstanding until
// HandlePingresp is called.
func (c *Client) Ping() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if _, err := (&packets.PingreqPacket{}).WriteTo(&countingWriter{Writer: conn, c: c}); err != nil {
		return transportError(fmt.Errorf("failed to send PINGREQ: %w", err))
	}
	c.packetsSent.Add(1)
	c.pingOutstanding.Store(true)
	return nil
}

// HandlePingresp records a PINGRESP from the server.
func (c *Client) HandlePingresp() {
	c.packetsReceived.Add(1)
	c.pingOutstanding.Store(false)
	c.opts.Logger.Debug("received PINGRESP", "socket", c.SocketID())
}

// Disconnect sends DISCONNECT if the client is connected, then closes it.
// The context bounds the DISCONNECT write.
func (c *Client) Disconnect(ctx context.Context) error {
	var sendErr error
	if c.connected.Load() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			sendErr = c.sendDisconnect(ctx, conn)
		}
	}
	if err := c.Close(); err != nil && sendErr == nil {
		return err
	}
	return sendErr
}

func (c *Client) sendDisconnect(ctx context.Context, conn net.Conn) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}

	pkt := &packets.DisconnectPacket{Version: c.opts.ProtocolVersion}
	if _, err := pkt.WriteTo(&countingWriter{Writer: conn, c: c}); err != nil {
		return transportError(fmt.Errorf("failed to send DISCONNECT: %w", err))
	}
	c.packetsSent.Add(1)
	c.opts.Logger.Debug("sent DISCONNECT", "socket", c.SocketID())
	return nil
}

// Close closes the client's connection. An attempt in progress is
// abandoned and the client returns to StageIdle.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		// Unblocks a driver waiting for CONNACK.
		err = conn.Close()
	}

	c.drive.Lock()
	defer c.drive.Unlock()

	c.mu.Lock()
	id := c.socketID
	unregister := c.unregister
	c.unregister = nil
	c.mu.Unlock()

	if a := c.currentAttempt(); a != nil {
		c.abandon(a, transportError(net.ErrClosed))
	}

	c.mu.Lock()
	c.conn = nil
	c.socketID = ""
	c.mu.Unlock()
	c.connected.Store(false)
	c.pingOutstanding.Store(false)

	if unregister != nil && id != "" {
		unregister(id)
	}
	return err
}

// setUnregister installs the callback Close uses to leave a Manager.
func (c *Client) setUnregister(fn func(SocketID)) {
	c.mu.Lock()
	c.unregister = fn
	c.mu.Unlock()
}

// setConn installs conn as the client's connection. A new socket gets a
// new identifier.
func (c *Client) setConn(conn net.Conn, newSocket bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if newSocket {
		c.socketID = SocketID(uuid.NewString())
	}
}

func (c *Client) currentConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// buildConnectPacket creates a CONNECT packet with the client's configuration.
func (c *Client) buildConnectPacket() *packets.ConnectPacket {
	pkt := &packets.ConnectPacket{
		ProtocolLevel: c.opts.ProtocolVersion,
		CleanSession:  c.opts.CleanSession,
		KeepAlive:     uint16(c.opts.KeepAlive.Seconds()),
		ClientID:      c.opts.ClientID,
		Username:      c.opts.Username,
		Password:      c.opts.Password,
	}

	if c.opts.ProtocolVersion >= ProtocolV50 {
		pkt.Properties = &packets.ConnectProperties{
			SessionExpiryInterval:     c.opts.SessionExpiryInterval,
			SessionExpirySet:          c.opts.SessionExpirySet,
			ReceiveMaximum:            c.opts.ReceiveMaximum,
			MaximumPacketSize:         c.opts.MaximumPacketSize,
			RequestProblemInformation: c.opts.RequestProblemInformation,
		}
	}

	if c.opts.will != nil {
		pkt.WillFlag = true
		pkt.WillTopic = c.opts.will.Topic
		pkt.WillMessage = c.opts.will.Payload
		pkt.WillQoS = c.opts.will.QoS
		pkt.WillRetain = c.opts.will.Retained
	}

	return pkt
}

type countingReader struct {
	io.Reader
	c *Client
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if n > 0 {
		r.c.bytesReceived.Add(uint64(n))
	}
	return n, err
}

type countingWriter struct {
	io.Writer
	c *Client
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if n > 0 {
		w.c.bytesSent.Add(uint64(n))
	}
	return n, err
}
