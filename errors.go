package mqlink

import (
	"errors"
	"fmt"
)

// Standard errors returned by the connection engine.
var (
	// ErrInProgress is returned when the current stage is waiting for I/O.
	// It is not a failure: wait on Client.Ready and call Client.Resume.
	ErrInProgress = errors.New("connection in progress")

	// ErrInvalidConfig is returned for configurations rejected before any I/O,
	// such as a proxy without a recognised scheme or an unsupported
	// combination of transport layers.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTransport is returned when dialing, reading or writing the socket fails.
	ErrTransport = errors.New("transport error")

	// ErrProxyRejected is returned when the proxy answers the CONNECT request
	// with anything but a 200 status. The concrete error is a *ProxyError.
	ErrProxyRejected = errors.New("proxy rejected connection")

	// ErrProxyTimeout is returned when the proxy does not answer the CONNECT
	// request in time.
	ErrProxyTimeout = errors.New("proxy tunnel timed out")

	// ErrNotIdle is returned by Connect when an attempt is already underway
	// or the client is connected.
	ErrNotIdle = errors.New("connection attempt already started")

	// ErrNoAttempt is returned by Resume and AwaitConnAck when there is
	// nothing to resume.
	ErrNoAttempt = errors.New("no connection attempt in progress")

	// ErrNotConnected is returned by operations that need an established
	// MQTT connection.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownSocket is returned by Manager operations for socket
	// identifiers that are not registered.
	ErrUnknownSocket = errors.New("unknown socket")

	// ErrConnectionRefused is returned when the server rejects the connection.
	// You can unwrap this error to find the specific reason if available.
	ErrConnectionRefused = errors.New("connection refused")

	// Specific connection refusal reasons (v3.1.1)
	ErrUnacceptableProtocolVersion = errors.New("unacceptable protocol version")
	ErrIdentifierRejected          = errors.New("identifier rejected")
	ErrServerUnavailable           = errors.New("server unavailable")
	ErrBadUsernameOrPassword       = errors.New("bad username or password")
	ErrNotAuthorized               = errors.New("not authorized")
)

// ConnectError reports a failed connection attempt and the stage it failed in.
// Partial progress is not reported separately: the whole attempt failed.
type ConnectError struct {
	Stage Stage
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed in %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProxyError is returned when the proxy refuses to open a tunnel.
type ProxyError struct {
	// Status is the beginning of the proxy's response, usually its status line.
	Status string
}

func (e *ProxyError) Error() string {
	if e.Status == "" {
		return "proxy rejected CONNECT: empty response"
	}
	return fmt.Sprintf("proxy rejected CONNECT: %q", e.Status)
}

// Is makes errors.Is(err, ErrProxyRejected) true for any *ProxyError.
func (e *ProxyError) Is(target error) bool {
	return target == ErrProxyRejected
}

// MqttError represents a CONNACK refusal from an MQTT v5.0 server, including
// the reason code.
type MqttError struct {
	ReasonCode uint8
	Message    string
	Parent     error
}

func (e *MqttError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mqtt error (0x%02X): %s", e.ReasonCode, e.Message)
	}
	if e.Parent != nil {
		return fmt.Sprintf("mqtt error (0x%02X): %s", e.ReasonCode, e.Parent.Error())
	}
	return fmt.Sprintf("mqtt error (0x%02X)", e.ReasonCode)
}

func (e *MqttError) Unwrap() error {
	return e.Parent
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func transportError(err error) error {
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
