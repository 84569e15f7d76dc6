package mqlink

import "time"

// Stage records how far a connection attempt has progressed through its
// layered transport setup.
type Stage int

const (
	// StageIdle means no attempt is underway.
	StageIdle Stage = iota
	// StageTCPInProgress means the socket connect has been issued.
	StageTCPInProgress
	// StageProxyConnectInProgress means the HTTP CONNECT request has been sent.
	StageProxyConnectInProgress
	// StageSSLInProgress means the TLS handshake is running.
	StageSSLInProgress
	// StageWebSocketInProgress means the WebSocket upgrade is running.
	StageWebSocketInProgress
	// StageAwaitingConnAck means CONNECT was sent and CONNACK is expected.
	StageAwaitingConnAck
)

var stageNames = [...]string{
	StageIdle:                   "idle",
	StageTCPInProgress:          "tcp_in_progress",
	StageProxyConnectInProgress: "proxy_connect_in_progress",
	StageSSLInProgress:          "ssl_in_progress",
	StageWebSocketInProgress:    "websocket_in_progress",
	StageAwaitingConnAck:        "awaiting_connack",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// StageState is the stage together with the data that belongs to it.
type StageState struct {
	Stage Stage

	// Since is when the stage was entered.
	Since time.Time

	// Deadline is set for stages with their own time limit
	// (StageProxyConnectInProgress).
	Deadline time.Time
}
