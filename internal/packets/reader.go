package packets

import (
	"fmt"
	"io"
)

// maxHandshakePacket bounds packets read while a connection is being set up.
const maxHandshakePacket = 64 * 1024

// ReadPacket reads one packet the connection engine understands (CONNACK,
// PINGRESP, DISCONNECT). Other packet types are consumed and reported as an
// error.
func ReadPacket(r io.Reader, version uint8) (Packet, error) {
	header, err := DecodeFixedHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fixed header: %w", err)
	}
	if header.RemainingLength > maxHandshakePacket {
		return nil, fmt.Errorf("packet size %d exceeds maximum %d", header.RemainingLength, maxHandshakePacket)
	}

	remaining := make([]byte, header.RemainingLength)
	if _, err := io.ReadFull(r, remaining); err != nil {
		return nil, fmt.Errorf("failed to read packet body: %w", err)
	}

	switch header.PacketType {
	case CONNACK:
		return DecodeConnack(remaining, version)
	case PINGRESP:
		return &PingrespPacket{}, nil
	case DISCONNECT:
		pkt := &DisconnectPacket{Version: version}
		if len(remaining) > 0 {
			pkt.ReasonCode = remaining[0]
		}
		return pkt, nil
	default:
		return nil, fmt.Errorf("unexpected packet type: %s", PacketNames[header.PacketType])
	}
}
