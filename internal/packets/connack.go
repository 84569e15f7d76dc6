package packets

import (
	"fmt"
	"io"
)

// ConnackPacket represents an MQTT CONNACK control packet.
type ConnackPacket struct {
	// Session present flag (v3.1.1+)
	SessionPresent bool

	// Return code (v3.1.1) or reason code (v5.0)
	ReturnCode uint8

	// MQTT v5.0 fields
	Properties *ConnackProperties
}

// Type returns the packet type.
func (p *ConnackPacket) Type() uint8 {
	return CONNACK
}

// WriteTo writes a v3.1.1-shaped CONNACK. Used by test brokers.
func (p *ConnackPacket) WriteTo(w io.Writer) (int64, error) {
	var ackFlags uint8
	if p.SessionPresent {
		ackFlags = 0x01
	}
	n, err := w.Write([]byte{CONNACK << 4, 2, ackFlags, p.ReturnCode})
	return int64(n), err
}

// DecodeConnack decodes a CONNACK packet from the buffer.
func DecodeConnack(buf []byte, version uint8) (*ConnackPacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("buffer too short for CONNACK packet")
	}

	pkt := &ConnackPacket{
		SessionPresent: buf[0]&0x01 != 0,
		ReturnCode:     buf[1],
	}

	if version >= ProtocolV50 && len(buf) > 2 {
		props, _, err := decodeConnackProperties(buf[2:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode properties: %w", err)
		}
		pkt.Properties = props
	}

	return pkt, nil
}
