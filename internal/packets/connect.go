package packets

import (
	"encoding/binary"
	"io"
)

// ConnectPacket represents an MQTT CONNECT control packet.
type ConnectPacket struct {
	// Protocol level (3 for v3.1, 4 for v3.1.1, 5 for v5.0). The protocol
	// name is derived from it.
	ProtocolLevel uint8

	CleanSession bool
	WillFlag     bool
	WillQoS      uint8
	WillRetain   bool

	// Keep alive timer in seconds
	KeepAlive uint16

	ClientID string

	// Will fields (only used if WillFlag is true)
	WillTopic   string
	WillMessage []byte

	// Credentials are sent when non-empty.
	Username string
	Password string

	// MQTT v5.0 fields
	Properties *ConnectProperties
}

// Type returns the packet type.
func (p *ConnectPacket) Type() uint8 {
	return CONNECT
}

// ProtocolName returns the protocol name written for the packet's level.
func (p *ConnectPacket) ProtocolName() string {
	if p.ProtocolLevel == ProtocolV31 {
		return "MQIsdp"
	}
	return "MQTT"
}

// Encode appends the serialized packet to dst.
func (p *ConnectPacket) Encode(dst []byte) []byte {
	var flags uint8
	if p.CleanSession {
		flags |= 0x02
	}
	if p.WillFlag {
		flags |= 0x04
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= 0x20
		}
	}
	if p.Password != "" {
		flags |= 0x40
	}
	if p.Username != "" {
		flags |= 0x80
	}

	body := appendString(make([]byte, 0, 64), p.ProtocolName())
	body = append(body, p.ProtocolLevel, flags)
	body = binary.BigEndian.AppendUint16(body, p.KeepAlive)
	if p.ProtocolLevel >= ProtocolV50 {
		body = appendConnectProperties(body, p.Properties)
	}

	body = appendString(body, p.ClientID)
	if p.WillFlag {
		if p.ProtocolLevel >= ProtocolV50 {
			body = appendConnectProperties(body, nil)
		}
		body = appendString(body, p.WillTopic)
		body = appendBinary(body, p.WillMessage)
	}
	if p.Username != "" {
		body = appendString(body, p.Username)
	}
	if p.Password != "" {
		body = appendString(body, p.Password)
	}

	dst = append(dst, CONNECT<<4)
	dst = appendVarInt(dst, len(body))
	return append(dst, body...)
}

// WriteTo writes the CONNECT packet to the writer in a single write.
func (p *ConnectPacket) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Encode(nil))
	return int64(n), err
}
