package packets

import "io"

// DisconnectPacket represents an MQTT DISCONNECT control packet.
type DisconnectPacket struct {
	ReasonCode uint8 // v5.0
	Version    uint8
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() uint8 {
	return DISCONNECT
}

// WriteTo writes the DISCONNECT packet to the writer. A v5.0 packet with a
// zero reason code uses the short form.
func (p *DisconnectPacket) WriteTo(w io.Writer) (int64, error) {
	buf := []byte{DISCONNECT << 4, 0}
	if p.Version >= ProtocolV50 && p.ReasonCode != 0 {
		buf = []byte{DISCONNECT << 4, 2, p.ReasonCode, 0}
	}
	n, err := w.Write(buf)
	return int64(n), err
}
