package packets

import (
	"encoding/binary"
	"fmt"
)

// ConnectProperties is the subset of MQTT v5.0 CONNECT properties the
// connection engine sends.
type ConnectProperties struct {
	SessionExpiryInterval uint32
	SessionExpirySet      bool

	// 0 means absent.
	ReceiveMaximum    uint16
	MaximumPacketSize uint32

	RequestProblemInformation bool
}

// appendConnectProperties appends the property length and the encoded
// properties to dst. A nil value encodes as an empty property list.
func appendConnectProperties(dst []byte, p *ConnectProperties) []byte {
	var body []byte
	if p != nil {
		if p.SessionExpirySet {
			body = append(body, propSessionExpiryInterval)
			body = binary.BigEndian.AppendUint32(body, p.SessionExpiryInterval)
		}
		if p.ReceiveMaximum > 0 {
			body = append(body, propReceiveMaximum)
			body = binary.BigEndian.AppendUint16(body, p.ReceiveMaximum)
		}
		if p.MaximumPacketSize > 0 {
			body = append(body, propMaximumPacketSize)
			body = binary.BigEndian.AppendUint32(body, p.MaximumPacketSize)
		}
		if p.RequestProblemInformation {
			body = append(body, propRequestProblemInfo, 1)
		}
	}
	dst = appendVarInt(dst, len(body))
	return append(dst, body...)
}

// ConnackProperties holds the CONNACK properties the connection engine
// reports back to the caller. Unknown or unused properties are skipped.
type ConnackProperties struct {
	SessionExpiryInterval    uint32
	ReceiveMaximum           uint16
	MaximumPacketSize        uint32
	ServerKeepAlive          uint16
	AssignedClientIdentifier string
	ReasonString             string
	ServerReference          string
	ResponseInformation      string
}

// decodeConnackProperties decodes a property list (length prefix included)
// and returns the number of bytes consumed.
func decodeConnackProperties(buf []byte) (*ConnackProperties, int, error) {
	length, n, err := decodeVarIntBuf(buf)
	if err != nil {
		return nil, 0, err
	}
	end := n + length
	if end > len(buf) {
		return nil, 0, fmt.Errorf("buffer too short for properties: need %d, have %d", end, len(buf))
	}

	props := &ConnackProperties{}
	data := buf[n:end]
	for len(data) > 0 {
		id := data[0]
		data = data[1:]

		var size int
		switch id {
		case propMaximumQoS, propRetainAvailable, propWildcardSubAvailable,
			propSubIDAvailable, propSharedSubAvailable, propRequestProblemInfo,
			propRequestResponseInfo:
			size = 1
		case propReceiveMaximum, propTopicAliasMaximum, propServerKeepAlive:
			size = 2
			if len(data) >= 2 {
				v := binary.BigEndian.Uint16(data)
				switch id {
				case propReceiveMaximum:
					props.ReceiveMaximum = v
				case propServerKeepAlive:
					props.ServerKeepAlive = v
				}
			}
		case propSessionExpiryInterval, propMaximumPacketSize, propWillDelayInterval:
			size = 4
			if len(data) >= 4 {
				v := binary.BigEndian.Uint32(data)
				switch id {
				case propSessionExpiryInterval:
					props.SessionExpiryInterval = v
				case propMaximumPacketSize:
					props.MaximumPacketSize = v
				}
			}
		case propAssignedClientIdentifier, propReasonString, propServerReference,
			propResponseInformation, propAuthenticationMethod:
			s, sn, err := decodeString(data)
			if err != nil {
				return nil, 0, fmt.Errorf("property 0x%02X: %w", id, err)
			}
			switch id {
			case propAssignedClientIdentifier:
				props.AssignedClientIdentifier = s
			case propReasonString:
				props.ReasonString = s
			case propServerReference:
				props.ServerReference = s
			case propResponseInformation:
				props.ResponseInformation = s
			}
			size = sn
		case propAuthenticationData:
			_, bn, err := decodeBinary(data)
			if err != nil {
				return nil, 0, fmt.Errorf("property 0x%02X: %w", id, err)
			}
			size = bn
		case propUserProperty:
			_, kn, err := decodeString(data)
			if err != nil {
				return nil, 0, fmt.Errorf("user property key: %w", err)
			}
			_, vn, err := decodeString(data[kn:])
			if err != nil {
				return nil, 0, fmt.Errorf("user property value: %w", err)
			}
			size = kn + vn
		default:
			return nil, 0, fmt.Errorf("unknown property identifier 0x%02X", id)
		}

		if size > len(data) {
			return nil, 0, fmt.Errorf("property 0x%02X truncated", id)
		}
		data = data[size:]
	}

	return props, end, nil
}
