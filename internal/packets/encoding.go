package packets

import (
	"fmt"
	"unicode/utf8"
)

// appendString appends a length-prefixed UTF-8 string to dst (MSB first).
func appendString(dst []byte, s string) []byte {
	length := uint16(len(s))
	dst = append(dst, byte(length>>8), byte(length))
	return append(dst, s...)
}

// appendBinary appends length-prefixed binary data to dst.
func appendBinary(dst []byte, data []byte) []byte {
	length := uint16(len(data))
	dst = append(dst, byte(length>>8), byte(length))
	return append(dst, data...)
}

// decodeString decodes an MQTT UTF-8 string (2-byte length + data).
// Returns the string and the number of bytes consumed.
func decodeString(buf []byte) (string, int, error) {
	data, n, err := decodeBinary(buf)
	if err != nil {
		return "", 0, err
	}
	if !utf8.Valid(data) {
		return "", 0, fmt.Errorf("invalid UTF-8 string")
	}
	return string(data), n, nil
}

// decodeBinary reads length-prefixed binary data from the buffer.
func decodeBinary(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("buffer too short for length prefix")
	}

	length := int(buf[0])<<8 | int(buf[1])
	if len(buf) < 2+length {
		return nil, 0, fmt.Errorf("buffer too short for data: need %d, have %d", 2+length, len(buf))
	}
	return buf[2 : 2+length], 2 + length, nil
}
