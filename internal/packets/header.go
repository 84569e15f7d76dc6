package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxVarInt is the largest value a Variable Byte Integer can carry.
const maxVarInt = 268435455

// FixedHeader represents the fixed header present in all MQTT control packets.
// Format: [PacketType + Flags (1 byte)][Remaining Length (1-4 bytes)]
type FixedHeader struct {
	PacketType      uint8
	Flags           uint8
	RemainingLength int
}

// WriteTo writes the fixed header to the writer.
func (h *FixedHeader) WriteTo(w io.Writer) (int64, error) {
	var buf [5]byte
	buf[0] = (h.PacketType << 4) | (h.Flags & 0x0F)
	out := appendVarInt(buf[:1], h.RemainingLength)
	n, err := w.Write(out)
	return int64(n), err
}

// DecodeFixedHeader reads and decodes a fixed header from the reader.
func DecodeFixedHeader(r io.Reader) (*FixedHeader, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	remainingLength, err := decodeVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode remaining length: %w", err)
	}

	return &FixedHeader{
		PacketType:      buf[0] >> 4,
		Flags:           buf[0] & 0x0F,
		RemainingLength: remainingLength,
	}, nil
}

// appendVarInt appends the Variable Byte Integer encoding of value to dst.
func appendVarInt(dst []byte, value int) []byte {
	if value < 0 || value > maxVarInt {
		panic(fmt.Sprintf("value %d out of range for variable byte integer", value))
	}
	for {
		digit := byte(value % 128)
		value /= 128
		if value > 0 {
			digit |= 0x80
		}
		dst = append(dst, digit)
		if value == 0 {
			return dst
		}
	}
}

// decodeVarInt reads a Variable Byte Integer from the reader.
func decodeVarInt(r io.Reader) (int, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	val, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, err
	}
	if val > maxVarInt {
		return 0, fmt.Errorf("variable byte integer exceeds limit")
	}
	return int(val), nil
}

// decodeVarIntBuf reads a Variable Byte Integer from a byte slice.
// Returns the decoded value and the number of bytes read.
func decodeVarIntBuf(buf []byte) (int, int, error) {
	val, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, fmt.Errorf("buffer too short for variable byte integer")
	}
	if n < 0 || n > 4 || val > maxVarInt {
		return 0, 0, fmt.Errorf("malformed variable byte integer")
	}
	return int(val), n, nil
}

// byteReader wraps an io.Reader to implement io.ByteReader
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(br.r, br.buf[:])
	return br.buf[0], err
}
