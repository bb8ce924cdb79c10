package nodetx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ParseError names the field being read when a node-tx payload is
// truncated or otherwise malformed, so the caller can log precisely
// where the parse gave up before falling back to "not a node tx".
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("truncated at field %s: %s", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// cursor is a small little-endian binary reader over a node-tx payload,
// reporting which named field failed to read instead of a bare io error.
type cursor struct {
	r *bytes.Reader
}

func newCursor(b []byte) *cursor {
	return &cursor{r: bytes.NewReader(b)}
}

func (c *cursor) fail(field string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &ParseError{Field: field, Err: err}
}

func (c *cursor) readBytes(field string, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, c.fail(field, err)
	}
	return buf, nil
}

func (c *cursor) readUint8(field string) (uint8, error) {
	b, err := c.readBytes(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readInt8(field string) (int8, error) {
	b, err := c.readUint8(field)
	if err != nil {
		return 0, err
	}
	return int8(b), nil
}

func (c *cursor) readUint32LE(field string) (uint32, error) {
	b, err := c.readBytes(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// readOutpoint reads a 32-byte reversed txid followed by a 4-byte
// little-endian output index, the collateral outpoint encoding used by
// both node-start and node-confirm payloads.
func (c *cursor) readOutpoint(field string) (txid string, vout uint32, err error) {
	raw, err := c.readBytes(field+".txid", 32)
	if err != nil {
		return "", 0, err
	}
	reversed := make([]byte, 32)
	for i, b := range raw {
		reversed[31-i] = b
	}
	vout, err = c.readUint32LE(field + ".vout")
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", reversed), vout, nil
}

// readVarInt reads a variable-length integer using the canonical encoding:
// first byte <0xFD is itself; 0xFD introduces a 2-byte LE value; 0xFE a
// 4-byte LE value; 0xFF an 8-byte LE value, clamped to 32 bits since no
// node-tx field needs more.
func (c *cursor) readVarInt(field string) (uint64, error) {
	disc, err := c.readUint8(field + ".discriminant")
	if err != nil {
		return 0, err
	}
	switch disc {
	case 0xfd:
		b, err := c.readBytes(field, 2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 0xfe:
		b, err := c.readBytes(field, 4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 0xff:
		b, err := c.readBytes(field, 8)
		if err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(b)
		if v > 0xffffffff {
			return 0, c.fail(field, fmt.Errorf("varint %d exceeds the 32-bit clamp", v))
		}
		return v, nil
	default:
		return uint64(disc), nil
	}
}

const maxVarBytesLen = 1 << 20

// readVarBytes reads a varint-prefixed byte string.
func (c *cursor) readVarBytes(field string) ([]byte, error) {
	n, err := c.readVarInt(field + ".len")
	if err != nil {
		return nil, err
	}
	if n > maxVarBytesLen {
		return nil, c.fail(field, fmt.Errorf("length %d exceeds max %d", n, maxVarBytesLen))
	}
	return c.readBytes(field, int(n))
}

// readVarString reads a varint-prefixed UTF-8 string.
func (c *cursor) readVarString(field string) (string, error) {
	b, err := c.readVarBytes(field)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) remaining() int {
	return c.r.Len()
}
