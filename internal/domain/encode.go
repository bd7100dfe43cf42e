package domain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Record layouts are fixed-schema binary: addresses as raw 32 bytes,
// integers little-endian, strings u16-length-prefixed. Addresses travel as
// base58 strings everywhere else; an empty string encodes as 32 zero bytes.

var errShortData = errors.New("record data truncated")

var zeroAddress [32]byte

// Encoder builds record data.
type Encoder struct {
	buf []byte
	err error
}

// Bytes returns the encoded record, or an error if any field was invalid.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Address appends a base58 address as raw 32 bytes.
func (e *Encoder) Address(addr string) {
	if e.err != nil {
		return
	}
	if addr == "" {
		e.buf = append(e.buf, zeroAddress[:]...)
		return
	}
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		e.err = fmt.Errorf("encode address %q: not a 32-byte base58 value", addr)
		return
	}
	e.buf = append(e.buf, raw...)
}

// String appends a u16-length-prefixed string.
func (e *Encoder) String(s string) {
	if e.err != nil {
		return
	}
	if len(s) > 0xffff {
		e.err = fmt.Errorf("encode string: length %d overflows u16", len(s))
		return
	}
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
}

// U64 appends a little-endian uint64.
func (e *Encoder) U64(v uint64) {
	if e.err == nil {
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	}
}

// U16 appends a little-endian uint16.
func (e *Encoder) U16(v uint16) {
	if e.err == nil {
		e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	}
}

// U8 appends a single byte.
func (e *Encoder) U8(v byte) {
	if e.err == nil {
		e.buf = append(e.buf, v)
	}
}

// Bool appends a single 0/1 byte.
func (e *Encoder) Bool(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	e.U8(b)
}

// Decoder reads record data. Errors are sticky; check Err after decoding.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder wraps record data for decoding.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// Err returns the first decoding error, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = errShortData
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// Address reads 32 raw bytes as a base58 address; zero bytes decode as "".
func (d *Decoder) Address() string {
	raw := d.take(32)
	if raw == nil {
		return ""
	}
	if [32]byte(raw) == zeroAddress {
		return ""
	}
	return base58.Encode(raw)
}

// String reads a u16-length-prefixed string.
func (d *Decoder) String() string {
	n := d.U16()
	b := d.take(int(n))
	return string(b)
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// U16 reads a little-endian uint16.
func (d *Decoder) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U8 reads a single byte.
func (d *Decoder) U8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a single 0/1 byte.
func (d *Decoder) Bool() bool { return d.U8() != 0 }
