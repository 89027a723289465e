// Package wire implements the binary field codec used by the SysAP
// encrypted transport.
//
// Multi-byte integers are little-endian unless stated otherwise. Strings
// carry a uint32 length prefix followed by UTF-8 bytes. Blobs are raw
// bytes whose length is known to both sides.
//
// # Usage
//
//	w := wire.NewWriter()
//	w.WriteUint8(msgID)
//	w.WriteString(sessionID)
//	payload, err := w.Bytes()
//
//	r := wire.NewReader(payload)
//	id, err := r.ReadUint8()
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayloadSize is the largest string or blob either side accepts (10 MiB).
const MaxPayloadSize = 10 * 1024 * 1024

// Codec errors. All of them are protocol errors from the caller's point of view.
var (
	// ErrTruncated is returned when a read needs more bytes than remain.
	ErrTruncated = errors.New("wire: truncated message")

	// ErrTooLarge is returned when a string or blob exceeds MaxPayloadSize.
	ErrTooLarge = errors.New("wire: payload too large")

	// ErrHighWord is returned when a 64-bit field has a non-zero high word.
	ErrHighWord = errors.New("wire: uint64 high word is not zero")
)

// Reader reads fields sequentially from a byte slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Rest returns the unread bytes without advancing.
func (r *Reader) Rest() []byte {
	return r.buf[r.pos:]
}

func (r *Reader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d remain", ErrTruncated, field, n, r.Len())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint32BE reads a big-endian uint32. Only the compressed update
// envelope uses this byte order.
func (r *Reader) ReadUint32BE() (uint32, error) {
	b, err := r.take(4, "uint32be")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 reads two little-endian uint32 words, low word first. The
// protocol never carries values of 2^32 or more, so a non-zero high word
// is rejected.
func (r *Reader) ReadUint64() (uint64, error) {
	lo, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	hi, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if hi != 0 {
		return 0, fmt.Errorf("%w: 0x%08x", ErrHighWord, hi)
	}
	return uint64(lo), nil
}

// ReadString reads a uint32 length prefix followed by that many bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("%w: string length %d exceeds %d remaining", ErrTruncated, n, r.Len())
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBlob reads exactly n bytes. The returned slice is a copy.
func (r *Reader) ReadBlob(n int) ([]byte, error) {
	b, err := r.take(n, "blob")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

type field struct {
	kind  byte
	u8    uint8
	u32   uint32
	bytes []byte
}

const (
	fieldUint8 byte = iota
	fieldUint32
	fieldString
	fieldBlob
)

// Writer collects fields and serialises them in call order.
//
// Oversized strings and blobs are remembered and reported by Bytes, so
// callers can chain writes and check one error at the end.
type Writer struct {
	fields []field
	err    error
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(v uint8) *Writer {
	w.fields = append(w.fields, field{kind: fieldUint8, u8: v})
	return w
}

// WriteUint32 appends a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) *Writer {
	w.fields = append(w.fields, field{kind: fieldUint32, u32: v})
	return w
}

// WriteString appends a length-prefixed string.
func (w *Writer) WriteString(s string) *Writer {
	if len(s) > MaxPayloadSize {
		w.setErr(fmt.Errorf("%w: string of %d bytes", ErrTooLarge, len(s)))
		return w
	}
	w.fields = append(w.fields, field{kind: fieldString, bytes: []byte(s)})
	return w
}

// WriteBlob appends raw bytes without a length prefix.
func (w *Writer) WriteBlob(b []byte) *Writer {
	if len(b) > MaxPayloadSize {
		w.setErr(fmt.Errorf("%w: blob of %d bytes", ErrTooLarge, len(b)))
		return w
	}
	w.fields = append(w.fields, field{kind: fieldBlob, bytes: b})
	return w
}

func (w *Writer) setErr(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Size returns the serialised length of the fields written so far.
func (w *Writer) Size() int {
	n := 0
	for _, f := range w.fields {
		switch f.kind {
		case fieldUint8:
			n++
		case fieldUint32:
			n += 4
		case fieldString:
			n += 4 + len(f.bytes)
		case fieldBlob:
			n += len(f.bytes)
		}
	}
	return n
}

// Bytes serialises every field in call order into one buffer.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([]byte, 0, w.Size())
	for _, f := range w.fields {
		switch f.kind {
		case fieldUint8:
			out = append(out, f.u8)
		case fieldUint32:
			out = binary.LittleEndian.AppendUint32(out, f.u32)
		case fieldString:
			out = binary.LittleEndian.AppendUint32(out, uint32(len(f.bytes))) //nolint:gosec // bounded by MaxPayloadSize
			out = append(out, f.bytes...)
		case fieldBlob:
			out = append(out, f.bytes...)
		}
	}
	return out, nil
}
