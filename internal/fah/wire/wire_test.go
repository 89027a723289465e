package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriterBytes(t *testing.T) {
	w := NewWriter().
		WriteUint8(0x10).
		WriteUint32(0x01020304).
		WriteString("ab").
		WriteBlob([]byte{0xAA, 0xBB})

	got, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	want := []byte{
		0x10,
		0x04, 0x03, 0x02, 0x01,
		0x02, 0x00, 0x00, 0x00, 'a', 'b',
		0xAA, 0xBB,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}
	if w.Size() != len(want) {
		t.Errorf("Size() = %d, want %d", w.Size(), len(want))
	}
}

func TestRoundTrip(t *testing.T) {
	w := NewWriter().
		WriteUint8(7).
		WriteUint32(4294967295).
		WriteString("").
		WriteString("ABB700D12345/ch0003").
		WriteBlob([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	r := NewReader(data)
	u8, err := r.ReadUint8()
	if err != nil || u8 != 7 {
		t.Fatalf("ReadUint8() = %d, %v", u8, err)
	}
	u32, err := r.ReadUint32()
	if err != nil || u32 != 4294967295 {
		t.Fatalf("ReadUint32() = %d, %v", u32, err)
	}
	s, err := r.ReadString()
	if err != nil || s != "" {
		t.Fatalf("ReadString() = %q, %v", s, err)
	}
	s, err = r.ReadString()
	if err != nil || s != "ABB700D12345/ch0003" {
		t.Fatalf("ReadString() = %q, %v", s, err)
	}
	blob, err := r.ReadBlob(8)
	if err != nil || !bytes.Equal(blob, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("ReadBlob() = %x, %v", blob, err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestReaderTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"uint8 empty", nil, func(r *Reader) error { _, err := r.ReadUint8(); return err }},
		{"uint16 short", []byte{1}, func(r *Reader) error { _, err := r.ReadUint16(); return err }},
		{"uint32 short", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.ReadUint32(); return err }},
		{"uint32be short", []byte{1, 2}, func(r *Reader) error { _, err := r.ReadUint32BE(); return err }},
		{"uint64 short", []byte{1, 0, 0, 0, 0}, func(r *Reader) error { _, err := r.ReadUint64(); return err }},
		{"blob short", []byte{1, 2}, func(r *Reader) error { _, err := r.ReadBlob(3); return err }},
		{"string no prefix", []byte{5, 0}, func(r *Reader) error { _, err := r.ReadString(); return err }},
		{
			"string length exceeds buffer",
			[]byte{5, 0, 0, 0, 'a', 'b'},
			func(r *Reader) error { _, err := r.ReadString(); return err },
		},
		{
			"string huge length",
			[]byte{0xFF, 0xFF, 0xFF, 0xFF, 'a'},
			func(r *Reader) error { _, err := r.ReadString(); return err },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.data))
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("error = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestReadUint64(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    uint64
		wantErr error
	}{
		{"zero", []byte{0, 0, 0, 0, 0, 0, 0, 0}, 0, nil},
		{"low word", []byte{0x2A, 0x01, 0, 0, 0, 0, 0, 0}, 0x012A, nil},
		{"max low word", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0}, 0xFFFFFFFF, nil},
		{"high word set", []byte{1, 0, 0, 0, 1, 0, 0, 0}, 0, ErrHighWord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReader(tt.data).ReadUint64()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReadUint64() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadUint32BE(t *testing.T) {
	got, err := NewReader([]byte{0x00, 0x00, 0x01, 0x02}).ReadUint32BE()
	if err != nil {
		t.Fatalf("ReadUint32BE() error = %v", err)
	}
	if got != 0x0102 {
		t.Errorf("ReadUint32BE() = %d, want %d", got, 0x0102)
	}
}

func TestReadUint16(t *testing.T) {
	got, err := NewReader([]byte{0x03, 0x00}).ReadUint16()
	if err != nil || got != 3 {
		t.Errorf("ReadUint16() = %d, %v, want 3", got, err)
	}
}

func TestWriterTooLarge(t *testing.T) {
	big := strings.Repeat("x", MaxPayloadSize+1)

	if _, err := NewWriter().WriteString(big).Bytes(); !errors.Is(err, ErrTooLarge) {
		t.Errorf("WriteString() error = %v, want ErrTooLarge", err)
	}
	if _, err := NewWriter().WriteBlob([]byte(big)).Bytes(); !errors.Is(err, ErrTooLarge) {
		t.Errorf("WriteBlob() error = %v, want ErrTooLarge", err)
	}

	// Exactly at the limit is fine.
	if _, err := NewWriter().WriteBlob(make([]byte, MaxPayloadSize)).Bytes(); err != nil {
		t.Errorf("WriteBlob(max) error = %v", err)
	}
}

func TestReadBlobCopies(t *testing.T) {
	data := []byte{1, 2, 3}
	blob, err := NewReader(data).ReadBlob(3)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 9
	if blob[0] != 1 {
		t.Errorf("ReadBlob() aliases input buffer")
	}
}
