package tlv

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestTag_Properties(t *testing.T) {
	tests := []struct {
		tag         Tag
		encoded     string
		constructed bool
		class       Class
	}{
		{0x80, "80", false, ClassContext},
		{0x7C, "7C", true, ClassApplication},
		{0x7F49, "7F49", true, ClassApplication},
		{0x5F29, "5F29", false, ClassApplication},
		{0x06, "06", false, ClassUniversal},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			if got := tt.tag.Bytes(); !bytes.Equal(got, mustHex(t, tt.encoded)) {
				t.Errorf("Bytes() = %X, want %s", got, tt.encoded)
			}
			if tt.tag.Constructed() != tt.constructed {
				t.Errorf("Constructed() = %v", tt.tag.Constructed())
			}
			if tt.tag.Class() != tt.class {
				t.Errorf("Class() = %#x, want %#x", tt.tag.Class(), tt.class)
			}
		})
	}
}

func TestLength_Encoding(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "00"},
		{0x7F, "7F"},
		{0x80, "8180"},
		{0xFF, "81FF"},
		{0x100, "820100"},
		{0x10000, "83010000"},
	}
	for _, tt := range tests {
		got := appendLength(nil, tt.n)
		if !bytes.Equal(got, mustHex(t, tt.want)) {
			t.Errorf("appendLength(%d) = %X, want %s", tt.n, got, tt.want)
		}
		n, size, err := readLength(got)
		if err != nil || n != tt.n || size != len(got) {
			t.Errorf("readLength(%X) = %d, %d, %v", got, n, size, err)
		}
	}
}

func TestReader_Nested(t *testing.T) {
	// General Authenticate response carrying a mapping public key.
	data := mustHex(t, "7C0782050401020304")

	r := NewReader(data)
	if err := r.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if r.Tag() != 0x7C {
		t.Fatalf("tag = %s, want 7C", r.Tag())
	}
	if err := r.EnterContainer(); err != nil {
		t.Fatalf("EnterContainer failed: %v", err)
	}
	if err := r.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if r.Tag() != 0x82 {
		t.Fatalf("tag = %s, want 82", r.Tag())
	}
	v, err := r.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(v, mustHex(t, "0401020304")) {
		t.Errorf("value = %X", v)
	}
	if err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if err := r.ExitContainer(); err != nil {
		t.Fatalf("ExitContainer failed: %v", err)
	}
	if err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at top level, got %v", err)
	}
	if err := r.ExitContainer(); !errors.Is(err, ErrNotInContainer) {
		t.Errorf("expected ErrNotInContainer, got %v", err)
	}
}

func TestReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"truncated value", "800301", ErrUnexpectedEOF},
		{"truncated tag", "7F", ErrUnexpectedEOF},
		{"indefinite length", "8080", ErrInvalidLength},
		{"long tag", "7F80808001", ErrInvalidTag},
		{"truncated long length", "8082", ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(mustHex(t, tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}

	r := NewReader(mustHex(t, "800101"))
	if _, err := r.Bytes(); !errors.Is(err, ErrNoElement) {
		t.Errorf("expected ErrNoElement, got %v", err)
	}
	_ = r.Next()
	if err := r.EnterContainer(); !errors.Is(err, ErrNotConstructed) {
		t.Errorf("expected ErrNotConstructed, got %v", err)
	}
}

func TestWriter_Containers(t *testing.T) {
	w := NewWriter()
	if err := w.StartContainer(0x7F49); err != nil {
		t.Fatalf("StartContainer failed: %v", err)
	}
	w.PutBytes(0x06, mustHex(t, "04007F00070202040202"))
	w.PutBytes(0x86, bytes.Repeat([]byte{0xAB}, 65))
	if err := w.EndContainer(); err != nil {
		t.Fatalf("EndContainer failed: %v", err)
	}
	got, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	if !bytes.HasPrefix(got, mustHex(t, "7F494F060A04007F000702020402028641AB")) {
		t.Errorf("encoding = %X", got)
	}
	if len(got) != 3+0x4F {
		t.Errorf("len = %d, want %d", len(got), 3+0x4F)
	}

	children, err := ParseContainer(got, 0x7F49)
	if err != nil {
		t.Fatalf("ParseContainer failed: %v", err)
	}
	if v, ok := Find(children, 0x86); !ok || len(v) != 65 {
		t.Errorf("Find(86) = %d bytes, %v", len(v), ok)
	}
}

func TestWriter_Errors(t *testing.T) {
	w := NewWriter()
	if err := w.StartContainer(0x80); !errors.Is(err, ErrNotConstructed) {
		t.Errorf("expected ErrNotConstructed, got %v", err)
	}
	if err := w.EndContainer(); !errors.Is(err, ErrNotInContainer) {
		t.Errorf("expected ErrNotInContainer, got %v", err)
	}
	_ = w.StartContainer(0x7C)
	if _, err := w.Bytes(); !errors.Is(err, ErrContainerNotClosed) {
		t.Errorf("expected ErrContainerNotClosed, got %v", err)
	}
}

func TestEncode(t *testing.T) {
	got := Encode(0x7C, Encode(0x81, []byte{1, 2}), Encode(0x83, nil))
	if want := mustHex(t, "7C06810201028300"); !bytes.Equal(got, want) {
		t.Errorf("Encode = %X, want %X", got, want)
	}
	if got := Encode(0x7C); !bytes.Equal(got, []byte{0x7C, 0x00}) {
		t.Errorf("Encode(empty) = %X", got)
	}
	long := Encode(0x84, make([]byte, 256))
	if !bytes.HasPrefix(long, mustHex(t, "84820100")) {
		t.Errorf("long form = %X", long[:4])
	}
}

func TestParseContainer_WrongTag(t *testing.T) {
	if _, err := ParseContainer(mustHex(t, "7D00"), 0x7C); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
