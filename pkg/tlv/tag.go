// Package tlv implements the BER-TLV encoding of ISO/IEC 7816-4 data objects.
//
// Tags are kept in their encoded form, so the two-byte tag 7F49 is Tag(0x7F49)
// and the one-byte tag 7C is Tag(0x7C). Lengths use the definite short and
// long forms; indefinite lengths are rejected.
package tlv

import (
	"fmt"
)

// Tag is a BER-TLV tag stored as its big-endian encoded octets.
type Tag uint32

// Class is the tag class from bits 8-7 of the first tag octet.
type Class uint8

// Tag classes.
const (
	ClassUniversal   Class = 0x00
	ClassApplication Class = 0x40
	ClassContext     Class = 0x80
	ClassPrivate     Class = 0xC0
)

const (
	constructedBit = 0x20
	highTagMask    = 0x1F
	moreOctetsBit  = 0x80
)

// Bytes returns the encoded tag octets.
func (t Tag) Bytes() []byte {
	switch {
	case t > 0xFFFFFF:
		return []byte{byte(t >> 24), byte(t >> 16), byte(t >> 8), byte(t)}
	case t > 0xFFFF:
		return []byte{byte(t >> 16), byte(t >> 8), byte(t)}
	case t > 0xFF:
		return []byte{byte(t >> 8), byte(t)}
	default:
		return []byte{byte(t)}
	}
}

// first returns the leading tag octet.
func (t Tag) first() byte {
	return t.Bytes()[0]
}

// Constructed reports whether the data object holds nested data objects.
func (t Tag) Constructed() bool {
	return t.first()&constructedBit != 0
}

// Class returns the tag class.
func (t Tag) Class() Class {
	return Class(t.first() & 0xC0)
}

// String returns the tag in hex, e.g. "7F49".
func (t Tag) String() string {
	return fmt.Sprintf("%X", t.Bytes())
}

// readTag parses a tag from the start of b and returns it with its length.
func readTag(b []byte) (Tag, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrUnexpectedEOF
	}
	t := Tag(b[0])
	if b[0]&highTagMask != highTagMask {
		return t, 1, nil
	}
	for i := 1; ; i++ {
		if i >= len(b) {
			return 0, 0, ErrUnexpectedEOF
		}
		if i > 3 {
			return 0, 0, ErrInvalidTag
		}
		t = t<<8 | Tag(b[i])
		if b[i]&moreOctetsBit == 0 {
			return t, i + 1, nil
		}
	}
}

// readLength parses a definite length from the start of b.
func readLength(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrUnexpectedEOF
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, nil
	}
	n := int(b[0] & 0x7F)
	if n == 0 || n > 3 {
		return 0, 0, ErrInvalidLength
	}
	if len(b) < 1+n {
		return 0, 0, ErrUnexpectedEOF
	}
	length := 0
	for _, v := range b[1 : 1+n] {
		length = length<<8 | int(v)
	}
	return length, 1 + n, nil
}

// appendLength appends the shortest definite length encoding of n.
func appendLength(dst []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(dst, byte(n))
	case n <= 0xFF:
		return append(dst, 0x81, byte(n))
	case n <= 0xFFFF:
		return append(dst, 0x82, byte(n>>8), byte(n))
	default:
		return append(dst, 0x83, byte(n>>16), byte(n>>8), byte(n))
	}
}
