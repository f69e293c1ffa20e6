package pace

import (
	encoding_asn1 "encoding/asn1"
	"errors"
	"fmt"

	"github.com/backkem/eid/pkg/tlv"
)

// Terminal type OIDs (TR-03110 Part 3, C.4).
var (
	OIDInspectionSystem       = encoding_asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 3, 1, 2, 1}
	OIDAuthenticationTerminal = encoding_asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 3, 1, 2, 2}
	OIDSignatureTerminal      = encoding_asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 3, 1, 2, 3}
)

// Relative authorization lengths per terminal type.
var rightsLen = map[string]int{
	OIDInspectionSystem.String():       1,
	OIDAuthenticationTerminal.String(): 5,
	OIDSignatureTerminal.String():      1,
}

// ErrInvalidCHAT is returned when a CHAT cannot be decoded.
var ErrInvalidCHAT = errors.New("pace: invalid CHAT")

// CHAT is a Certificate Holder Authorization Template: a terminal type and
// the relative authorization bit mask it requests.
type CHAT struct {
	Terminal encoding_asn1.ObjectIdentifier
	Rights   []byte
}

// Encode returns 7F4C { 06 terminal-type, 53 rights }.
func (c CHAT) Encode() ([]byte, error) {
	if n, ok := rightsLen[c.Terminal.String()]; ok && len(c.Rights) != n {
		return nil, fmt.Errorf("%w: %s expects %d bytes of rights, got %d",
			ErrInvalidCHAT, c.Terminal, n, len(c.Rights))
	}
	oid, err := oidContent(c.Terminal)
	if err != nil {
		return nil, err
	}
	return tlv.Encode(tagCHAT,
		tlv.Encode(tagOID, oid),
		tlv.Encode(tagDiscretionary, c.Rights),
	), nil
}

// ParseCHAT decodes an encoded CHAT.
func ParseCHAT(b []byte) (CHAT, error) {
	elems, err := tlv.ParseContainer(b, tagCHAT)
	if err != nil {
		return CHAT{}, fmt.Errorf("%w: %w", ErrInvalidCHAT, err)
	}
	oidBytes, ok := tlv.Find(elems, tagOID)
	if !ok {
		return CHAT{}, fmt.Errorf("%w: missing terminal type", ErrInvalidCHAT)
	}
	rights, ok := tlv.Find(elems, tagDiscretionary)
	if !ok {
		return CHAT{}, fmt.Errorf("%w: missing relative authorization", ErrInvalidCHAT)
	}
	oid, err := parseOIDContent(oidBytes)
	if err != nil {
		return CHAT{}, fmt.Errorf("%w: %w", ErrInvalidCHAT, err)
	}
	return CHAT{Terminal: oid, Rights: append([]byte(nil), rights...)}, nil
}

// Has reports whether the bit at index (0 is the least significant bit of
// the last byte) is set.
func (c CHAT) Has(index int) bool {
	i := len(c.Rights) - 1 - index/8
	if index < 0 || i < 0 {
		return false
	}
	return c.Rights[i]&(1<<(index%8)) != 0
}
