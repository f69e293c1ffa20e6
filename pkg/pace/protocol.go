package pace

import (
	encoding_asn1 "encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/backkem/eid/pkg/crypto"
	"github.com/backkem/eid/pkg/group"
)

// Mapping is the domain parameter mapping of a PACE protocol.
type Mapping uint8

const (
	// MappingGeneric is the Diffie-Hellman based generic mapping.
	MappingGeneric Mapping = iota + 1
	// MappingIntegrated is the integrated mapping (not supported).
	MappingIntegrated
	// MappingChipAuthentication is generic mapping with integrated chip
	// authentication (not supported).
	MappingChipAuthentication
)

// String returns the TR-03110 abbreviation.
func (m Mapping) String() string {
	switch m {
	case MappingGeneric:
		return "GM"
	case MappingIntegrated:
		return "IM"
	case MappingChipAuthentication:
		return "CAM"
	default:
		return fmt.Sprintf("Mapping(%d)", uint8(m))
	}
}

// Object identifiers from TR-03110 Part 3, Appendix A.
var (
	// OIDPACE is id-PACE, the arc of all PACE protocol identifiers.
	OIDPACE = encoding_asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 4}

	// OIDChipAuthentication is id-CA.
	OIDChipAuthentication = encoding_asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 3}

	// OIDTerminalAuthentication is id-TA.
	OIDTerminalAuthentication = encoding_asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 2}
)

// ErrUnknownProtocol is returned for an OID outside the id-PACE arc.
var ErrUnknownProtocol = errors.New("pace: unknown protocol identifier")

// Protocol describes a PACE protocol identifier: key agreement, mapping and
// symmetric cipher.
type Protocol struct {
	OID       encoding_asn1.ObjectIdentifier
	Agreement group.Kind
	Mapping   Mapping
	Cipher    crypto.Cipher
}

// mapping arcs below id-PACE
var mappingArcs = map[int]struct {
	agreement group.Kind
	mapping   Mapping
}{
	1: {group.KindDH, MappingGeneric},
	2: {group.KindEC, MappingGeneric},
	3: {group.KindDH, MappingIntegrated},
	4: {group.KindEC, MappingIntegrated},
	6: {group.KindEC, MappingChipAuthentication},
}

// cipher arcs below the mapping arc
var cipherArcs = map[int]crypto.Cipher{
	1: crypto.CipherTDES,
	2: crypto.CipherAES128,
	3: crypto.CipherAES192,
	4: crypto.CipherAES256,
}

// LookupProtocol decodes a PACE protocol OID such as
// 0.4.0.127.0.7.2.2.4.2.2 (id-PACE-ECDH-GM-AES-CBC-CMAC-128).
func LookupProtocol(oid encoding_asn1.ObjectIdentifier) (Protocol, error) {
	if len(oid) != len(OIDPACE)+2 || !oid[:len(OIDPACE)].Equal(OIDPACE) {
		return Protocol{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, oid)
	}
	m, ok := mappingArcs[oid[len(OIDPACE)]]
	if !ok {
		return Protocol{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, oid)
	}
	c, ok := cipherArcs[oid[len(OIDPACE)+1]]
	if !ok || (m.mapping == MappingChipAuthentication && c == crypto.CipherTDES) {
		return Protocol{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, oid)
	}
	return Protocol{
		OID:       append(encoding_asn1.ObjectIdentifier(nil), oid...),
		Agreement: m.agreement,
		Mapping:   m.mapping,
		Cipher:    c,
	}, nil
}

// ProtocolOID returns the PACE OID for an agreement, mapping and cipher.
func ProtocolOID(agreement group.Kind, mapping Mapping, cipher crypto.Cipher) (encoding_asn1.ObjectIdentifier, error) {
	oid := append(encoding_asn1.ObjectIdentifier(nil), OIDPACE...)
	for arc, m := range mappingArcs {
		if m.agreement == agreement && m.mapping == mapping {
			oid = append(oid, arc)
		}
	}
	for arc, c := range cipherArcs {
		if c == cipher {
			oid = append(oid, arc)
		}
	}
	if _, err := LookupProtocol(oid); err != nil {
		return nil, err
	}
	return oid, nil
}

// String returns the TR-03110 name, e.g. "id-PACE-ECDH-GM-AES-CBC-CMAC-128".
func (p Protocol) String() string {
	suffix := "3DES-CBC-CBC"
	switch p.Cipher {
	case crypto.CipherAES128:
		suffix = "AES-CBC-CMAC-128"
	case crypto.CipherAES192:
		suffix = "AES-CBC-CMAC-192"
	case crypto.CipherAES256:
		suffix = "AES-CBC-CMAC-256"
	}
	return fmt.Sprintf("id-PACE-%s-%s-%s", p.Agreement, p.Mapping, suffix)
}

// ParseProtocol accepts a protocol name as returned by String or a dotted
// OID.
func ParseProtocol(s string) (Protocol, error) {
	for marc := range mappingArcs {
		for carc := range cipherArcs {
			oid := append(append(encoding_asn1.ObjectIdentifier(nil), OIDPACE...), marc, carc)
			p, err := LookupProtocol(oid)
			if err != nil {
				continue
			}
			if p.String() == s || oid.String() == s {
				return p, nil
			}
		}
	}
	return Protocol{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// oidContent returns the DER content octets of an OID, without tag and length.
func oidContent(oid encoding_asn1.ObjectIdentifier) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1ObjectIdentifier(oid)
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("pace: encode OID %s: %w", oid, err)
	}
	var content cryptobyte.String
	s := cryptobyte.String(der)
	if !s.ReadASN1(&content, asn1.OBJECT_IDENTIFIER) {
		return nil, fmt.Errorf("pace: encode OID %s", oid)
	}
	return content, nil
}

// parseOIDContent decodes DER content octets of an OID.
func parseOIDContent(content []byte) (encoding_asn1.ObjectIdentifier, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.OBJECT_IDENTIFIER, func(b *cryptobyte.Builder) {
		b.AddBytes(content)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	var oid encoding_asn1.ObjectIdentifier
	s := cryptobyte.String(der)
	if !s.ReadASN1ObjectIdentifier(&oid) {
		return nil, fmt.Errorf("pace: invalid OID encoding %X", content)
	}
	return oid, nil
}
