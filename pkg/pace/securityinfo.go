package pace

import (
	encoding_asn1 "encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/backkem/eid/pkg/group"
)

// ParameterIDAbsent marks a PACEInfo without a parameterId.
const ParameterIDAbsent = -1

// maxStandardParameterID is the last standardized domain parameter ID;
// 32 to 63 are proprietary.
const maxStandardParameterID = 31

// Security info errors.
var (
	ErrMalformedCardAccess = errors.New("pace: malformed EF.CardAccess")
	ErrNoPACEInfo          = errors.New("pace: no PACEInfo in EF.CardAccess")
)

// PACEInfo announces a PACE protocol supported by the card.
type PACEInfo struct {
	Protocol Protocol

	// Version is 2 for TR-03110 version 2 cards.
	Version int

	// ParameterID is the domain parameter ID, ParameterIDAbsent if omitted.
	ParameterID int
}

// Standardized reports whether ParameterID refers to standardized domain
// parameters.
func (i PACEInfo) Standardized() bool {
	return i.ParameterID >= 0 && i.ParameterID <= maxStandardParameterID
}

// PACEDomainParameterInfo carries explicit (proprietary) domain parameters.
type PACEDomainParameterInfo struct {
	// OID is the agreement and mapping arc, e.g. id-PACE-ECDH-GM.
	OID encoding_asn1.ObjectIdentifier

	// Parameters is the DER AlgorithmIdentifier of the domain parameters.
	Parameters []byte

	ParameterID int
}

// SecurityInfo is an entry of EF.CardAccess that is not PACE related.
type SecurityInfo struct {
	OID encoding_asn1.ObjectIdentifier
	Raw []byte
}

// SecurityInfoPair is the security parameter set a PACE session runs with.
type SecurityInfoPair struct {
	Info PACEInfo

	// DomainParameters is set when Info refers to proprietary parameters.
	DomainParameters *PACEDomainParameterInfo
}

// NewSecurityInfo builds a pair for a protocol OID and a standardized
// domain parameter ID.
func NewSecurityInfo(oid encoding_asn1.ObjectIdentifier, parameterID int) (SecurityInfoPair, error) {
	p, err := LookupProtocol(oid)
	if err != nil {
		return SecurityInfoPair{}, err
	}
	return SecurityInfoPair{Info: PACEInfo{Protocol: p, Version: 2, ParameterID: parameterID}}, nil
}

// Kind returns the algorithm family of the pair.
func (s SecurityInfoPair) Kind() group.Kind {
	return s.Info.Protocol.Agreement
}

// CardAccess is the parsed content of EF.CardAccess.
type CardAccess struct {
	Raw              []byte
	PACE             []PACEInfo
	DomainParameters []PACEDomainParameterInfo
	Other            []SecurityInfo
}

// ParseCardAccess parses the DER SecurityInfos of EF.CardAccess.
// Entries with unknown OIDs are kept in Other.
func ParseCardAccess(der []byte) (*CardAccess, error) {
	s := cryptobyte.String(der)
	var set cryptobyte.String
	if !s.ReadASN1(&set, asn1.SET) || !s.Empty() {
		return nil, fmt.Errorf("%w: expected SET", ErrMalformedCardAccess)
	}

	ca := &CardAccess{Raw: append([]byte(nil), der...)}
	for !set.Empty() {
		var raw, body cryptobyte.String
		if !set.ReadASN1Element(&raw, asn1.SEQUENCE) {
			return nil, fmt.Errorf("%w: expected SEQUENCE", ErrMalformedCardAccess)
		}
		elem := raw
		var oid encoding_asn1.ObjectIdentifier
		if !elem.ReadASN1(&body, asn1.SEQUENCE) || !body.ReadASN1ObjectIdentifier(&oid) {
			return nil, fmt.Errorf("%w: expected protocol OID", ErrMalformedCardAccess)
		}

		switch {
		case isPACEInfo(oid):
			info, err := parsePACEInfo(oid, body)
			if err != nil {
				return nil, err
			}
			ca.PACE = append(ca.PACE, info)
		case isPACEDomainParameterInfo(oid):
			dp, err := parsePACEDomainParameterInfo(oid, body)
			if err != nil {
				return nil, err
			}
			ca.DomainParameters = append(ca.DomainParameters, dp)
		default:
			ca.Other = append(ca.Other, SecurityInfo{OID: oid, Raw: append([]byte(nil), raw...)})
		}
	}
	return ca, nil
}

func isPACEInfo(oid encoding_asn1.ObjectIdentifier) bool {
	if len(oid) != len(OIDPACE)+2 || !oid[:len(OIDPACE)].Equal(OIDPACE) {
		return false
	}
	_, err := LookupProtocol(oid)
	return err == nil
}

func isPACEDomainParameterInfo(oid encoding_asn1.ObjectIdentifier) bool {
	if len(oid) != len(OIDPACE)+1 || !oid[:len(OIDPACE)].Equal(OIDPACE) {
		return false
	}
	_, ok := mappingArcs[oid[len(OIDPACE)]]
	return ok
}

func parsePACEInfo(oid encoding_asn1.ObjectIdentifier, body cryptobyte.String) (PACEInfo, error) {
	p, err := LookupProtocol(oid)
	if err != nil {
		return PACEInfo{}, err
	}
	info := PACEInfo{Protocol: p, ParameterID: ParameterIDAbsent}
	if !body.ReadASN1Integer(&info.Version) {
		return PACEInfo{}, fmt.Errorf("%w: PACEInfo version", ErrMalformedCardAccess)
	}
	if !body.Empty() {
		if !body.ReadASN1Integer(&info.ParameterID) || info.ParameterID < 0 {
			return PACEInfo{}, fmt.Errorf("%w: PACEInfo parameterId", ErrMalformedCardAccess)
		}
	}
	if !body.Empty() {
		return PACEInfo{}, fmt.Errorf("%w: trailing data in PACEInfo", ErrMalformedCardAccess)
	}
	return info, nil
}

func parsePACEDomainParameterInfo(oid encoding_asn1.ObjectIdentifier, body cryptobyte.String) (PACEDomainParameterInfo, error) {
	dp := PACEDomainParameterInfo{OID: oid, ParameterID: ParameterIDAbsent}
	var params cryptobyte.String
	if !body.ReadASN1Element(&params, asn1.SEQUENCE) {
		return dp, fmt.Errorf("%w: PACEDomainParameterInfo parameters", ErrMalformedCardAccess)
	}
	dp.Parameters = append([]byte(nil), params...)
	if !body.Empty() {
		if !body.ReadASN1Integer(&dp.ParameterID) || !body.Empty() {
			return dp, fmt.Errorf("%w: PACEDomainParameterInfo parameterId", ErrMalformedCardAccess)
		}
	}
	return dp, nil
}

// Select returns the first PACEInfo using generic mapping over standardized
// domain parameters. Without one it falls back to the first PACEInfo, so that
// the engine reports why it cannot run it.
func (ca *CardAccess) Select() (SecurityInfoPair, error) {
	if len(ca.PACE) == 0 {
		return SecurityInfoPair{}, ErrNoPACEInfo
	}
	for _, info := range ca.PACE {
		if info.Protocol.Mapping == MappingGeneric && info.Standardized() {
			return SecurityInfoPair{Info: info}, nil
		}
	}
	info := ca.PACE[0]
	pair := SecurityInfoPair{Info: info}
	for i := range ca.DomainParameters {
		dp := &ca.DomainParameters[i]
		if dp.ParameterID == info.ParameterID || len(ca.DomainParameters) == 1 {
			pair.DomainParameters = dp
			break
		}
	}
	return pair, nil
}

// Marshal returns the DER encoding of the PACEInfo.
func (i PACEInfo) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	i.marshal(&b)
	return b.Bytes()
}

func (i PACEInfo) marshal(b *cryptobyte.Builder) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(i.Protocol.OID)
		b.AddASN1Int64(int64(i.Version))
		if i.ParameterID != ParameterIDAbsent {
			b.AddASN1Int64(int64(i.ParameterID))
		}
	})
}

// MarshalCardAccess encodes PACEInfos as the SecurityInfos of EF.CardAccess.
func MarshalCardAccess(infos ...PACEInfo) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
		for _, info := range infos {
			info.marshal(b)
		}
	})
	return b.Bytes()
}
