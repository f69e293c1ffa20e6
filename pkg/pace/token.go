package pace

import (
	"github.com/backkem/eid/pkg/crypto"
	"github.com/backkem/eid/pkg/group"
	"github.com/backkem/eid/pkg/tlv"
)

// AuthResponse is the card's answer to the mutual authentication step.
type AuthResponse struct {
	Token []byte

	// CAR and PreviousCAR are the certificate authority references of the
	// card's trust anchors. They are only sent when a CHAT was supplied.
	CAR         []byte
	PreviousCAR []byte
}

// PublicKeyData encodes an ephemeral public key as the token input
// 7F49 { 06 protocol-OID, 86 point } (ECDH) or 7F49 { 06 protocol-OID, 84 y } (DH).
func (s *Suite) PublicKeyData(pub []byte) ([]byte, error) {
	oid, err := oidContent(s.protocol.OID)
	if err != nil {
		return nil, err
	}
	keyTag := tagECPublicPoint
	if s.protocol.Agreement == group.KindDH {
		keyTag = tagDHPublicValue
	}
	return tlv.Encode(tagPublicKey,
		tlv.Encode(tagOID, oid),
		tlv.Encode(keyTag, pub),
	), nil
}

// Token computes the authentication token MAC(K_MAC, PublicKeyData(peer)).
func (s *Suite) Token(keyMAC, peerPublicKey []byte) ([]byte, error) {
	data, err := s.PublicKeyData(peerPublicKey)
	if err != nil {
		return nil, err
	}
	return crypto.MAC(s.protocol.Cipher, keyMAC, data)
}

// VerifyToken checks the card's token against the terminal's own public key.
// With expectCHAT the response must also carry the card's CAR.
// Any failure yields false.
func (s *Suite) VerifyToken(keyMAC []byte, resp AuthResponse, ownPublicKey []byte, expectCHAT bool) bool {
	if expectCHAT && len(resp.CAR) == 0 {
		return false
	}
	if len(resp.Token) != crypto.MACLen {
		return false
	}
	data, err := s.PublicKeyData(ownPublicKey)
	if err != nil {
		return false
	}
	return crypto.VerifyMAC(s.protocol.Cipher, keyMAC, data, resp.Token)
}
