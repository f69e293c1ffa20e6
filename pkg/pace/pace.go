// Package pace implements the terminal side of Password Authenticated
// Connection Establishment (PACE).
//
// PACE establishes secure messaging keys between a terminal (PCD) and a
// smart card (PICC) from a short password (MRZ, CAN, PIN or PUK) that never
// crosses the wire. It runs over ISO 7816-4 APDUs.
//
// See BSI TR-03110 Part 2, Section 3.2 and Part 3, Appendix B.
//
// # Protocol Flow
//
//	Terminal (PCD)                              Card (PICC)
//	--------------                              -----------
//	MSE:Set AT(OID, pw ref, [param ID], [CHAT]) ------>
//	                                            <------ 9000 / 63Cx / 6283
//	GA 7C{}                                     ------>
//	                                            <------ 7C{80 z = E(K_pi, s)}
//	s = D(K_pi, z)
//	GA 7C{81 PKmap_PCD}                         ------>
//	                                            <------ 7C{82 PKmap_PICC}
//	G~ = s*G + SKmap_PCD*PKmap_PICC
//	GA 7C{83 PK_PCD}                            ------>
//	                                            <------ 7C{84 PK_PICC}
//	K = KA(SK_PCD, PK_PICC), K_enc, K_mac = KDF(K, 1), KDF(K, 2)
//	GA 7C{85 T_PCD = MAC(K_mac, PK_PICC)}       ------>
//	                                            <------ 7C{86 T_PICC, [87 CAR], [88 CAR']}
//	verify T_PICC = MAC(K_mac, PK_PCD)
//
// # Usage
//
//	ca, _ := pace.ParseCardAccess(efCardAccess)
//	pair, _ := ca.Select()
//	engine, err := pace.NewEngine(pace.Config{
//		Transport:    reader,
//		Slot:         slot,
//		SecurityInfo: pair,
//	})
//	result, err := engine.Execute(ctx, []byte("123456"), pace.PasswordPIN, nil)
//	if errors.Is(err, pace.ErrPasswordError) {
//		// re-prompt, showing the retry counter
//	}
//	// result.KeyENC, result.KeyMAC feed secure messaging
//
// An Engine is single use. Construct a new one for every attempt.
package pace

import "github.com/backkem/eid/pkg/tlv"

// APDU header values.
const (
	insManageSecurityEnvironment byte = 0x22
	insGeneralAuthenticate       byte = 0x86

	// p1SetAT selects "set for internal and external authentication".
	p1SetAT byte = 0xC1
	// p2AT is the authentication template control reference.
	p2AT byte = 0xA4
)

// MSE:Set AT data objects.
const (
	tagCryptographicMechanism tlv.Tag = 0x80
	tagPasswordReference      tlv.Tag = 0x83
	tagPrivateKeyReference    tlv.Tag = 0x84
	tagCHAT                   tlv.Tag = 0x7F4C
)

// General Authenticate data objects.
const (
	TagDynamicAuthData  tlv.Tag = 0x7C
	TagEncryptedNonce   tlv.Tag = 0x80
	TagMappingDataPCD   tlv.Tag = 0x81
	TagMappingDataPICC  tlv.Tag = 0x82
	TagEphemeralKeyPCD  tlv.Tag = 0x83
	TagEphemeralKeyPICC tlv.Tag = 0x84
	TagAuthTokenPCD     tlv.Tag = 0x85
	TagAuthTokenPICC    tlv.Tag = 0x86
	TagCAR              tlv.Tag = 0x87
	TagPreviousCAR      tlv.Tag = 0x88
)

// Public key data objects (TR-03110 Part 3, D.3).
const (
	tagPublicKey     tlv.Tag = 0x7F49
	tagOID           tlv.Tag = 0x06
	tagDHPublicValue tlv.Tag = 0x84
	tagECPublicPoint tlv.Tag = 0x86
	tagDiscretionary tlv.Tag = 0x53
)

// MaxRetryCounter is the retry counter of a PIN that has not been mistyped.
const MaxRetryCounter = 3

// RetryCounterUnknown marks a retry counter the card did not report.
const RetryCounterUnknown = -1
