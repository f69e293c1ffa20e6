package pace

import (
	"fmt"

	"github.com/backkem/eid/pkg/crypto"
	"github.com/backkem/eid/pkg/group"
)

// Suite bundles the symmetric primitives of a PACE protocol: password and
// session key derivation, nonce encryption and token MACs. It is shared by
// the terminal engine and the software card.
type Suite struct {
	protocol Protocol
}

// NewSuite returns the suite for p.
func NewSuite(p Protocol) *Suite {
	return &Suite{protocol: p}
}

// Protocol returns the suite's protocol.
func (s *Suite) Protocol() Protocol {
	return s.protocol
}

// Cipher returns the block cipher of the suite.
func (s *Suite) Cipher() crypto.Cipher {
	return s.protocol.Cipher
}

// NonceLen is the length of the card's nonce s: one cipher block.
func (s *Suite) NonceLen() int {
	return s.protocol.Cipher.BlockSize()
}

// PasswordKey derives K_pi from a password. MRZ passwords are hashed first.
func (s *Suite) PasswordKey(t PasswordType, password []byte) ([]byte, error) {
	secret := passwordSecret(t, password)
	defer crypto.Zeroize(secret)
	return crypto.KDF(s.protocol.Cipher, secret, crypto.KDFCounterPassword)
}

// EncryptNonce computes z = E(K_pi, s).
func (s *Suite) EncryptNonce(keyPI, nonce []byte) ([]byte, error) {
	return crypto.CBCEncrypt(s.protocol.Cipher, keyPI, nonce)
}

// DecryptNonce computes s = D(K_pi, z).
func (s *Suite) DecryptNonce(keyPI, z []byte) ([]byte, error) {
	if len(z) != s.NonceLen() {
		return nil, fmt.Errorf("pace: encrypted nonce has %d bytes, want %d", len(z), s.NonceLen())
	}
	return crypto.CBCDecrypt(s.protocol.Cipher, keyPI, z)
}

// SharedSecret performs the key agreement of step 4 and returns K.
func (s *Suite) SharedSecret(key *group.KeyPair, peer group.Element) ([]byte, error) {
	e, err := key.Agree(peer)
	if err != nil {
		return nil, err
	}
	defer group.Destroy(e)
	return e.SharedSecret(), nil
}

// SessionKeys derives K_Enc and K_MAC from K.
func (s *Suite) SessionKeys(secret []byte) (keyENC, keyMAC []byte, err error) {
	if keyENC, err = crypto.KDF(s.protocol.Cipher, secret, crypto.KDFCounterENC); err != nil {
		return nil, nil, err
	}
	if keyMAC, err = crypto.KDF(s.protocol.Cipher, secret, crypto.KDFCounterMAC); err != nil {
		crypto.Zeroize(keyENC)
		return nil, nil, err
	}
	return keyENC, keyMAC, nil
}

// IDPICC compresses the card's ephemeral public key: the x-coordinate for
// ECDH, SHA-1 of the public value for DH.
func (s *Suite) IDPICC(pub group.Element) []byte {
	if s.protocol.Agreement == group.KindEC {
		return pub.SharedSecret()
	}
	return crypto.SHA1(pub.Bytes())
}
