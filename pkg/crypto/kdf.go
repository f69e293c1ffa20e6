package crypto

import "encoding/binary"

// KDF counter values from TR-03110 Part 3, Section A.2.3.
const (
	// KDFCounterENC derives the secure messaging encryption key.
	KDFCounterENC uint32 = 1

	// KDFCounterMAC derives the secure messaging MAC key.
	KDFCounterMAC uint32 = 2

	// KDFCounterPassword derives the password key K_pi.
	KDFCounterPassword uint32 = 3
)

// KDF derives a key for cipher c from shared secret material.
// This implements KDF(K, c) = H(K || c) from TR-03110 Part 3, Section A.2.3.
//
// Parameters:
//   - c: The cipher the key is for; it selects the hash and output length
//   - secret: The shared secret K (or the password for K_pi)
//   - counter: The 32-bit domain separation counter, encoded big-endian
//
// SHA-1 is used for 3DES and AES-128, SHA-256 for AES-192 and AES-256.
// 3DES keys have their DES parity bits adjusted.
func KDF(c Cipher, secret []byte, counter uint32) ([]byte, error) {
	var ctr [4]byte
	binary.BigEndian.PutUint32(ctr[:], counter)

	var digest []byte
	switch c {
	case CipherTDES, CipherAES128:
		digest = SHA1(secret, ctr[:])
	case CipherAES192, CipherAES256:
		digest = SHA256(secret, ctr[:])
	default:
		return nil, ErrUnknownCipher
	}

	key := make([]byte, c.KeyLen())
	copy(key, digest)
	Zeroize(digest)

	if c == CipherTDES {
		AdjustParity(key)
	}
	return key, nil
}

// AdjustParity sets the least significant bit of every byte so that each
// byte has odd parity, as required for DES keys.
func AdjustParity(key []byte) {
	for i, b := range key {
		b &= 0xFE
		ones := 0
		for v := b; v != 0; v >>= 1 {
			ones += int(v & 1)
		}
		if ones%2 == 0 {
			b |= 0x01
		}
		key[i] = b
	}
}

// Zeroize overwrites each buffer with zeros.
func Zeroize(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}
