// Package crypto provides the symmetric primitives used by PACE.
// This implements the key derivation, nonce encryption and message
// authentication functions of BSI TR-03110 Part 3, Appendix A.2.3 and F.
package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
)

// Digest output lengths.
const (
	// SHA1LenBytes is the SHA-1 output length in bytes.
	SHA1LenBytes = 20

	// SHA256LenBytes is the SHA-256 output length in bytes.
	SHA256LenBytes = 32
)

// SHA1 computes the SHA-1 hash of the concatenation of parts.
// SHA-1 is mandated by TR-03110 for the 3DES and AES-128 key derivation
// and for the MRZ password.
func SHA1(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SHA256 computes the SHA-256 hash of the concatenation of parts.
func SHA256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
