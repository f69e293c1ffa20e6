package crypto

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/subtle"
	"fmt"

	"github.com/aead/cmac"
)

// MAC computes the 8-byte PACE message authentication code.
// AES suites use CMAC truncated to 8 bytes (NIST SP 800-38B); the 3DES
// suite uses ISO/IEC 9797-1 MAC algorithm 3 with padding method 2.
func MAC(c Cipher, key, msg []byte) ([]byte, error) {
	switch c {
	case CipherAES128, CipherAES192, CipherAES256:
		return CMAC(c, key, msg)
	case CipherTDES:
		return RetailMAC(key, msg)
	default:
		return nil, ErrUnknownCipher
	}
}

// VerifyMAC recomputes the MAC over msg and compares it to tag in constant time.
func VerifyMAC(c Cipher, key, msg, tag []byte) bool {
	expected, err := MAC(c, key, msg)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, tag) == 1
}

// CMAC computes an AES-CMAC truncated to MACLen bytes.
func CMAC(c Cipher, key, msg []byte) ([]byte, error) {
	if c == CipherTDES {
		return nil, fmt.Errorf("%w: CMAC requires AES", ErrUnknownCipher)
	}
	block, err := c.newBlock(key)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(msg, block, MACLen)
}

// RetailMAC computes ISO/IEC 9797-1 MAC algorithm 3 over msg, padded with
// method 2, using a two-key 3DES key K1||K2: single-DES CBC under K1 with a
// final 3DES (K1, K2, K1) transformation of the last block.
func RetailMAC(key, msg []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: retail MAC wants 16 bytes, got %d", ErrKeyLength, len(key))
	}
	k1, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	k2, err := des.NewCipher(key[8:])
	if err != nil {
		return nil, err
	}

	padded := Pad(msg, des.BlockSize)
	state := make([]byte, des.BlockSize)
	cipher.NewCBCEncrypter(k1, state).CryptBlocks(padded, padded)
	copy(state, padded[len(padded)-des.BlockSize:])

	k2.Decrypt(state, state)
	k1.Encrypt(state, state)
	return state, nil
}

// Pad applies ISO/IEC 9797-1 padding method 2: a mandatory 0x80 byte
// followed by zeros up to a multiple of blockSize.
func Pad(msg []byte, blockSize int) []byte {
	n := len(msg) + 1
	if r := n % blockSize; r != 0 {
		n += blockSize - r
	}
	out := make([]byte, n)
	copy(out, msg)
	out[len(msg)] = 0x80
	return out
}
