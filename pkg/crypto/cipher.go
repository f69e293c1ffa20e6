package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"fmt"
)

// Cipher identifies the symmetric algorithm of a PACE cipher suite.
type Cipher uint8

const (
	// CipherTDES is two-key 3DES in CBC mode with retail MAC.
	CipherTDES Cipher = iota + 1
	// CipherAES128 is AES-128 in CBC mode with CMAC.
	CipherAES128
	// CipherAES192 is AES-192 in CBC mode with CMAC.
	CipherAES192
	// CipherAES256 is AES-256 in CBC mode with CMAC.
	CipherAES256
)

// MACLen is the length of every PACE MAC and authentication token.
const MACLen = 8

var (
	// ErrUnknownCipher is returned for a Cipher value outside the defined set.
	ErrUnknownCipher = errors.New("crypto: unknown cipher")

	// ErrKeyLength is returned when a key does not match the cipher's key length.
	ErrKeyLength = errors.New("crypto: invalid key length")

	// ErrBlockLength is returned when CBC input is not a multiple of the block size.
	ErrBlockLength = errors.New("crypto: input not a multiple of the block size")
)

// String returns the cipher name.
func (c Cipher) String() string {
	switch c {
	case CipherTDES:
		return "3DES"
	case CipherAES128:
		return "AES-128"
	case CipherAES192:
		return "AES-192"
	case CipherAES256:
		return "AES-256"
	default:
		return fmt.Sprintf("Cipher(%d)", uint8(c))
	}
}

// KeyLen returns the derived key length in bytes.
func (c Cipher) KeyLen() int {
	switch c {
	case CipherTDES, CipherAES128:
		return 16
	case CipherAES192:
		return 24
	case CipherAES256:
		return 32
	default:
		return 0
	}
}

// BlockSize returns the block size in bytes, which is also the PACE nonce length.
func (c Cipher) BlockSize() int {
	switch c {
	case CipherTDES:
		return des.BlockSize
	case CipherAES128, CipherAES192, CipherAES256:
		return aes.BlockSize
	default:
		return 0
	}
}

func (c Cipher) newBlock(key []byte) (cipher.Block, error) {
	if c.KeyLen() == 0 {
		return nil, ErrUnknownCipher
	}
	if len(key) != c.KeyLen() {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrKeyLength, c, c.KeyLen(), len(key))
	}
	if c == CipherTDES {
		k := expandTDESKey(key)
		defer Zeroize(k)
		return des.NewTripleDESCipher(k)
	}
	return aes.NewCipher(key)
}

// expandTDESKey turns a two-key 3DES key K1||K2 into K1||K2||K1.
func expandTDESKey(key []byte) []byte {
	k := make([]byte, 0, 24)
	k = append(k, key...)
	return append(k, key[:8]...)
}

// CBCEncrypt encrypts data in CBC mode with an all-zero IV and no padding.
// This is the nonce encryption E(K_pi, s) of the card side of PACE.
func CBCEncrypt(c Cipher, key, data []byte) ([]byte, error) {
	block, err := c.newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, ErrBlockLength
	}
	out := make([]byte, len(data))
	iv := make([]byte, block.BlockSize())
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// CBCDecrypt decrypts data in CBC mode with an all-zero IV and no padding.
// This recovers the PACE nonce s = D(K_pi, z).
func CBCDecrypt(c Cipher, key, data []byte) ([]byte, error) {
	block, err := c.newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, ErrBlockLength
	}
	out := make([]byte, len(data))
	iv := make([]byte, block.BlockSize())
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}
