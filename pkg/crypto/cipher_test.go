package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestCBC_NonceDecryption(t *testing.T) {
	// Encrypted nonce z and nonce s from the TR-03110 worked example.
	key := mustHex(t, "89DED1B26624EC1E634C1989302849DD")
	z := mustHex(t, "95A3A016522EE98D01E76CB6B98B42C3")
	s := mustHex(t, "3F00C4D39D153F2B2A214A078D899B22")

	got, err := CBCDecrypt(CipherAES128, key, z)
	if err != nil {
		t.Fatalf("CBCDecrypt failed: %v", err)
	}
	if !bytes.Equal(got, s) {
		t.Errorf("s = %X, want %X", got, s)
	}

	back, err := CBCEncrypt(CipherAES128, key, s)
	if err != nil {
		t.Fatalf("CBCEncrypt failed: %v", err)
	}
	if !bytes.Equal(back, z) {
		t.Errorf("z = %X, want %X", back, z)
	}
}

func TestCBC_TDES(t *testing.T) {
	key := mustHex(t, "F4F1E35D0D7061EF6725EF513B0D9B7F")
	s := mustHex(t, "3F00C4D39D153F2B")

	z, err := CBCEncrypt(CipherTDES, key, s)
	if err != nil {
		t.Fatalf("CBCEncrypt failed: %v", err)
	}
	if want := mustHex(t, "5BE80741B6F4583E"); !bytes.Equal(z, want) {
		t.Errorf("z = %X, want %X", z, want)
	}
	got, err := CBCDecrypt(CipherTDES, key, z)
	if err != nil {
		t.Fatalf("CBCDecrypt failed: %v", err)
	}
	if !bytes.Equal(got, s) {
		t.Errorf("round trip = %X, want %X", got, s)
	}
}

func TestCBC_TDESKeyUntouched(t *testing.T) {
	key := mustHex(t, "F4F1E35D0D7061EF6725EF513B0D9B7F")
	orig := append([]byte(nil), key...)
	s := mustHex(t, "3F00C4D39D153F2B")

	for i := 0; i < 2; i++ {
		z, err := CBCEncrypt(CipherTDES, key, s)
		if err != nil {
			t.Fatalf("CBCEncrypt failed: %v", err)
		}
		if want := mustHex(t, "5BE80741B6F4583E"); !bytes.Equal(z, want) {
			t.Errorf("run %d: z = %X, want %X", i, z, want)
		}
		if !bytes.Equal(key, orig) {
			t.Fatalf("run %d: key modified to %X", i, key)
		}
	}
}

func TestCBC_Errors(t *testing.T) {
	if _, err := CBCDecrypt(CipherAES128, make([]byte, 15), make([]byte, 16)); !errors.Is(err, ErrKeyLength) {
		t.Errorf("expected ErrKeyLength, got %v", err)
	}
	if _, err := CBCDecrypt(CipherAES128, make([]byte, 16), make([]byte, 15)); !errors.Is(err, ErrBlockLength) {
		t.Errorf("expected ErrBlockLength, got %v", err)
	}
	if _, err := CBCEncrypt(Cipher(0), make([]byte, 16), make([]byte, 16)); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("expected ErrUnknownCipher, got %v", err)
	}
}

func TestCipher_Properties(t *testing.T) {
	tests := []struct {
		c         Cipher
		keyLen    int
		blockSize int
		name      string
	}{
		{CipherTDES, 16, 8, "3DES"},
		{CipherAES128, 16, 16, "AES-128"},
		{CipherAES192, 24, 16, "AES-192"},
		{CipherAES256, 32, 16, "AES-256"},
	}
	for _, tt := range tests {
		if tt.c.KeyLen() != tt.keyLen || tt.c.BlockSize() != tt.blockSize || tt.c.String() != tt.name {
			t.Errorf("%v: got (%d, %d, %s)", tt.c, tt.c.KeyLen(), tt.c.BlockSize(), tt.c.String())
		}
	}
}
