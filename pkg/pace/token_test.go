package pace

import (
	"bytes"
	"testing"

	"github.com/backkem/eid/pkg/group"
)

// Worked example of TR-03110 Part 3 (ECDH-GM-AES-128, brainpoolP256r1).
const (
	workedKeyMAC    = "FE251C7858B356B24514B3BD5F4297D1"
	workedPKPCD     = "042DB7A64C0355044EC9DF190514C625CBA2CEA48754887122F3A5EF0D5EDD301C3556F3B3B186DF10B857B58F6A7EB80F20BA5DC7BE1D43D9BF850149FBB36462"
	workedPKPICC    = "049E880F842905B8B3181F7AF7CAA9F0EFB743847F44A306D2D28C1D9EC65DF6DB7764B22277A2EDDC3C265A9F018F9CB852E111B768B326904B59A0193776F094"
	workedTokenPCD  = "C2B0BD78D94BA866"
	workedTokenPICC = "3ABB9674BCE93C08"
)

func workedSuite(t *testing.T) *Suite {
	t.Helper()
	p, err := LookupProtocol(paceOID(2, 2))
	if err != nil {
		t.Fatalf("LookupProtocol failed: %v", err)
	}
	return NewSuite(p)
}

func TestToken_WorkedExample(t *testing.T) {
	s := workedSuite(t)
	keyMAC := mustHex(t, workedKeyMAC)

	tPCD, err := s.Token(keyMAC, mustHex(t, workedPKPICC))
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if want := mustHex(t, workedTokenPCD); !bytes.Equal(tPCD, want) {
		t.Errorf("T_PCD = %X, want %X", tPCD, want)
	}

	tPICC, err := s.Token(keyMAC, mustHex(t, workedPKPCD))
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if want := mustHex(t, workedTokenPICC); !bytes.Equal(tPICC, want) {
		t.Errorf("T_PICC = %X, want %X", tPICC, want)
	}
}

func TestVerifyToken_Tamper(t *testing.T) {
	s := workedSuite(t)
	keyMAC := mustHex(t, workedKeyMAC)
	own := mustHex(t, workedPKPCD)
	resp := AuthResponse{Token: mustHex(t, workedTokenPICC)}

	if !s.VerifyToken(keyMAC, resp, own, false) {
		t.Fatal("valid token rejected")
	}

	for bit := 0; bit < len(resp.Token)*8; bit++ {
		tampered := AuthResponse{Token: flipBit(resp.Token, bit)}
		if s.VerifyToken(keyMAC, tampered, own, false) {
			t.Errorf("token with bit %d flipped accepted", bit)
		}
	}
	for _, bit := range []int{0, 9, 100, len(own)*8 - 1} {
		if s.VerifyToken(keyMAC, resp, flipBit(own, bit), false) {
			t.Errorf("public key with bit %d flipped accepted", bit)
		}
	}
	for bit := 0; bit < len(keyMAC)*8; bit += 7 {
		if s.VerifyToken(flipBit(keyMAC, bit), resp, own, false) {
			t.Errorf("MAC key with bit %d flipped accepted", bit)
		}
	}
	if s.VerifyToken(keyMAC, AuthResponse{Token: resp.Token[:7]}, own, false) {
		t.Error("short token accepted")
	}
}

func TestVerifyToken_ExpectCHAT(t *testing.T) {
	s := workedSuite(t)
	keyMAC := mustHex(t, workedKeyMAC)
	own := mustHex(t, workedPKPCD)
	resp := AuthResponse{Token: mustHex(t, workedTokenPICC)}

	if s.VerifyToken(keyMAC, resp, own, true) {
		t.Error("token without CAR accepted although a CHAT was sent")
	}
	resp.CAR = []byte("DETESTeID00004")
	if !s.VerifyToken(keyMAC, resp, own, true) {
		t.Error("token with CAR rejected")
	}
}

func TestPublicKeyData_DH(t *testing.T) {
	p, err := LookupProtocol(paceOID(1, 2))
	if err != nil {
		t.Fatalf("LookupProtocol failed: %v", err)
	}
	if p.Agreement != group.KindDH {
		t.Fatalf("agreement = %s", p.Agreement)
	}
	got, err := NewSuite(p).PublicKeyData([]byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("PublicKeyData failed: %v", err)
	}
	want := mustHex(t, "7F4910060A04007F00070202040102"+"84020102")
	if !bytes.Equal(got, want) {
		t.Errorf("PublicKeyData = %X, want %X", got, want)
	}
}

func flipBit(b []byte, bit int) []byte {
	out := append([]byte(nil), b...)
	out[bit/8] ^= 1 << (bit % 8)
	return out
}
