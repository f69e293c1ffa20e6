package pace

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseCardAccess(t *testing.T) {
	// PACEInfo ECDH-GM-AES-128 over brainpoolP256r1
	der := mustHex(t, "3114301206"+"0A04007F00070202040202"+"020102"+"02010D")

	ca, err := ParseCardAccess(der)
	if err != nil {
		t.Fatalf("ParseCardAccess failed: %v", err)
	}
	if len(ca.PACE) != 1 {
		t.Fatalf("got %d PACEInfos, want 1", len(ca.PACE))
	}
	info := ca.PACE[0]
	if !info.Protocol.OID.Equal(paceOID(2, 2)) {
		t.Errorf("protocol = %s", info.Protocol.OID)
	}
	if info.Version != 2 || info.ParameterID != 13 {
		t.Errorf("version %d, parameterId %d", info.Version, info.ParameterID)
	}
	if !bytes.Equal(ca.Raw, der) {
		t.Error("Raw does not echo input")
	}

	pair, err := ca.Select()
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if pair.Info.ParameterID != 13 || pair.DomainParameters != nil {
		t.Errorf("Select = %+v", pair)
	}

	out, err := MarshalCardAccess(info)
	if err != nil {
		t.Fatalf("MarshalCardAccess failed: %v", err)
	}
	if !bytes.Equal(out, der) {
		t.Errorf("MarshalCardAccess = %X, want %X", out, der)
	}
}

func TestParseCardAccess_MixedInfos(t *testing.T) {
	ta := "300D060804007F0007020202020102"
	ca := "300F060A04007F00070202030202020102"
	im := "3012060A04007F00070202040402020102020110"
	gm := "300F060A04007F00070202040102020102" // DH-GM, no parameterId
	body := ta + ca + im + gm
	der := mustHex(t, "31"+hexLen(len(body)/2)+body)

	parsed, err := ParseCardAccess(der)
	if err != nil {
		t.Fatalf("ParseCardAccess failed: %v", err)
	}
	if len(parsed.PACE) != 2 || len(parsed.Other) != 2 {
		t.Fatalf("got %d PACE, %d other", len(parsed.PACE), len(parsed.Other))
	}
	if parsed.PACE[1].ParameterID != ParameterIDAbsent {
		t.Errorf("parameterId = %d, want absent", parsed.PACE[1].ParameterID)
	}
	if !parsed.Other[0].OID.Equal(OIDTerminalAuthentication) {
		t.Errorf("other[0] = %s", parsed.Other[0].OID)
	}

	// Neither PACEInfo is runnable: IM is unsupported, GM lacks a parameter ID.
	pair, err := parsed.Select()
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if pair.Info.Protocol.Mapping != MappingIntegrated {
		t.Errorf("Select fell back to %s", pair.Info.Protocol)
	}
}

func TestParseCardAccess_DomainParameters(t *testing.T) {
	// PACEInfo with proprietary parameter 32, and its domain parameters
	info := "3012060A04007F00070202040202020102020120"
	dp := "3013060904007F000702020402" + "3003060100" + "020120"
	body := info + dp
	der := mustHex(t, "31"+hexLen(len(body)/2)+body)

	ca, err := ParseCardAccess(der)
	if err != nil {
		t.Fatalf("ParseCardAccess failed: %v", err)
	}
	if len(ca.DomainParameters) != 1 || ca.DomainParameters[0].ParameterID != 32 {
		t.Fatalf("domain parameters = %+v", ca.DomainParameters)
	}
	pair, err := ca.Select()
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if pair.DomainParameters == nil {
		t.Error("Select did not attach the domain parameters")
	}
	if pair.Info.Standardized() {
		t.Error("parameter ID 32 reported as standardized")
	}
}

func TestParseCardAccess_Malformed(t *testing.T) {
	tests := []struct {
		name string
		der  string
	}{
		{"empty", ""},
		{"not a set", "3000"},
		{"truncated", "3114301206"},
		{"trailing", "3100" + "00"},
		{"no oid", "31053003020102"},
		{"no version", "310E300C060A04007F00070202040202"},
		{"bad parameter", "3114301206" + "0A04007F00070202040202" + "020102" + "0401FF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCardAccess(mustHex(t, tt.der)); !errors.Is(err, ErrMalformedCardAccess) {
				t.Errorf("got %v, want ErrMalformedCardAccess", err)
			}
		})
	}
}

func TestCardAccess_SelectEmpty(t *testing.T) {
	ca, err := ParseCardAccess(mustHex(t, "3100"))
	if err != nil {
		t.Fatalf("ParseCardAccess failed: %v", err)
	}
	if _, err := ca.Select(); !errors.Is(err, ErrNoPACEInfo) {
		t.Errorf("got %v, want ErrNoPACEInfo", err)
	}
}

func hexLen(n int) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[n>>4], digits[n&0xF]})
}
