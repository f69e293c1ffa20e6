package pace

import (
	"bytes"
	"testing"

	"github.com/backkem/eid/pkg/tlv"
)

func TestMSESetAT(t *testing.T) {
	info := PACEInfo{Protocol: workedSuite(t).Protocol(), Version: 2, ParameterID: 13}

	cmd, err := MSESetAT(info, PasswordMRZ, nil)
	if err != nil {
		t.Fatalf("MSESetAT failed: %v", err)
	}
	raw, err := cmd.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if want := mustHex(t, "0022C1A412800A04007F0007020204020283010184010D"); !bytes.Equal(raw, want) {
		t.Errorf("MSE:Set AT = %X, want %X", raw, want)
	}

	req, err := ParseMSESetAT(cmd.Data)
	if err != nil {
		t.Fatalf("ParseMSESetAT failed: %v", err)
	}
	if !req.OID.Equal(info.Protocol.OID) || req.Password != PasswordMRZ || req.ParameterID != 13 || req.CHAT != nil {
		t.Errorf("ParseMSESetAT = %+v", req)
	}
}

func TestMSESetAT_CHATWithoutParameterID(t *testing.T) {
	info := PACEInfo{Protocol: workedSuite(t).Protocol(), Version: 2, ParameterID: ParameterIDAbsent}
	chat, err := CHAT{Terminal: OIDAuthenticationTerminal, Rights: mustHex(t, "3F00000004")}.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	cmd, err := MSESetAT(info, PasswordPIN, chat)
	if err != nil {
		t.Fatalf("MSESetAT failed: %v", err)
	}
	want := append(mustHex(t, "800A04007F00070202040202"+"830103"), chat...)
	if !bytes.Equal(cmd.Data, want) {
		t.Errorf("data = %X, want %X", cmd.Data, want)
	}

	req, err := ParseMSESetAT(cmd.Data)
	if err != nil {
		t.Fatalf("ParseMSESetAT failed: %v", err)
	}
	if req.ParameterID != ParameterIDAbsent || !bytes.Equal(req.CHAT, chat) {
		t.Errorf("ParseMSESetAT = %+v", req)
	}
}

func TestParseMSESetAT_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no password", "800A04007F00070202040202"},
		{"no mechanism", "830103"},
		{"long password reference", "800A04007F00070202040202" + "83020103"},
		{"truncated", "800A04007F"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMSESetAT(mustHex(t, tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGeneralAuthenticate(t *testing.T) {
	tests := []struct {
		name  string
		step  Step
		tag   uint32
		value string
		want  string
	}{
		{"encrypted nonce", StepEncryptedNonce, 0, "", "10860000027C0000"},
		{"map nonce", StepMapNonce, 0x81, "0102", "10860000067C0481020102" + "00"},
		{"key agreement", StepKeyAgreement, 0x83, "04", "10860000057C0383010400"},
		{"mutual authentication", StepMutualAuthentication, 0x85, workedTokenPCD, "008600000C7C0A8508" + workedTokenPCD + "00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var value []byte
			if tt.value != "" {
				value = mustHex(t, tt.value)
			}
			cmd := GeneralAuthenticate(tt.step, tlv.Tag(tt.tag), value)
			raw, err := cmd.Bytes()
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if want := mustHex(t, tt.want); !bytes.Equal(raw, want) {
				t.Errorf("GA = %X, want %X", raw, want)
			}
		})
	}
}

func TestAuthResponse_Encode(t *testing.T) {
	resp := AuthResponse{
		Token:       mustHex(t, workedTokenPICC),
		CAR:         []byte("DECVCAeID00102"),
		PreviousCAR: []byte("DECVCAeID00101"),
	}
	parsed, err := parseAuthResponse(resp.Encode())
	if err != nil {
		t.Fatalf("parseAuthResponse failed: %v", err)
	}
	if !bytes.Equal(parsed.Token, resp.Token) ||
		!bytes.Equal(parsed.CAR, resp.CAR) ||
		!bytes.Equal(parsed.PreviousCAR, resp.PreviousCAR) {
		t.Errorf("parsed = %+v", parsed)
	}

	if _, err := parseAuthResponse(mustHex(t, "7C00")); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := parseAuthResponse(mustHex(t, "8608" + workedTokenPICC)); err == nil {
		t.Error("expected error for missing 7C wrapper")
	}
}
