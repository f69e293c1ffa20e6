package pace

import (
	"bytes"
	"errors"
	"testing"
)

func TestCHAT_Encode(t *testing.T) {
	chat := CHAT{Terminal: OIDAuthenticationTerminal, Rights: mustHex(t, "0000000004")}
	got, err := chat.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := mustHex(t, "7F4C12060904007F000703010202" + "53050000000004")
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = %X, want %X", got, want)
	}

	parsed, err := ParseCHAT(got)
	if err != nil {
		t.Fatalf("ParseCHAT failed: %v", err)
	}
	if !parsed.Terminal.Equal(OIDAuthenticationTerminal) || !bytes.Equal(parsed.Rights, chat.Rights) {
		t.Errorf("ParseCHAT = %+v", parsed)
	}
	if !parsed.Has(2) || parsed.Has(0) || parsed.Has(39) || parsed.Has(40) {
		t.Error("Has reports wrong bits")
	}
}

func TestCHAT_RightsLength(t *testing.T) {
	tests := []struct {
		name  string
		chat  CHAT
		valid bool
	}{
		{"inspection system", CHAT{OIDInspectionSystem, []byte{0x03}}, true},
		{"signature terminal", CHAT{OIDSignatureTerminal, []byte{0x03}}, true},
		{"authentication terminal short", CHAT{OIDAuthenticationTerminal, []byte{0x03}}, false},
		{"inspection system long", CHAT{OIDInspectionSystem, []byte{0x00, 0x03}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.chat.Encode()
			if tt.valid && err != nil {
				t.Errorf("Encode failed: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidCHAT) {
				t.Errorf("got %v, want ErrInvalidCHAT", err)
			}
		})
	}
}

func TestParseCHAT_Invalid(t *testing.T) {
	tests := []string{
		"",
		"7F4C00",
		"7F4C0753050000000004",
		"7F4C0B060904007F000703010202",
		"7F4903060100",
	}
	for _, in := range tests {
		if _, err := ParseCHAT(mustHex(t, in)); !errors.Is(err, ErrInvalidCHAT) {
			t.Errorf("ParseCHAT(%s) = %v, want ErrInvalidCHAT", in, err)
		}
	}
}
