package pace

import (
	"errors"
	"testing"
)

func TestMRZInformation(t *testing.T) {
	tests := []struct {
		doc, dob, doe string
		want          string
	}{
		{"T22000129", "640812", "101031", "T22000129364081251010318"},
		{"L898902C3", "740812", "120415", "L898902C3674081221204159"},
		{"123", "000101", "991231", "123<<<<<<600010189912315"},
		{"t22000129", "640812", "101031", "T22000129364081251010318"},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			got, err := MRZInformation(tt.doc, tt.dob, tt.doe)
			if err != nil {
				t.Fatalf("MRZInformation failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("MRZInformation = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMRZInformation_Invalid(t *testing.T) {
	tests := []struct {
		name          string
		doc, dob, doe string
	}{
		{"short date", "T22000129", "64081", "101031"},
		{"letters in date", "T22000129", "640812", "10103A"},
		{"bad character", "T2200-129", "640812", "101031"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := MRZInformation(tt.doc, tt.dob, tt.doe); !errors.Is(err, ErrInvalidMRZ) {
				t.Errorf("got %v, want ErrInvalidMRZ", err)
			}
		})
	}
}

func TestCheckDigit(t *testing.T) {
	tests := []struct {
		field string
		want  byte
	}{
		{"T22000129", 3},
		{"640812", 5},
		{"101031", 8},
		{"<<<<<<<<<", 0},
		{"A", 0},
		{"Z", 5},
	}
	for _, tt := range tests {
		got, err := CheckDigit(tt.field)
		if err != nil {
			t.Fatalf("CheckDigit(%q) failed: %v", tt.field, err)
		}
		if got != tt.want {
			t.Errorf("CheckDigit(%q) = %d, want %d", tt.field, got, tt.want)
		}
	}
}

func TestPasswordType(t *testing.T) {
	for _, pt := range []PasswordType{PasswordMRZ, PasswordCAN, PasswordPIN, PasswordPUK} {
		parsed, err := ParsePasswordType(pt.String())
		if err != nil || parsed != pt {
			t.Errorf("ParsePasswordType(%q) = %v, %v", pt.String(), parsed, err)
		}
		if !pt.Valid() {
			t.Errorf("%s not valid", pt)
		}
	}
	if p, err := ParsePasswordType("pin"); err != nil || p != PasswordPIN {
		t.Errorf("ParsePasswordType(pin) = %v, %v", p, err)
	}
	if _, err := ParsePasswordType("TAN"); err == nil {
		t.Error("expected error for unknown type")
	}
	if PasswordType(0).Valid() || PasswordType(5).Valid() {
		t.Error("out of range password types reported valid")
	}
}

func TestPasswordSecret(t *testing.T) {
	pin := []byte("123456")
	got := passwordSecret(PasswordPIN, pin)
	if string(got) != "123456" {
		t.Errorf("PIN secret = %q", got)
	}
	got[0] = 'x'
	if pin[0] != '1' {
		t.Error("passwordSecret aliases the caller's buffer")
	}

	mrz := passwordSecret(PasswordMRZ, []byte("T22000129364081251010318"))
	if want := mustHex(t, "7E2D2A41C74EA0B38CD36F863939BFA8E9032AAD"); string(mrz) != string(want) {
		t.Errorf("MRZ secret = %X, want %X", mrz, want)
	}
}
