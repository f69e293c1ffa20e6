package pace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/backkem/eid/pkg/crypto"
)

// PasswordType is the password reference sent in MSE:Set AT (tag 83).
type PasswordType uint8

const (
	PasswordMRZ PasswordType = 1
	PasswordCAN PasswordType = 2
	PasswordPIN PasswordType = 3
	PasswordPUK PasswordType = 4
)

func (t PasswordType) String() string {
	switch t {
	case PasswordMRZ:
		return "MRZ"
	case PasswordCAN:
		return "CAN"
	case PasswordPIN:
		return "PIN"
	case PasswordPUK:
		return "PUK"
	default:
		return fmt.Sprintf("PasswordType(%d)", uint8(t))
	}
}

// ParsePasswordType parses "MRZ", "CAN", "PIN" or "PUK", case-insensitive.
func ParsePasswordType(s string) (PasswordType, error) {
	for _, t := range []PasswordType{PasswordMRZ, PasswordCAN, PasswordPIN, PasswordPUK} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("pace: unknown password type %q", s)
}

// Valid reports whether t is one of the four password references.
func (t PasswordType) Valid() bool {
	return t >= PasswordMRZ && t <= PasswordPUK
}

// ErrInvalidMRZ is returned for MRZ fields with characters outside [0-9A-Z<]
// or dates that are not six digits.
var ErrInvalidMRZ = errors.New("pace: invalid MRZ field")

// MRZInformation builds the MRZ password: document number, date of birth and
// date of expiry, each followed by its ICAO 9303 check digit. Dates are YYMMDD.
// Document numbers shorter than nine characters are padded with '<'.
func MRZInformation(documentNumber, dateOfBirth, dateOfExpiry string) (string, error) {
	doc := strings.ToUpper(documentNumber)
	if len(doc) < 9 {
		doc += strings.Repeat("<", 9-len(doc))
	}
	if !isDate(dateOfBirth) || !isDate(dateOfExpiry) {
		return "", fmt.Errorf("%w: dates must be YYMMDD", ErrInvalidMRZ)
	}

	var b strings.Builder
	for _, field := range []string{doc, dateOfBirth, dateOfExpiry} {
		d, err := CheckDigit(field)
		if err != nil {
			return "", err
		}
		b.WriteString(field)
		b.WriteByte('0' + d)
	}
	return b.String(), nil
}

// CheckDigit computes the ICAO 9303 check digit of an MRZ field.
func CheckDigit(field string) (byte, error) {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(field); i++ {
		c := field[i]
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'A' && c <= 'Z':
			v = int(c-'A') + 10
		case c == '<':
			v = 0
		default:
			return 0, fmt.Errorf("%w: %q", ErrInvalidMRZ, c)
		}
		sum += v * weights[i%3]
	}
	return byte(sum % 10), nil
}

func isDate(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// passwordSecret returns the PACE secret for a password: SHA-1 of the MRZ
// information for PasswordMRZ, the password bytes otherwise. The result is a
// fresh buffer owned by the caller.
func passwordSecret(t PasswordType, password []byte) []byte {
	if t == PasswordMRZ {
		return crypto.SHA1(password)
	}
	return append([]byte(nil), password...)
}
