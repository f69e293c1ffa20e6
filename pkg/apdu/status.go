package apdu

import (
	"errors"
	"fmt"
)

// Status word constants from ISO 7816-4 and TR-03110.
const (
	SWSuccess                = 0x9000 // Normal processing
	SWBytesAvailable         = 0x6100 // SW2 more bytes available (mask)
	SWPasswordDeactivated    = 0x6283 // Selected password deactivated
	SWAuthenticationFailed   = 0x6300 // Verification failed, no counter
	SWRetryCounter           = 0x63C0 // Verification failed, SW2 low nibble is the counter (mask)
	SWWrongLength            = 0x6700
	SWLastCommandExpected    = 0x6883
	SWChainingNotSupported   = 0x6884
	SWSecurityNotSatisfied   = 0x6982
	SWAuthMethodBlocked      = 0x6983
	SWReferenceDataNotUsable = 0x6984
	SWConditionsNotSatisfied = 0x6985
	SWWrongData              = 0x6A80
	SWFileNotFound           = 0x6A82
	SWWrongP1P2              = 0x6A86
	SWReferenceNotFound      = 0x6A88
	SWWrongLe                = 0x6C00 // Wrong Le, SW2 is the exact length (mask)
	SWINSNotSupported        = 0x6D00
	SWCLANotSupported        = 0x6E00
	SWUnknown                = 0x6F00
)

// SWError represents a non-success status word returned for a command.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, Description(e.SW))
}

// RetryCounter extracts the password retry counter from a 63Cx status word.
func RetryCounter(sw uint16) (int, bool) {
	if sw&0xFFF0 != SWRetryCounter {
		return 0, false
	}
	return int(sw & 0x000F), true
}

// Description returns a human-readable description of a status word.
func Description(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWPasswordDeactivated:
		return "password deactivated"
	case SWAuthenticationFailed:
		return "authentication failed"
	case SWWrongLength:
		return "wrong length"
	case SWLastCommandExpected:
		return "last command of the chain expected"
	case SWChainingNotSupported:
		return "command chaining not supported"
	case SWSecurityNotSatisfied:
		return "security status not satisfied"
	case SWAuthMethodBlocked:
		return "authentication method blocked"
	case SWReferenceDataNotUsable:
		return "reference data not usable"
	case SWConditionsNotSatisfied:
		return "conditions of use not satisfied"
	case SWWrongData:
		return "incorrect data"
	case SWFileNotFound:
		return "file not found"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWReferenceNotFound:
		return "referenced data not found"
	case SWINSNotSupported:
		return "instruction not supported"
	case SWCLANotSupported:
		return "class not supported"
	case SWUnknown:
		return "no precise diagnosis"
	}
	switch sw & 0xFF00 {
	case SWBytesAvailable:
		return fmt.Sprintf("%d bytes available", sw&0xFF)
	case SWWrongLe:
		return fmt.Sprintf("wrong Le (correct Le=%d)", sw&0xFF)
	}
	if n, ok := RetryCounter(sw); ok {
		return fmt.Sprintf("verification failed, %d tries left", n)
	}
	return "unknown error"
}

// IsSWError reports whether err is an *SWError with the given status word.
func IsSWError(err error, sw uint16) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == sw
	}
	return false
}
