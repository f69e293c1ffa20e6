// Package apdu implements ISO/IEC 7816-4 command and response APDUs and the
// card transport abstraction the PACE engine consumes.
//
// Command APDU layout:
//
//	CLA | INS | P1 | P2 | [Lc | Data] | [Le]
//
// Short APDUs carry up to 255 data bytes and expect up to 256 response bytes.
// Extended APDUs (Lc and Le prefixed by a zero byte) raise both limits to
// 65535 and 65536.
package apdu

import (
	"errors"
	"fmt"

	iso "github.com/skythen/apdu"
)

// CLA bits.
const (
	// ClaChaining marks a command as not the last of a chain (ISO 7816-4, 5.1.1.1).
	ClaChaining byte = 0x10
)

// Length limits.
const (
	MaxShortData    = iso.MaxLenCommandDataStandard
	MaxShortNe      = iso.MaxLenResponseDataStandard
	MaxExtendedData = iso.MaxLenCommandDataExtended
	MaxExtendedNe   = iso.MaxLenResponseDataExtended
)

var (
	// ErrInvalidCommand is returned when a command APDU cannot be decoded.
	ErrInvalidCommand = errors.New("apdu: invalid command")

	// ErrInvalidResponse is returned when a response APDU is shorter than a status word.
	ErrInvalidResponse = errors.New("apdu: invalid response")

	// ErrTooLong is returned when data or Ne exceed the extended length limits.
	ErrTooLong = errors.New("apdu: data too long")

	// ErrResponseChain is returned when a card keeps answering 61xx.
	ErrResponseChain = errors.New("apdu: too many GET RESPONSE commands")
)

// Command is a command APDU.
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte

	// Ne is the maximum number of response data bytes expected.
	// Zero means no Le field is sent.
	Ne int
}

// Extended reports whether the command needs extended length fields.
func (c Command) Extended() bool {
	return c.capdu().IsExtendedLength()
}

// Chained returns a copy of c with the chaining bit set.
func (c Command) Chained() Command {
	c.CLA |= ClaChaining
	return c
}

// IsChained reports whether the chaining bit is set.
func (c Command) IsChained() bool {
	return c.CLA&ClaChaining != 0
}

func (c Command) capdu() *iso.Capdu {
	return &iso.Capdu{Cla: c.CLA, Ins: c.INS, P1: c.P1, P2: c.P2, Data: c.Data, Ne: c.Ne}
}

// Bytes encodes the command, choosing extended length fields when needed.
func (c Command) Bytes() ([]byte, error) {
	if c.Ne < 0 {
		return nil, ErrTooLong
	}
	b, err := c.capdu().Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTooLong, err)
	}
	return b, nil
}

// String returns the command header for logging. Data is never included.
func (c Command) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X Lc=%d Ne=%d", c.CLA, c.INS, c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommand decodes a command APDU in any of the four ISO 7816-4 cases.
func ParseCommand(b []byte) (Command, error) {
	// A zero byte after the header opens a 3-byte extended length field.
	if len(b) > 5 && b[4] == 0x00 && len(b) < 7 {
		return Command{}, ErrInvalidCommand
	}
	c, err := iso.ParseCapdu(b)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd := Command{CLA: c.Cla, INS: c.Ins, P1: c.P1, P2: c.P2, Ne: c.Ne}
	if len(c.Data) > 0 {
		cmd.Data = append([]byte(nil), c.Data...)
	}
	return cmd, nil
}

// Response is a response APDU.
type Response struct {
	Data []byte
	SW   uint16
}

// ParseResponse splits a raw response into data and status word.
func ParseResponse(b []byte) (Response, error) {
	r, err := iso.ParseRapdu(b)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	resp := Response{SW: uint16(r.SW1)<<8 | uint16(r.SW2)}
	if len(r.Data) > 0 {
		resp.Data = append([]byte(nil), r.Data...)
	}
	return resp, nil
}

// Bytes encodes the response as data followed by SW1 SW2. Data beyond the
// extended length limit is replaced by a bare 6700.
func (r Response) Bytes() []byte {
	b, err := (&iso.Rapdu{Data: r.Data, SW1: r.SW1(), SW2: r.SW2()}).Bytes()
	if err != nil {
		return []byte{byte(SWWrongLength >> 8), byte(SWWrongLength & 0xFF)}
	}
	return b
}

// SW1 returns the first status byte.
func (r Response) SW1() byte { return byte(r.SW >> 8) }

// SW2 returns the second status byte.
func (r Response) SW2() byte { return byte(r.SW) }

// OK reports whether the status word is 9000.
func (r Response) OK() bool { return r.SW == SWSuccess }
