package transport

import (
	"encoding/binary"
	"io"
)

// Remote readers speak the vpcd framing: every frame is a 2-byte big-endian
// length followed by the payload. A 1-byte payload from the reader side is a
// control frame, anything longer is a command APDU.
const (
	// MaxFrameSize is the largest payload a frame can carry.
	MaxFrameSize = 0xFFFF

	frameHeaderSize = 2
)

// Control frames sent to the card side.
const (
	ControlPowerOff byte = 0x00
	ControlPowerOn  byte = 0x01
	ControlReset    byte = 0x02
	ControlATR      byte = 0x04
)

// DefaultATR is answered to ControlATR when a server has no ATR configured.
// It is the generic ATR PC/SC assigns to ISO 14443-4 cards without
// historical bytes.
var DefaultATR = []byte{0x3B, 0x80, 0x80, 0x01, 0x01}

// writeFrame writes header and payload as two writes so that packet
// oriented connections deliver them as two datagrams.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame. io.EOF is returned only when the peer closed
// the connection between frames.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(header[:]))
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
