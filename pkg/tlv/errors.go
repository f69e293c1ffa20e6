package tlv

import "errors"

var (
	// ErrUnexpectedEOF is returned when the input ends inside a tag, length or value.
	ErrUnexpectedEOF = errors.New("tlv: unexpected end of input")

	// ErrInvalidTag is returned when a tag exceeds four octets or is zero.
	ErrInvalidTag = errors.New("tlv: invalid tag")

	// ErrInvalidLength is returned for indefinite or oversized length fields.
	ErrInvalidLength = errors.New("tlv: invalid length")

	// ErrNotConstructed is returned when entering a primitive data object.
	ErrNotConstructed = errors.New("tlv: data object is not constructed")

	// ErrNotInContainer is returned when trying to exit a container when not in one.
	ErrNotInContainer = errors.New("tlv: not in container")

	// ErrContainerNotClosed is returned when a container is not properly closed.
	ErrContainerNotClosed = errors.New("tlv: container not closed")

	// ErrNoElement is returned when trying to access an element before calling Next().
	ErrNoElement = errors.New("tlv: no current element")

	// ErrNotFound is returned when a tag is missing.
	ErrNotFound = errors.New("tlv: tag not found")
)
