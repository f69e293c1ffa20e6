package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNoConn is returned when a remote reader is created without a connection.
	ErrNoConn = errors.New("transport: no connection configured")

	// ErrNoHandler is returned when a server is created without an APDU handler.
	ErrNoHandler = errors.New("transport: no APDU handler configured")

	// ErrNoReader is returned when no PC/SC reader is connected.
	ErrNoReader = errors.New("transport: no reader found")

	// ErrFrameTooLarge is returned when a frame exceeds the 2-byte length prefix.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrShortCommand is returned for command APDUs shorter than a header.
	ErrShortCommand = errors.New("transport: command shorter than APDU header")

	// ErrShortResponse is returned when a response APDU carries no status word.
	ErrShortResponse = errors.New("transport: response shorter than status word")
)
