package pace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies PACE failures. Callers decide on recovery by kind.
type ErrorKind int

const (
	// KindProtocol is a malformed or rejected exchange not covered below.
	KindProtocol ErrorKind = iota + 1
	// KindTransport is a channel failure. Fatal to the session.
	KindTransport
	// KindPasswordDeactivated means the password cannot be used (6283).
	KindPasswordDeactivated
	// KindPasswordBlocked means the retry counter reached 0.
	KindPasswordBlocked
	// KindPasswordSuspended means the retry counter is 1; resume with CAN first.
	KindPasswordSuspended
	// KindPasswordError means the password was wrong.
	KindPasswordError
	// KindMappingSecurityViolation means the card echoed the terminal's key
	// or the mapping produced a degenerate generator.
	KindMappingSecurityViolation
	// KindAuthenticationFailed means the card's token did not verify.
	KindAuthenticationFailed
	// KindUnsupportedMapping means the protocol uses integrated or chip
	// authentication mapping.
	KindUnsupportedMapping
	// KindUnsupportedConfiguration means the protocol, cipher or domain
	// parameters are not available.
	KindUnsupportedConfiguration
	// KindInterrupted means the context was canceled while the card was in
	// an intermediate state. Reconnect before retrying.
	KindInterrupted
	// KindIllegalState means Execute was called on a used engine.
	KindIllegalState
)

// Sentinel errors, one per kind, for errors.Is.
var (
	ErrProtocol                 = errors.New("pace: protocol error")
	ErrTransport                = errors.New("pace: transport error")
	ErrPasswordDeactivated      = errors.New("pace: password deactivated")
	ErrPasswordBlocked          = errors.New("pace: password blocked")
	ErrPasswordSuspended        = errors.New("pace: password suspended")
	ErrPasswordError            = errors.New("pace: wrong password")
	ErrMappingSecurityViolation = errors.New("pace: mapping security violation")
	ErrAuthenticationFailed     = errors.New("pace: authentication failed")
	ErrUnsupportedMapping       = errors.New("pace: unsupported mapping")
	ErrUnsupportedConfiguration = errors.New("pace: unsupported configuration")
	ErrInterrupted              = errors.New("pace: interrupted")
	ErrIllegalState             = errors.New("pace: engine already used")
)

var kindInfo = map[ErrorKind]struct {
	name     string
	sentinel error
}{
	KindProtocol:                 {"Protocol", ErrProtocol},
	KindTransport:                {"Transport", ErrTransport},
	KindPasswordDeactivated:      {"PasswordDeactivated", ErrPasswordDeactivated},
	KindPasswordBlocked:          {"PasswordBlocked", ErrPasswordBlocked},
	KindPasswordSuspended:        {"PasswordSuspended", ErrPasswordSuspended},
	KindPasswordError:            {"PasswordError", ErrPasswordError},
	KindMappingSecurityViolation: {"MappingSecurityViolation", ErrMappingSecurityViolation},
	KindAuthenticationFailed:     {"AuthenticationFailed", ErrAuthenticationFailed},
	KindUnsupportedMapping:       {"UnsupportedMapping", ErrUnsupportedMapping},
	KindUnsupportedConfiguration: {"UnsupportedConfiguration", ErrUnsupportedConfiguration},
	KindInterrupted:              {"Interrupted", ErrInterrupted},
	KindIllegalState:             {"IllegalState", ErrIllegalState},
}

// String returns the kind name.
func (k ErrorKind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinel returns the sentinel error matched by errors.Is for this kind.
func (k ErrorKind) Sentinel() error {
	return kindInfo[k].sentinel
}

// Error is the error returned by Engine.Execute.
type Error struct {
	Kind ErrorKind

	// Step is the protocol step that failed, StepNone for failures before
	// or outside the exchange.
	Step Step

	// RetryCounter is the password retry counter reported by the card, or
	// RetryCounterUnknown.
	RetryCounter int

	// SW is the status word that caused the failure, 0 if none.
	SW uint16

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if s := e.Kind.Sentinel(); s != nil {
		b.WriteString(s.Error())
	} else {
		fmt.Fprintf(&b, "pace: %s", e.Kind)
	}
	if e.Step != StepNone {
		fmt.Fprintf(&b, " in %s", e.Step)
	}
	if e.RetryCounter != RetryCounterUnknown {
		fmt.Fprintf(&b, " (retry counter %d)", e.RetryCounter)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of a PACE error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func newError(kind ErrorKind, step Step, cause error) *Error {
	return &Error{Kind: kind, Step: step, RetryCounter: RetryCounterUnknown, Err: cause}
}
