package pace

import (
	"bytes"
	"context"
	encoding_asn1 "encoding/asn1"
	"errors"
	"testing"

	"github.com/backkem/eid/pkg/apdu"
	"github.com/backkem/eid/pkg/group"
	"github.com/backkem/eid/pkg/tlv"
)

// scriptedCard answers each PACE step with a canned response.
type scriptedCard struct {
	t       *testing.T
	answers map[Step]func(cmd apdu.Command) apdu.Response
	steps   []Step
}

func (c *scriptedCard) Transmit(_ context.Context, _ []byte, raw []byte) ([]byte, error) {
	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		c.t.Fatalf("ParseCommand failed: %v", err)
	}
	step := stepOf(c.t, cmd)
	c.steps = append(c.steps, step)
	answer, ok := c.answers[step]
	if !ok {
		return apdu.Response{SW: apdu.SWConditionsNotSatisfied}.Bytes(), nil
	}
	return answer(cmd).Bytes(), nil
}

func stepOf(t *testing.T, cmd apdu.Command) Step {
	if cmd.INS == insManageSecurityEnvironment {
		return StepSetAT
	}
	elems, err := DynamicAuthData(cmd.Data)
	if err != nil {
		t.Fatalf("DynamicAuthData failed: %v", err)
	}
	if len(elems) == 0 {
		return StepEncryptedNonce
	}
	switch elems[0].Tag {
	case TagMappingDataPCD:
		return StepMapNonce
	case TagEphemeralKeyPCD:
		return StepKeyAgreement
	default:
		return StepMutualAuthentication
	}
}

func sw(code uint16) func(apdu.Command) apdu.Response {
	return func(apdu.Command) apdu.Response { return apdu.Response{SW: code} }
}

func reply(tag tlv.Tag, value []byte) apdu.Response {
	return apdu.Response{
		Data: tlv.Encode(TagDynamicAuthData, tlv.Encode(tag, value)),
		SW:   apdu.SWSuccess,
	}
}

// echo returns the terminal's own public key.
func echo(in, out tlv.Tag) func(apdu.Command) apdu.Response {
	return func(cmd apdu.Command) apdu.Response {
		elems, _ := DynamicAuthData(cmd.Data)
		v, _ := tlv.Find(elems, in)
		return reply(out, v)
	}
}

func nonceReply(apdu.Command) apdu.Response {
	return reply(TagEncryptedNonce, make([]byte, 16))
}

func newScriptedEngine(t *testing.T, card *scriptedCard) *Engine {
	t.Helper()
	return newScriptedEngineFor(t, card, paceOID(2, 2), group.ParamBrainpoolP256r1)
}

func newScriptedEngineFor(t *testing.T, card *scriptedCard, oid encoding_asn1.ObjectIdentifier, parameterID int) *Engine {
	t.Helper()
	card.t = t
	pair, err := NewSecurityInfo(oid, parameterID)
	if err != nil {
		t.Fatalf("NewSecurityInfo failed: %v", err)
	}
	e, err := NewEngine(Config{Transport: card, SecurityInfo: pair})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestExecute_StatusWords(t *testing.T) {
	tests := []struct {
		name     string
		password PasswordType
		answers  map[Step]func(apdu.Command) apdu.Response
		kind     ErrorKind
		step     Step
		counter  int
		sent     int
	}{
		{
			name:     "blocked at Set AT",
			password: PasswordPIN,
			answers:  map[Step]func(apdu.Command) apdu.Response{StepSetAT: sw(0x63C0)},
			kind:     KindPasswordBlocked, step: StepSetAT, counter: 0, sent: 1,
		},
		{
			name:     "deactivated at Set AT",
			password: PasswordPIN,
			answers:  map[Step]func(apdu.Command) apdu.Response{StepSetAT: sw(0x6283)},
			kind:     KindPasswordDeactivated, step: StepSetAT, counter: RetryCounterUnknown, sent: 1,
		},
		{
			name:     "rejected Set AT",
			password: PasswordCAN,
			answers:  map[Step]func(apdu.Command) apdu.Response{StepSetAT: sw(0x6A80)},
			kind:     KindProtocol, step: StepSetAT, counter: RetryCounterUnknown, sent: 1,
		},
		{
			name:     "wrong password recorded at Set AT",
			password: PasswordPIN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x63C2),
				StepEncryptedNonce: sw(0x6982),
			},
			kind: KindPasswordError, step: StepEncryptedNonce, counter: 2, sent: 2,
		},
		{
			name:     "suspended recorded at Set AT",
			password: PasswordPIN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x63C1),
				StepEncryptedNonce: sw(0x6982),
			},
			kind: KindPasswordSuspended, step: StepEncryptedNonce, counter: 1, sent: 2,
		},
		{
			name:     "blocked PUK continues",
			password: PasswordPUK,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x63C0),
				StepEncryptedNonce: sw(0x6A80),
			},
			kind: KindPasswordBlocked, step: StepEncryptedNonce, counter: 0, sent: 2,
		},
		{
			name:     "nonce rejected",
			password: PasswordCAN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x9000),
				StepEncryptedNonce: sw(0x6A80),
			},
			kind: KindProtocol, step: StepEncryptedNonce, counter: RetryCounterUnknown, sent: 2,
		},
		{
			name:     "malformed nonce",
			password: PasswordCAN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT: sw(0x9000),
				StepEncryptedNonce: func(apdu.Command) apdu.Response {
					return reply(TagEncryptedNonce, make([]byte, 15))
				},
			},
			kind: KindProtocol, step: StepEncryptedNonce, counter: RetryCounterUnknown, sent: 2,
		},
		{
			name:     "echoed mapping key",
			password: PasswordCAN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x9000),
				StepEncryptedNonce: nonceReply,
				StepMapNonce:       echo(TagMappingDataPCD, TagMappingDataPICC),
			},
			kind: KindMappingSecurityViolation, step: StepMapNonce, counter: RetryCounterUnknown, sent: 3,
		},
		{
			name:     "invalid mapping key",
			password: PasswordCAN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x9000),
				StepEncryptedNonce: nonceReply,
				StepMapNonce: func(apdu.Command) apdu.Response {
					return reply(TagMappingDataPICC, append([]byte{0x04}, make([]byte, 64)...))
				},
			},
			kind: KindProtocol, step: StepMapNonce, counter: RetryCounterUnknown, sent: 3,
		},
		{
			name:     "echoed ephemeral key",
			password: PasswordCAN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x9000),
				StepEncryptedNonce: nonceReply,
				StepMapNonce: func(apdu.Command) apdu.Response {
					g, _ := group.Standard(group.ParamBrainpoolP256r1)
					return reply(TagMappingDataPICC, g.Generator().Bytes())
				},
				StepKeyAgreement: echo(TagEphemeralKeyPCD, TagEphemeralKeyPICC),
			},
			kind: KindMappingSecurityViolation, step: StepKeyAgreement, counter: RetryCounterUnknown, sent: 4,
		},
		{
			name:     "malformed nonce after wrong password",
			password: PasswordPIN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT: sw(0x63C2),
				StepEncryptedNonce: func(apdu.Command) apdu.Response {
					return reply(TagEncryptedNonce, make([]byte, 15))
				},
			},
			kind: KindProtocol, step: StepEncryptedNonce, counter: 2, sent: 2,
		},
		{
			name:     "echoed mapping key after suspension",
			password: PasswordPIN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x63C1),
				StepEncryptedNonce: nonceReply,
				StepMapNonce:       echo(TagMappingDataPCD, TagMappingDataPICC),
			},
			kind: KindMappingSecurityViolation, step: StepMapNonce, counter: 1, sent: 3,
		},
		{
			name:     "bad token after wrong password",
			password: PasswordPIN,
			answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(0x63C2),
				StepEncryptedNonce: nonceReply,
				StepMapNonce: func(apdu.Command) apdu.Response {
					g, _ := group.Standard(group.ParamBrainpoolP256r1)
					return reply(TagMappingDataPICC, g.Generator().Bytes())
				},
				StepKeyAgreement: func(apdu.Command) apdu.Response {
					g, _ := group.Standard(group.ParamBrainpoolP256r1)
					return reply(TagEphemeralKeyPICC, g.Generator().Bytes())
				},
				StepMutualAuthentication: func(apdu.Command) apdu.Response {
					return reply(TagAuthTokenPICC, make([]byte, 8))
				},
			},
			kind: KindAuthenticationFailed, step: StepMutualAuthentication, counter: 2, sent: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := &scriptedCard{answers: tt.answers}
			e := newScriptedEngine(t, card)

			_, err := e.Execute(context.Background(), []byte("123456"), tt.password, nil)
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("Execute returned %v, want *Error", err)
			}
			if pe.Kind != tt.kind || pe.Step != tt.step || pe.RetryCounter != tt.counter {
				t.Errorf("got %s at %s, counter %d; want %s at %s, counter %d",
					pe.Kind, pe.Step, pe.RetryCounter, tt.kind, tt.step, tt.counter)
			}
			if len(card.steps) != tt.sent {
				t.Errorf("sent %d commands (%v), want %d", len(card.steps), card.steps, tt.sent)
			}
			if e.State() != StateFailed {
				t.Errorf("state = %s, want Failed", e.State())
			}
		})
	}
}

func TestExecute_MutualAuthenticationStatus(t *testing.T) {
	g, err := group.Standard(group.ParamBrainpoolP256r1)
	if err != nil {
		t.Fatalf("Standard failed: %v", err)
	}
	tests := []struct {
		name    string
		setAT   uint16
		final   uint16
		kind    ErrorKind
		counter int
	}{
		{"blocked", 0x9000, 0x63C0, KindPasswordBlocked, 0},
		{"suspended", 0x9000, 0x63C1, KindPasswordSuspended, 1},
		{"wrong password", 0x9000, 0x63C2, KindPasswordError, 2},
		{"deactivated", 0x9000, 0x6283, KindPasswordDeactivated, RetryCounterUnknown},
		{"no counter", 0x9000, 0x6300, KindAuthenticationFailed, RetryCounterUnknown},
		{"recorded warning", 0x63C2, 0x6300, KindPasswordError, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := &scriptedCard{answers: map[Step]func(apdu.Command) apdu.Response{
				StepSetAT:          sw(tt.setAT),
				StepEncryptedNonce: nonceReply,
				StepMapNonce: func(apdu.Command) apdu.Response {
					return reply(TagMappingDataPICC, g.Generator().Bytes())
				},
				// Any point of the curve is a point of the mapped group.
				StepKeyAgreement: func(apdu.Command) apdu.Response {
					return reply(TagEphemeralKeyPICC, g.Generator().Bytes())
				},
				StepMutualAuthentication: sw(tt.final),
			}}
			e := newScriptedEngine(t, card)

			_, err := e.Execute(context.Background(), []byte("123456"), PasswordPIN, nil)
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("Execute returned %v, want *Error", err)
			}
			if pe.Kind != tt.kind || pe.Step != StepMutualAuthentication || pe.RetryCounter != tt.counter {
				t.Errorf("got %s at %s, counter %d", pe.Kind, pe.Step, pe.RetryCounter)
			}
			if pe.SW != tt.final {
				t.Errorf("SW = %04X, want %04X", pe.SW, tt.final)
			}
		})
	}
}

func TestExecute_TransportFailure(t *testing.T) {
	failure := errors.New("reader removed")
	transport := apdu.TransportFunc(func(context.Context, []byte, []byte) ([]byte, error) {
		return nil, failure
	})
	pair, _ := NewSecurityInfo(paceOID(2, 2), group.ParamBrainpoolP256r1)
	e, err := NewEngine(Config{Transport: transport, SecurityInfo: pair})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	_, err = e.Execute(context.Background(), []byte("123456"), PasswordPIN, nil)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, failure) {
		t.Errorf("got %v, want transport error wrapping the cause", err)
	}
}

func TestExecute_TransportFailureKeepsCounter(t *testing.T) {
	failure := errors.New("reader removed")
	var calls int
	transport := apdu.TransportFunc(func(context.Context, []byte, []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return apdu.Response{SW: 0x63C2}.Bytes(), nil
		}
		return nil, failure
	})
	pair, _ := NewSecurityInfo(paceOID(2, 2), group.ParamBrainpoolP256r1)
	e, err := NewEngine(Config{Transport: transport, SecurityInfo: pair})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	_, err = e.Execute(context.Background(), []byte("123456"), PasswordPIN, nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindTransport {
		t.Fatalf("got %v, want transport error", err)
	}
	if pe.Step != StepEncryptedNonce || pe.RetryCounter != 2 {
		t.Errorf("got step %s, counter %d; want %s, counter 2", pe.Step, pe.RetryCounter, StepEncryptedNonce)
	}
}

// stripZeros echoes the terminal's key without its leading zero bytes and
// records whether any were removed.
func stripZeros(in, out tlv.Tag, stripped *bool) func(apdu.Command) apdu.Response {
	return func(cmd apdu.Command) apdu.Response {
		elems, _ := DynamicAuthData(cmd.Data)
		v, _ := tlv.Find(elems, in)
		short := bytes.TrimLeft(v, "\x00")
		*stripped = len(short) < len(v)
		return reply(out, short)
	}
}

func TestExecute_EchoedDHKeyWithoutLeadingZero(t *testing.T) {
	g, err := group.Standard(group.ParamModP1024_160)
	if err != nil {
		t.Fatalf("Standard failed: %v", err)
	}
	tests := []struct {
		name    string
		answers func(stripped *bool) map[Step]func(apdu.Command) apdu.Response
		step    Step
	}{
		{
			name: "mapping",
			answers: func(stripped *bool) map[Step]func(apdu.Command) apdu.Response {
				return map[Step]func(apdu.Command) apdu.Response{
					StepSetAT:          sw(0x9000),
					StepEncryptedNonce: nonceReply,
					StepMapNonce:       stripZeros(TagMappingDataPCD, TagMappingDataPICC, stripped),
				}
			},
			step: StepMapNonce,
		},
		{
			name: "key agreement",
			answers: func(stripped *bool) map[Step]func(apdu.Command) apdu.Response {
				return map[Step]func(apdu.Command) apdu.Response{
					StepSetAT:          sw(0x9000),
					StepEncryptedNonce: nonceReply,
					StepMapNonce: func(apdu.Command) apdu.Response {
						return reply(TagMappingDataPICC, g.Generator().Bytes())
					},
					StepKeyAgreement: stripZeros(TagEphemeralKeyPCD, TagEphemeralKeyPICC, stripped),
				}
			},
			step: StepKeyAgreement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// About one key in 256 starts with a zero byte.
			for attempt := 0; attempt < 4096; attempt++ {
				var stripped bool
				card := &scriptedCard{answers: tt.answers(&stripped)}
				e := newScriptedEngineFor(t, card, paceOID(1, 2), group.ParamModP1024_160)

				_, err := e.Execute(context.Background(), []byte("123456"), PasswordCAN, nil)
				var pe *Error
				if !errors.As(err, &pe) || pe.Kind != KindMappingSecurityViolation || pe.Step != tt.step {
					t.Fatalf("attempt %d (stripped %v): got %v, want MappingSecurityViolation at %s", attempt, stripped, err, tt.step)
				}
				if stripped {
					return
				}
			}
			t.Fatal("no terminal key with a leading zero byte was generated")
		})
	}
}

func TestExecute_InvalidCHAT(t *testing.T) {
	card := &scriptedCard{}
	e := newScriptedEngine(t, card)

	_, err := e.Execute(context.Background(), []byte("123456"), PasswordCAN, []byte{0x01, 0x02})
	if !errors.Is(err, ErrUnsupportedConfiguration) {
		t.Errorf("got %v, want ErrUnsupportedConfiguration", err)
	}
	if len(card.steps) != 0 {
		t.Errorf("sent %v for an invalid CHAT", card.steps)
	}
}

func TestExecute_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	card := &scriptedCard{answers: map[Step]func(apdu.Command) apdu.Response{
		StepSetAT: func(apdu.Command) apdu.Response {
			cancel()
			return apdu.Response{SW: apdu.SWSuccess}
		},
	}}
	e := newScriptedEngine(t, card)

	_, err := e.Execute(ctx, []byte("123456"), PasswordCAN, nil)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("got %v, want ErrInterrupted", err)
	}
	if KindOf(err) != KindInterrupted {
		t.Errorf("KindOf = %s", KindOf(err))
	}
	if len(card.steps) != 1 {
		t.Errorf("sent %d commands after cancel", len(card.steps))
	}
}

func TestExecute_SingleUse(t *testing.T) {
	card := &scriptedCard{answers: map[Step]func(apdu.Command) apdu.Response{StepSetAT: sw(0x6A80)}}
	e := newScriptedEngine(t, card)

	if _, err := e.Execute(context.Background(), []byte("1"), PasswordCAN, nil); err == nil {
		t.Fatal("expected first Execute to fail")
	}
	_, err := e.Execute(context.Background(), []byte("1"), PasswordCAN, nil)
	if !errors.Is(err, ErrIllegalState) {
		t.Errorf("got %v, want ErrIllegalState", err)
	}
	if len(card.steps) != 1 {
		t.Errorf("second Execute sent commands: %v", card.steps)
	}
}

func TestExecute_InvalidPasswordType(t *testing.T) {
	card := &scriptedCard{}
	e := newScriptedEngine(t, card)
	_, err := e.Execute(context.Background(), []byte("1"), PasswordType(9), nil)
	if !errors.Is(err, ErrUnsupportedConfiguration) {
		t.Errorf("got %v, want ErrUnsupportedConfiguration", err)
	}
	if len(card.steps) != 0 {
		t.Error("commands sent for an invalid password type")
	}
}

func TestNewEngine_Configuration(t *testing.T) {
	transport := &scriptedCard{t: t}
	tests := []struct {
		name string
		oid  []int
		id   int
		kind ErrorKind
	}{
		{"integrated mapping", []int{4, 2}, group.ParamBrainpoolP256r1, KindUnsupportedMapping},
		{"chip authentication mapping", []int{6, 2}, group.ParamBrainpoolP256r1, KindUnsupportedMapping},
		{"unknown parameter ID", []int{2, 2}, 7, KindUnsupportedConfiguration},
		{"proprietary parameter ID", []int{2, 2}, 32, KindUnsupportedConfiguration},
		{"DH protocol over curve", []int{1, 2}, group.ParamBrainpoolP256r1, KindUnsupportedConfiguration},
		{"ECDH protocol over MODP", []int{2, 2}, group.ParamModP2048_224, KindUnsupportedConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := NewSecurityInfo(paceOID(tt.oid[0], tt.oid[1]), tt.id)
			if err != nil {
				t.Fatalf("NewSecurityInfo failed: %v", err)
			}
			_, err = NewEngine(Config{Transport: transport, SecurityInfo: pair})
			if KindOf(err) != tt.kind {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}

	if _, err := NewEngine(Config{}); KindOf(err) != KindUnsupportedConfiguration {
		t.Errorf("missing transport: got %v", err)
	}
}
