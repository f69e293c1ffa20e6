package pace

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pion/logging"

	"github.com/backkem/eid/pkg/apdu"
	"github.com/backkem/eid/pkg/crypto"
	"github.com/backkem/eid/pkg/group"
	"github.com/backkem/eid/pkg/tlv"
)

// Config configures an Engine.
type Config struct {
	// Transport reaches the card. Required.
	Transport apdu.Transport

	// Slot identifies the card slot on the transport.
	Slot []byte

	// SecurityInfo is the PACE protocol and domain parameters to run.
	SecurityInfo SecurityInfoPair

	// CardAccess is the raw EF.CardAccess, echoed in the SessionResult. Optional.
	CardAccess []byte

	// ExtendedLength allows extended length APDUs. Without it, large DH
	// public keys are sent as command chains.
	ExtendedLength bool

	// Rand is the source for ephemeral keys. Defaults to crypto/rand.Reader.
	Rand io.Reader

	// LoggerFactory is used to create the engine logger. Optional.
	LoggerFactory logging.LoggerFactory
}

// SessionResult is the outcome of a successful PACE run.
type SessionResult struct {
	Protocol Protocol

	// KeyENC and KeyMAC are the secure messaging keys.
	KeyENC []byte
	KeyMAC []byte

	// CurrentCAR and PreviousCAR are nil unless a CHAT was sent.
	CurrentCAR  []byte
	PreviousCAR []byte

	// IDPICC is the compressed ephemeral public key of the card.
	IDPICC []byte

	// RetryCounter is the counter reported at MSE:Set AT, MaxRetryCounter
	// when the card reported none.
	RetryCounter int

	// CardAccess echoes Config.CardAccess.
	CardAccess []byte
}

// Destroy zeroes the session keys.
func (r *SessionResult) Destroy() {
	crypto.Zeroize(r.KeyENC, r.KeyMAC)
}

// Engine runs PACE as the terminal over an APDU transport.
// An Engine is single use: Execute may be called once.
type Engine struct {
	channel    *apdu.Channel
	info       SecurityInfoPair
	group      group.Group
	suite      *Suite
	cardAccess []byte
	rand       io.Reader
	log        logging.LeveledLogger

	used  atomic.Bool
	state atomic.Uint32
}

// NewEngine resolves the security info into a group and cipher suite.
// Integrated and chip authentication mappings are rejected with
// KindUnsupportedMapping, explicit domain parameters and unknown parameter
// IDs with KindUnsupportedConfiguration.
func NewEngine(config Config) (*Engine, error) {
	if config.Transport == nil {
		return nil, newError(KindUnsupportedConfiguration, StepNone, errors.New("no transport"))
	}
	info := config.SecurityInfo.Info
	if info.Protocol.OID == nil {
		return nil, newError(KindUnsupportedConfiguration, StepNone, errors.New("no protocol"))
	}
	if info.Protocol.Mapping != MappingGeneric {
		return nil, newError(KindUnsupportedMapping, StepNone,
			fmt.Errorf("%s mapping of %s", info.Protocol.Mapping, info.Protocol))
	}
	if config.SecurityInfo.DomainParameters != nil || !info.Standardized() {
		return nil, newError(KindUnsupportedConfiguration, StepNone,
			fmt.Errorf("explicit domain parameters (parameter ID %d)", info.ParameterID))
	}
	g, err := group.Standard(info.ParameterID)
	if err != nil {
		return nil, newError(KindUnsupportedConfiguration, StepNone, err)
	}
	if g.Kind() != info.Protocol.Agreement {
		return nil, newError(KindUnsupportedConfiguration, StepNone,
			fmt.Errorf("%w: %s over %s", group.ErrGroupMismatch, info.Protocol, g.Name()))
	}

	e := &Engine{
		channel: apdu.NewChannel(config.Transport, config.Slot, apdu.ChannelConfig{
			ExtendedLength: config.ExtendedLength,
			LoggerFactory:  config.LoggerFactory,
		}),
		info:       config.SecurityInfo,
		group:      g,
		suite:      NewSuite(info.Protocol),
		cardAccess: config.CardAccess,
		rand:       config.Rand,
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("pace")
	}
	return e, nil
}

// State returns the engine's protocol state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Suite returns the cipher suite of the engine's protocol.
func (e *Engine) Suite() *Suite {
	return e.suite
}

// Execute runs the five PACE steps with the given password. chat is an
// encoded CHAT (see CHAT.Encode) or nil. The password is not modified;
// internal copies are cleared before Execute returns.
//
// All errors are *Error. Canceling ctx aborts the run with KindInterrupted.
func (e *Engine) Execute(ctx context.Context, password []byte, passwordType PasswordType, chat []byte) (*SessionResult, error) {
	if !e.used.CompareAndSwap(false, true) {
		return nil, newError(KindIllegalState, StepNone, fmt.Errorf("state %s", e.State()))
	}
	if !passwordType.Valid() {
		e.state.Store(uint32(StateFailed))
		return nil, newError(KindUnsupportedConfiguration, StepNone, fmt.Errorf("password type %s", passwordType))
	}

	result, err := e.run(ctx, password, passwordType, chat)
	if err != nil {
		e.state.Store(uint32(StateFailed))
		if e.log != nil {
			e.log.Errorf("PACE with %s failed: %v", passwordType, err)
		}
		return nil, err
	}
	if e.log != nil {
		e.log.Infof("PACE established with %s (%s, %s)", passwordType, e.info.Info.Protocol, e.group.Name())
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, password []byte, passwordType PasswordType, chat []byte) (*SessionResult, error) {
	if len(chat) > 0 {
		if _, err := ParseCHAT(chat); err != nil {
			return nil, newError(KindUnsupportedConfiguration, StepNone, err)
		}
	}
	ts, err := e.setAT(ctx, passwordType, chat)
	if err != nil {
		return nil, err
	}
	result, err := e.negotiate(ctx, ts, passwordType, password, len(chat) > 0)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) && perr.RetryCounter == RetryCounterUnknown {
			perr.RetryCounter = ts.retryCounter
		}
		return nil, err
	}
	return result, nil
}

// negotiate runs steps 2 to 5.
func (e *Engine) negotiate(ctx context.Context, ts templateSet, passwordType PasswordType, password []byte, expectCHAT bool) (*SessionResult, error) {
	nr, err := e.requestNonce(ctx, ts, passwordType, password)
	if err != nil {
		return nil, err
	}
	nm, err := e.mapNonce(ctx, nr)
	if err != nil {
		return nil, err
	}
	ka, err := e.agreeKey(ctx, nm)
	if err != nil {
		return nil, err
	}
	return e.authenticate(ctx, ka, expectCHAT)
}

// templateSet is the state after MSE:Set AT.
type templateSet struct {
	// retryCounter as reported by the card, RetryCounterUnknown if not.
	retryCounter int

	// warning is the password condition the card reported while still
	// accepting the template, 0 if none.
	warning ErrorKind
}

// nonceRequested holds the decrypted nonce s.
type nonceRequested struct {
	templateSet
	nonce []byte
}

// nonceMapped holds the mapped domain parameters.
type nonceMapped struct {
	templateSet
	mapped group.Group
}

// keyAgreed holds the shared secret K and both ephemeral public keys.
type keyAgreed struct {
	templateSet
	secret  []byte
	pcdKey  []byte
	piccKey group.Element
}

func (e *Engine) setAT(ctx context.Context, passwordType PasswordType, chat []byte) (templateSet, error) {
	ts := templateSet{retryCounter: RetryCounterUnknown}
	cmd, err := MSESetAT(e.info.Info, passwordType, chat)
	if err != nil {
		return ts, newError(KindProtocol, StepSetAT, err)
	}
	resp, err := e.transmit(ctx, StepSetAT, cmd)
	if err != nil {
		return ts, err
	}

	switch {
	case resp.OK():
	case resp.SW == apdu.SWPasswordDeactivated:
		return ts, e.statusError(StepSetAT, resp.SW, ts)
	default:
		n, ok := apdu.RetryCounter(resp.SW)
		if !ok {
			return ts, e.statusError(StepSetAT, resp.SW, ts)
		}
		ts.retryCounter = n
		kind, _, _ := passwordStatus(resp.SW)
		if n == 0 && passwordType != PasswordPUK {
			return ts, e.statusError(StepSetAT, resp.SW, ts)
		}
		if n < MaxRetryCounter {
			// The card decides on the next command whether it still accepts the password.
			ts.warning = kind
			if e.log != nil {
				e.log.Warnf("%s retry counter %d (%s), continuing", passwordType, n, kind)
			}
		}
	}
	e.advance(StepSetAT)
	return ts, nil
}

func (e *Engine) requestNonce(ctx context.Context, ts templateSet, passwordType PasswordType, password []byte) (nonceRequested, error) {
	nr := nonceRequested{templateSet: ts}
	keyPI, err := e.suite.PasswordKey(passwordType, password)
	if err != nil {
		return nr, newError(KindUnsupportedConfiguration, StepEncryptedNonce, err)
	}
	defer crypto.Zeroize(keyPI)

	elems, err := e.exchange(ctx, StepEncryptedNonce, ts, 0, nil)
	if err != nil {
		return nr, err
	}
	z, err := requireObject(elems, TagEncryptedNonce)
	if err != nil {
		return nr, newError(KindProtocol, StepEncryptedNonce, err)
	}
	if nr.nonce, err = e.suite.DecryptNonce(keyPI, z); err != nil {
		return nr, newError(KindProtocol, StepEncryptedNonce, err)
	}
	e.advance(StepEncryptedNonce)
	return nr, nil
}

func (e *Engine) mapNonce(ctx context.Context, nr nonceRequested) (nonceMapped, error) {
	defer crypto.Zeroize(nr.nonce)
	nm := nonceMapped{templateSet: nr.templateSet}

	key, err := group.GenerateKey(e.group, e.rand)
	if err != nil {
		return nm, newError(KindProtocol, StepMapNonce, err)
	}
	m := newGenericMapping(e.group, key)
	defer m.Destroy()

	pcd := m.PublicKey()
	elems, err := e.exchange(ctx, StepMapNonce, nr.templateSet, TagMappingDataPCD, pcd)
	if err != nil {
		return nm, err
	}
	piccBytes, err := requireObject(elems, TagMappingDataPICC)
	if err != nil {
		return nm, newError(KindProtocol, StepMapNonce, err)
	}
	picc, err := e.group.Decode(piccBytes)
	if err != nil {
		return nm, newError(KindProtocol, StepMapNonce, err)
	}
	// Compare canonical encodings: DH values may arrive without leading zeros.
	if bytes.Equal(picc.Bytes(), pcd) {
		return nm, newError(KindMappingSecurityViolation, StepMapNonce, errors.New("card echoed the mapping public key"))
	}

	if nm.mapped, err = m.Map(picc, nr.nonce); err != nil {
		return nm, newError(mappingKind(err), StepMapNonce, err)
	}
	e.advance(StepMapNonce)
	return nm, nil
}

func (e *Engine) agreeKey(ctx context.Context, nm nonceMapped) (keyAgreed, error) {
	ka := keyAgreed{templateSet: nm.templateSet}

	key, err := group.GenerateKey(nm.mapped, e.rand)
	if err != nil {
		return ka, newError(KindProtocol, StepKeyAgreement, err)
	}
	defer key.Destroy()

	ka.pcdKey = key.PublicBytes()
	elems, err := e.exchange(ctx, StepKeyAgreement, nm.templateSet, TagEphemeralKeyPCD, ka.pcdKey)
	if err != nil {
		return ka, err
	}
	piccBytes, err := requireObject(elems, TagEphemeralKeyPICC)
	if err != nil {
		return ka, newError(KindProtocol, StepKeyAgreement, err)
	}
	if ka.piccKey, err = nm.mapped.Decode(piccBytes); err != nil {
		return ka, newError(KindProtocol, StepKeyAgreement, err)
	}
	if ka.piccKey.Equal(key.Public()) {
		return ka, newError(KindMappingSecurityViolation, StepKeyAgreement, errors.New("card echoed the ephemeral public key"))
	}
	if ka.secret, err = e.suite.SharedSecret(key, ka.piccKey); err != nil {
		return ka, newError(mappingKind(err), StepKeyAgreement, err)
	}
	e.advance(StepKeyAgreement)
	return ka, nil
}

func (e *Engine) authenticate(ctx context.Context, ka keyAgreed, expectCHAT bool) (*SessionResult, error) {
	keyENC, keyMAC, err := e.suite.SessionKeys(ka.secret)
	crypto.Zeroize(ka.secret)
	if err != nil {
		return nil, newError(KindUnsupportedConfiguration, StepMutualAuthentication, err)
	}
	fail := func(kind ErrorKind, cause error) (*SessionResult, error) {
		crypto.Zeroize(keyENC, keyMAC)
		return nil, newError(kind, StepMutualAuthentication, cause)
	}

	token, err := e.suite.Token(keyMAC, ka.piccKey.Bytes())
	if err != nil {
		return fail(KindUnsupportedConfiguration, err)
	}
	cmd := GeneralAuthenticate(StepMutualAuthentication, TagAuthTokenPCD, token)
	resp, err := e.transmit(ctx, StepMutualAuthentication, cmd)
	if err != nil {
		crypto.Zeroize(keyENC, keyMAC)
		return nil, err
	}
	if !resp.OK() {
		crypto.Zeroize(keyENC, keyMAC)
		return nil, e.statusError(StepMutualAuthentication, resp.SW, ka.templateSet)
	}

	auth, err := parseAuthResponse(resp.Data)
	if err != nil {
		return fail(KindAuthenticationFailed, err)
	}
	if !e.suite.VerifyToken(keyMAC, auth, ka.pcdKey, expectCHAT) {
		return fail(KindAuthenticationFailed, errors.New("card token does not verify"))
	}
	e.advance(StepMutualAuthentication)

	result := &SessionResult{
		Protocol:     e.info.Info.Protocol,
		KeyENC:       keyENC,
		KeyMAC:       keyMAC,
		CurrentCAR:   auth.CAR,
		PreviousCAR:  auth.PreviousCAR,
		IDPICC:       e.suite.IDPICC(ka.piccKey),
		RetryCounter: ka.retryCounter,
		CardAccess:   e.cardAccess,
	}
	if result.RetryCounter == RetryCounterUnknown {
		result.RetryCounter = MaxRetryCounter
	}
	return result, nil
}

// exchange sends a GENERAL AUTHENTICATE and returns the card's dynamic
// authentication data objects.
func (e *Engine) exchange(ctx context.Context, step Step, ts templateSet, tag tlv.Tag, value []byte) ([]tlv.Element, error) {
	resp, err := e.transmit(ctx, step, GeneralAuthenticate(step, tag, value))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, e.statusError(step, resp.SW, ts)
	}
	elems, err := DynamicAuthData(resp.Data)
	if err != nil {
		return nil, newError(KindProtocol, step, err)
	}
	return elems, nil
}

// transmit sends cmd, classifying channel failures as KindInterrupted when
// ctx is done and KindTransport otherwise.
func (e *Engine) transmit(ctx context.Context, step Step, cmd apdu.Command) (apdu.Response, error) {
	if e.log != nil {
		e.log.Debugf("%s: sending %d bytes", step, len(cmd.Data))
	}
	resp, err := e.channel.Transmit(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return resp, newError(KindInterrupted, step, err)
		}
		return resp, newError(KindTransport, step, err)
	}
	if e.log != nil {
		e.log.Debugf("%s: SW=%04X", step, resp.SW)
	}
	return resp, nil
}

// statusError maps a non-success status word to an Error. Password states
// reported by the status word win, then the condition recorded at MSE:Set AT.
func (e *Engine) statusError(step Step, sw uint16, ts templateSet) *Error {
	err := newError(KindProtocol, step, &apdu.SWError{Cmd: commandINS(step), SW: sw})
	err.SW = sw
	err.RetryCounter = ts.retryCounter

	if kind, n, ok := passwordStatus(sw); ok {
		err.Kind = kind
		err.RetryCounter = n
		return err
	}
	switch {
	case ts.warning != 0:
		err.Kind = ts.warning
	case step == StepMutualAuthentication:
		err.Kind = KindAuthenticationFailed
	}
	return err
}

func (e *Engine) advance(step Step) {
	e.state.Store(uint32(step.state()))
}

// passwordStatus decodes 6283 and 63Cx.
func passwordStatus(sw uint16) (ErrorKind, int, bool) {
	if sw == apdu.SWPasswordDeactivated {
		return KindPasswordDeactivated, RetryCounterUnknown, true
	}
	n, ok := apdu.RetryCounter(sw)
	if !ok {
		return 0, RetryCounterUnknown, false
	}
	switch n {
	case 0:
		return KindPasswordBlocked, n, true
	case 1:
		return KindPasswordSuspended, n, true
	default:
		return KindPasswordError, n, true
	}
}

// mappingKind classifies mapping and agreement failures: a neutral element
// is a security violation, anything else a protocol error.
func mappingKind(err error) ErrorKind {
	if errors.Is(err, group.ErrIdentity) {
		return KindMappingSecurityViolation
	}
	return KindProtocol
}

func commandINS(step Step) byte {
	if step == StepSetAT {
		return insManageSecurityEnvironment
	}
	return insGeneralAuthenticate
}
