// Package picc implements the chip side of PACE as a software card.
//
// A Card answers MSE:Set AT and the four GENERAL AUTHENTICATE steps and keeps
// the password retry counters of an eID card:
//
//	PIN counter 3 -> 2 -> 1 (suspended, resume with CAN) -> 0 (blocked, unblock with PUK)
//
// It is used by tests and by the eid-picc emulator. Everything else a card
// does (file selection, secure messaging, EAC) is answered with 6D00.
package picc

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/eid/pkg/apdu"
	"github.com/backkem/eid/pkg/crypto"
	"github.com/backkem/eid/pkg/group"
	"github.com/backkem/eid/pkg/pace"
	"github.com/backkem/eid/pkg/tlv"
)

const (
	insManageSecurityEnvironment byte = 0x22
	insGeneralAuthenticate       byte = 0x86
	insGetResponse               byte = 0xC0
)

// PINBlocked configures a card whose PIN is blocked.
const PINBlocked = -1

var (
	// ErrNoProtocol is returned when a card is configured without PACEInfo.
	ErrNoProtocol = errors.New("picc: no PACE protocol configured")

	// ErrNoPassword is returned when a card is configured without passwords.
	ErrNoPassword = errors.New("picc: no password configured")
)

// Config configures a Card.
type Config struct {
	// Protocols are the PACEInfos announced in EF.CardAccess.
	Protocols []pace.PACEInfo

	// Passwords holds the secret per password type. The MRZ entry is the
	// MRZ information (see pace.MRZInformation), not its hash.
	Passwords map[pace.PasswordType][]byte

	// PINRetryCounter is the initial PIN retry counter. Zero means 3,
	// PINBlocked starts with a blocked PIN.
	PINRetryCounter int

	// PINDeactivated makes every PIN attempt fail with 6283.
	PINDeactivated bool

	// CAR and PreviousCAR are returned when the terminal sends a CHAT.
	CAR         []byte
	PreviousCAR []byte

	// ExtendedLength accepts extended length APDUs and answers up to Ne
	// bytes without GET RESPONSE.
	ExtendedLength bool

	// Rand is the source for nonces and ephemeral keys. Defaults to
	// crypto/rand.Reader.
	Rand io.Reader

	// LoggerFactory is used to create the card logger. Optional.
	LoggerFactory logging.LoggerFactory
}

// step is the next GENERAL AUTHENTICATE the card expects.
type step int

const (
	stepIdle step = iota
	stepNonce
	stepMap
	stepAgree
	stepAuthenticate
)

// session is the state of one PACE run on the card.
type session struct {
	info     pace.PACEInfo
	suite    *pace.Suite
	group    group.Group
	password pace.PasswordType
	chat     bool
	step     step

	nonce   []byte
	mapped  group.Group
	pcdKey  []byte
	piccKey []byte
	keyENC  []byte
	keyMAC  []byte
}

func (s *session) destroy() {
	crypto.Zeroize(s.nonce, s.keyENC, s.keyMAC)
}

// SessionKeys are the keys of the last established session.
type SessionKeys struct {
	Password pace.PasswordType
	KeyENC   []byte
	KeyMAC   []byte
}

// Card is a software eID card. It is safe for concurrent use; commands are
// processed one at a time.
type Card struct {
	config Config
	rand   io.Reader
	log    logging.LeveledLogger

	mu          sync.Mutex
	pinCounter  int
	pinResumed  bool
	session     *session
	established *SessionKeys
	chain       []byte // command data of an unfinished ISO 7816-4 chain
	pending     []byte // response data awaiting GET RESPONSE
}

// New creates a card.
func New(config Config) (*Card, error) {
	if len(config.Protocols) == 0 {
		return nil, ErrNoProtocol
	}
	if len(config.Passwords) == 0 {
		return nil, ErrNoPassword
	}
	c := &Card{
		config:     config,
		rand:       config.Rand,
		pinCounter: config.PINRetryCounter,
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	switch c.pinCounter {
	case 0:
		c.pinCounter = pace.MaxRetryCounter
	case PINBlocked:
		c.pinCounter = 0
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("picc")
	}
	return c, nil
}

// CardAccess returns the DER EF.CardAccess announcing the card's protocols.
func (c *Card) CardAccess() ([]byte, error) {
	return pace.MarshalCardAccess(c.config.Protocols...)
}

// PINRetryCounter returns the current PIN retry counter.
func (c *Card) PINRetryCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinCounter
}

// SessionKeys returns the keys of the last successful PACE run, nil if none.
func (c *Card) SessionKeys() *SessionKeys {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established
}

// Reset drops the running session, as a card reset does. Retry counters
// persist.
func (c *Card) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSession()
	c.established = nil
	c.pinResumed = false
}

func (c *Card) resetSession() {
	if c.session != nil {
		c.session.destroy()
	}
	c.session = nil
	c.chain = nil
	c.pending = nil
}

// Transmit implements apdu.Transport. The slot is ignored.
func (c *Card) Transmit(ctx context.Context, _ []byte, command []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.HandleAPDU(command), nil
}

// HandleAPDU processes one raw command APDU and returns the raw response.
func (c *Card) HandleAPDU(raw []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return status(apdu.SWWrongLength)
	}
	if cmd.Extended() && !c.config.ExtendedLength {
		return status(apdu.SWWrongLength)
	}
	if c.log != nil {
		c.log.Tracef("> %s", cmd)
	}

	if cmd.INS == insGetResponse {
		return c.getResponse(cmd)
	}
	c.pending = nil

	var resp apdu.Response
	switch cmd.INS {
	case insManageSecurityEnvironment:
		c.chain = nil
		resp = c.setAT(cmd)
	case insGeneralAuthenticate:
		resp = c.generalAuthenticate(cmd)
	default:
		resp = apdu.Response{SW: apdu.SWINSNotSupported}
	}
	if c.log != nil {
		c.log.Tracef("< SW=%04X len=%d", resp.SW, len(resp.Data))
	}
	return c.respond(cmd, resp)
}

// respond honors Ne: data beyond a short Ne is held for GET RESPONSE.
func (c *Card) respond(cmd apdu.Command, resp apdu.Response) []byte {
	ne := cmd.Ne
	if ne == 0 {
		ne = apdu.MaxShortNe
	}
	if len(resp.Data) <= ne || !resp.OK() {
		return resp.Bytes()
	}
	c.pending = resp.Data
	return status(bytesAvailable(len(c.pending)))
}

func (c *Card) getResponse(cmd apdu.Command) []byte {
	if c.pending == nil {
		return status(apdu.SWConditionsNotSatisfied)
	}
	ne := cmd.Ne
	if ne == 0 || ne > len(c.pending) {
		ne = len(c.pending)
	}
	data := c.pending[:ne]
	c.pending = c.pending[ne:]
	sw := uint16(apdu.SWSuccess)
	if len(c.pending) > 0 {
		sw = bytesAvailable(len(c.pending))
	} else {
		c.pending = nil
	}
	return apdu.Response{Data: data, SW: sw}.Bytes()
}

func bytesAvailable(n int) uint16 {
	if n >= apdu.MaxShortNe {
		return apdu.SWBytesAvailable
	}
	return apdu.SWBytesAvailable | uint16(n)
}

func status(sw uint16) []byte {
	return apdu.Response{SW: sw}.Bytes()
}

func (c *Card) setAT(cmd apdu.Command) apdu.Response {
	c.resetSession()
	if cmd.P1 != 0xC1 || cmd.P2 != 0xA4 {
		return apdu.Response{SW: apdu.SWWrongP1P2}
	}
	req, err := pace.ParseMSESetAT(cmd.Data)
	if err != nil {
		return apdu.Response{SW: apdu.SWWrongData}
	}

	info, ok := c.lookup(req)
	if !ok {
		return apdu.Response{SW: apdu.SWReferenceNotFound}
	}
	if _, ok := c.config.Passwords[req.Password]; !ok {
		return apdu.Response{SW: apdu.SWReferenceNotFound}
	}
	g, err := group.Standard(info.ParameterID)
	if err != nil {
		return apdu.Response{SW: apdu.SWReferenceNotFound}
	}

	c.session = &session{
		info:     info,
		suite:    pace.NewSuite(info.Protocol),
		group:    g,
		password: req.Password,
		chat:     req.CHAT != nil,
		step:     stepNonce,
	}
	if c.log != nil {
		c.log.Debugf("Set AT %s, %s, %s", info.Protocol, g.Name(), req.Password)
	}

	if req.Password != pace.PasswordPIN {
		return apdu.Response{SW: apdu.SWSuccess}
	}
	switch {
	case c.config.PINDeactivated:
		c.resetSession()
		return apdu.Response{SW: apdu.SWPasswordDeactivated}
	case c.pinCounter < pace.MaxRetryCounter:
		return apdu.Response{SW: apdu.SWRetryCounter | uint16(c.pinCounter)}
	}
	return apdu.Response{SW: apdu.SWSuccess}
}

// lookup finds the announced PACEInfo for a Set AT request. Without a
// parameter reference the first info with the requested OID is used.
func (c *Card) lookup(req pace.SetATRequest) (pace.PACEInfo, bool) {
	for _, info := range c.config.Protocols {
		if !info.Protocol.OID.Equal(req.OID) || info.Protocol.Mapping != pace.MappingGeneric {
			continue
		}
		if req.ParameterID == pace.ParameterIDAbsent || req.ParameterID == info.ParameterID {
			return info, true
		}
	}
	return pace.PACEInfo{}, false
}

func (c *Card) generalAuthenticate(cmd apdu.Command) apdu.Response {
	s := c.session
	if s == nil || s.step == stepIdle {
		return apdu.Response{SW: apdu.SWConditionsNotSatisfied}
	}

	// Reassemble data objects split over an ISO 7816-4 chain.
	data := append(c.chain, cmd.Data...)
	elems, err := pace.DynamicAuthData(data)
	if err != nil {
		if cmd.IsChained() && errors.Is(err, tlv.ErrUnexpectedEOF) {
			c.chain = data
			return apdu.Response{SW: apdu.SWSuccess}
		}
		c.chain = nil
		c.fail()
		return apdu.Response{SW: apdu.SWWrongData}
	}
	c.chain = nil

	wantChained := s.step != stepAuthenticate
	if cmd.IsChained() != wantChained {
		c.fail()
		return apdu.Response{SW: apdu.SWLastCommandExpected}
	}

	var resp apdu.Response
	switch s.step {
	case stepNonce:
		resp, err = c.encryptedNonce(s, elems)
	case stepMap:
		resp, err = c.mapNonce(s, elems)
	case stepAgree:
		resp, err = c.keyAgreement(s, elems)
	case stepAuthenticate:
		return c.mutualAuthentication(s, elems)
	}
	if err != nil {
		if c.log != nil {
			c.log.Debugf("GA step %d rejected: %v", s.step, err)
		}
		c.fail()
		return apdu.Response{SW: apdu.SWWrongData}
	}
	s.step++
	return resp
}

func (c *Card) fail() {
	c.resetSession()
}

func (c *Card) encryptedNonce(s *session, elems []tlv.Element) (apdu.Response, error) {
	if len(elems) != 0 {
		return apdu.Response{}, errors.New("expected empty dynamic authentication data")
	}
	if s.password == pace.PasswordPIN && c.pinCounter == 1 && !c.pinResumed {
		c.fail()
		return apdu.Response{SW: apdu.SWSecurityNotSatisfied}, nil
	}
	if s.password == pace.PasswordPIN && c.pinCounter == 0 {
		c.fail()
		return apdu.Response{SW: apdu.SWRetryCounter}, nil
	}

	s.nonce = make([]byte, s.suite.NonceLen())
	if _, err := io.ReadFull(c.rand, s.nonce); err != nil {
		return apdu.Response{}, err
	}
	keyPI, err := s.suite.PasswordKey(s.password, c.config.Passwords[s.password])
	if err != nil {
		return apdu.Response{}, err
	}
	defer crypto.Zeroize(keyPI)
	z, err := s.suite.EncryptNonce(keyPI, s.nonce)
	if err != nil {
		return apdu.Response{}, err
	}
	return dynamicAuthData(pace.TagEncryptedNonce, z), nil
}

func (c *Card) mapNonce(s *session, elems []tlv.Element) (apdu.Response, error) {
	pcdBytes, ok := tlv.Find(elems, pace.TagMappingDataPCD)
	if !ok {
		return apdu.Response{}, errors.New("missing mapping data")
	}
	pcd, err := s.group.Decode(pcdBytes)
	if err != nil {
		return apdu.Response{}, err
	}
	key, err := group.GenerateKey(s.group, c.rand)
	if err != nil {
		return apdu.Response{}, err
	}
	defer key.Destroy()
	if key.Public().Equal(pcd) {
		return apdu.Response{}, errors.New("terminal echoed the mapping public key")
	}

	h, err := key.Agree(pcd)
	if err != nil {
		return apdu.Response{}, err
	}
	defer group.Destroy(h)
	if s.mapped, err = pace.MapGeneric(s.group, s.nonce, h); err != nil {
		return apdu.Response{}, err
	}
	crypto.Zeroize(s.nonce)
	return dynamicAuthData(pace.TagMappingDataPICC, key.PublicBytes()), nil
}

func (c *Card) keyAgreement(s *session, elems []tlv.Element) (apdu.Response, error) {
	pcdBytes, ok := tlv.Find(elems, pace.TagEphemeralKeyPCD)
	if !ok {
		return apdu.Response{}, errors.New("missing ephemeral public key")
	}
	pcd, err := s.mapped.Decode(pcdBytes)
	if err != nil {
		return apdu.Response{}, err
	}
	key, err := group.GenerateKey(s.mapped, c.rand)
	if err != nil {
		return apdu.Response{}, err
	}
	defer key.Destroy()
	if key.Public().Equal(pcd) {
		return apdu.Response{}, errors.New("terminal echoed the ephemeral public key")
	}

	secret, err := s.suite.SharedSecret(key, pcd)
	if err != nil {
		return apdu.Response{}, err
	}
	defer crypto.Zeroize(secret)
	if s.keyENC, s.keyMAC, err = s.suite.SessionKeys(secret); err != nil {
		return apdu.Response{}, err
	}
	s.pcdKey = pcd.Bytes()
	s.piccKey = key.PublicBytes()
	return dynamicAuthData(pace.TagEphemeralKeyPICC, s.piccKey), nil
}

func (c *Card) mutualAuthentication(s *session, elems []tlv.Element) apdu.Response {
	defer c.resetSession()

	token, ok := tlv.Find(elems, pace.TagAuthTokenPCD)
	if !ok {
		return apdu.Response{SW: apdu.SWWrongData}
	}
	expected, err := s.suite.Token(s.keyMAC, s.piccKey)
	if err != nil {
		return apdu.Response{SW: apdu.SWUnknown}
	}
	if subtle.ConstantTimeCompare(expected, token) != 1 {
		return apdu.Response{SW: c.passwordFailed(s.password)}
	}

	own, err := s.suite.Token(s.keyMAC, s.pcdKey)
	if err != nil {
		return apdu.Response{SW: apdu.SWUnknown}
	}
	auth := pace.AuthResponse{Token: own}
	if s.chat {
		auth.CAR = c.config.CAR
		auth.PreviousCAR = c.config.PreviousCAR
	}
	c.passwordSucceeded(s.password)
	c.established = &SessionKeys{
		Password: s.password,
		KeyENC:   append([]byte(nil), s.keyENC...),
		KeyMAC:   append([]byte(nil), s.keyMAC...),
	}
	if c.log != nil {
		c.log.Infof("PACE established with %s", s.password)
	}
	return apdu.Response{Data: auth.Encode(), SW: apdu.SWSuccess}
}

// passwordFailed updates the retry counters after a wrong password and
// returns the status word to report.
func (c *Card) passwordFailed(t pace.PasswordType) uint16 {
	if t != pace.PasswordPIN {
		return apdu.SWAuthenticationFailed
	}
	if c.pinCounter > 0 {
		c.pinCounter--
	}
	c.pinResumed = false
	if c.log != nil {
		c.log.Warnf("wrong PIN, retry counter %d", c.pinCounter)
	}
	return apdu.SWRetryCounter | uint16(c.pinCounter)
}

func (c *Card) passwordSucceeded(t pace.PasswordType) {
	switch t {
	case pace.PasswordPIN:
		c.pinCounter = pace.MaxRetryCounter
		c.pinResumed = false
	case pace.PasswordCAN:
		if c.pinCounter == 1 {
			c.pinResumed = true
		}
	case pace.PasswordPUK:
		c.pinCounter = pace.MaxRetryCounter
		c.pinResumed = false
	}
}

func dynamicAuthData(tag tlv.Tag, value []byte) apdu.Response {
	return apdu.Response{
		Data: tlv.Encode(pace.TagDynamicAuthData, tlv.Encode(tag, value)),
		SW:   apdu.SWSuccess,
	}
}

