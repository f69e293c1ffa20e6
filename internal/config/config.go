// Package config loads the YAML configuration of the eid-pace and eid-picc
// commands.
package config

import (
	"bytes"
	encoding_asn1 "encoding/asn1"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/backkem/eid/pkg/group"
	"github.com/backkem/eid/pkg/pace"
	"github.com/backkem/eid/pkg/pace/picc"
)

// DefaultListenAddr is where eid-picc listens without a configured address.
// 35963 is the vpcd port.
const DefaultListenAddr = "127.0.0.1:35963"

// Terminal configures eid-pace. The PACE protocol comes from an
// EF.CardAccess file or, without one, from Protocol.
type Terminal struct {
	Reader         ReaderConfig    `yaml:"reader"`
	CardAccessFile string          `yaml:"card_access_file"`
	Protocol       *ProtocolConfig `yaml:"protocol"`
	PasswordType   string          `yaml:"password_type"`
	CHAT           *CHATConfig     `yaml:"chat"`
	Timeout        time.Duration   `yaml:"timeout"`
	LogLevel       string          `yaml:"log_level"`
}

// ReaderConfig selects a PC/SC reader or a remote card. At most one of PCSC
// and Remote is set; an empty PCSC name with no Remote selects the first
// PC/SC reader.
type ReaderConfig struct {
	PCSC           string `yaml:"pcsc"`
	Remote         string `yaml:"remote"`
	ExtendedLength bool   `yaml:"extended_length"`
}

// CHATConfig is the terminal type and relative authorization sent at
// MSE:Set AT.
type CHATConfig struct {
	Terminal string `yaml:"terminal"`
	Rights   string `yaml:"rights"`
}

// Card configures eid-picc.
type Card struct {
	Listen          string           `yaml:"listen"`
	ATR             string           `yaml:"atr"`
	Protocols       []ProtocolConfig `yaml:"protocols"`
	Passwords       PasswordsConfig  `yaml:"passwords"`
	PINRetryCounter *int             `yaml:"pin_retry_counter"`
	PINDeactivated  bool             `yaml:"pin_deactivated"`
	CAR             string           `yaml:"car"`
	PreviousCAR     string           `yaml:"previous_car"`
	ExtendedLength  bool             `yaml:"extended_length"`
	LogLevel        string           `yaml:"log_level"`
}

// ProtocolConfig is one PACEInfo announced in EF.CardAccess.
type ProtocolConfig struct {
	Protocol    string `yaml:"protocol"`
	ParameterID *int   `yaml:"parameter_id"`
}

// PasswordsConfig holds the card's passwords. Unset passwords are not
// accepted by the card.
type PasswordsConfig struct {
	MRZ *MRZConfig `yaml:"mrz"`
	CAN string     `yaml:"can"`
	PIN string     `yaml:"pin"`
	PUK string     `yaml:"puk"`
}

// MRZConfig holds the MRZ fields the MRZ password is built from.
type MRZConfig struct {
	DocumentNumber string `yaml:"document_number"`
	DateOfBirth    string `yaml:"date_of_birth"`
	DateOfExpiry   string `yaml:"date_of_expiry"`
}

// LoadTerminal reads and validates an eid-pace configuration.
func LoadTerminal(path string) (*Terminal, error) {
	var cfg Terminal
	if err := decode(path, &cfg); err != nil {
		return nil, err
	}
	cfg.CardAccessFile = resolvePath(filepath.Dir(path), cfg.CardAccessFile)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCard reads and validates an eid-picc configuration.
func LoadCard(path string) (*Card, error) {
	var cfg Card
	if err := decode(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListenAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// Validate checks the terminal configuration.
func (c *Terminal) Validate() error {
	if c.Reader.PCSC != "" && c.Reader.Remote != "" {
		return fmt.Errorf("config.reader.pcsc and config.reader.remote are mutually exclusive")
	}
	if c.Reader.Remote != "" {
		if _, _, err := net.SplitHostPort(c.Reader.Remote); err != nil {
			return fmt.Errorf("config.reader.remote is invalid: %w", err)
		}
	}
	if strings.TrimSpace(c.PasswordType) == "" {
		return fmt.Errorf("config.password_type is required")
	}
	if _, err := pace.ParsePasswordType(c.PasswordType); err != nil {
		return fmt.Errorf("config.password_type: %w", err)
	}
	switch {
	case c.CardAccessFile != "":
		if err := validateReadableFile(c.CardAccessFile, "config.card_access_file"); err != nil {
			return err
		}
	case c.Protocol != nil:
		if _, err := c.Protocol.info(); err != nil {
			return fmt.Errorf("config.protocol: %w", err)
		}
	default:
		return fmt.Errorf("config.card_access_file or config.protocol is required")
	}
	if c.CHAT != nil {
		if _, err := c.CHAT.Encode(); err != nil {
			return fmt.Errorf("config.chat: %w", err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config.timeout must be >= 0")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config.log_level: %w", err)
	}
	return nil
}

// Password returns the configured password type.
func (c *Terminal) Password() pace.PasswordType {
	t, _ := pace.ParsePasswordType(c.PasswordType)
	return t
}

// SecurityInfo returns the PACE parameters to run and the raw
// EF.CardAccess, nil when the parameters come from Protocol.
func (c *Terminal) SecurityInfo() (pace.SecurityInfoPair, []byte, error) {
	if c.CardAccessFile == "" {
		info, err := c.Protocol.info()
		if err != nil {
			return pace.SecurityInfoPair{}, nil, fmt.Errorf("config.protocol: %w", err)
		}
		return pace.SecurityInfoPair{Info: info}, nil, nil
	}
	raw, err := os.ReadFile(c.CardAccessFile)
	if err != nil {
		return pace.SecurityInfoPair{}, nil, fmt.Errorf("read EF.CardAccess: %w", err)
	}
	ca, err := pace.ParseCardAccess(raw)
	if err != nil {
		return pace.SecurityInfoPair{}, nil, err
	}
	pair, err := ca.Select()
	if err != nil {
		return pace.SecurityInfoPair{}, nil, err
	}
	return pair, raw, nil
}

// terminalTypes maps CHAT terminal names to their OIDs.
var terminalTypes = map[string]encoding_asn1.ObjectIdentifier{
	"inspection":     pace.OIDInspectionSystem,
	"authentication": pace.OIDAuthenticationTerminal,
	"signature":      pace.OIDSignatureTerminal,
}

// Encode returns the encoded CHAT.
func (c *CHATConfig) Encode() ([]byte, error) {
	oid, ok := terminalTypes[strings.ToLower(c.Terminal)]
	if !ok {
		return nil, fmt.Errorf("terminal must be inspection, authentication or signature, got %q", c.Terminal)
	}
	rights, err := hex.DecodeString(c.Rights)
	if err != nil {
		return nil, fmt.Errorf("rights: %w", err)
	}
	return pace.CHAT{Terminal: oid, Rights: rights}.Encode()
}

// Validate checks the card configuration.
func (c *Card) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config.listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("config.listen is invalid: %w", err)
	}
	if _, err := hex.DecodeString(c.ATR); err != nil {
		return fmt.Errorf("config.atr: %w", err)
	}
	if len(c.Protocols) == 0 {
		return fmt.Errorf("config.protocols is required")
	}
	for i, p := range c.Protocols {
		if _, err := p.info(); err != nil {
			return fmt.Errorf("config.protocols[%d]: %w", i, err)
		}
	}
	if _, err := c.Passwords.secrets(); err != nil {
		return err
	}
	if c.PINRetryCounter != nil && (*c.PINRetryCounter < 0 || *c.PINRetryCounter > pace.MaxRetryCounter) {
		return fmt.Errorf("config.pin_retry_counter must be 0..%d", pace.MaxRetryCounter)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config.log_level: %w", err)
	}
	return nil
}

// PICC returns the software card configuration.
func (c *Card) PICC() (picc.Config, error) {
	infos := make([]pace.PACEInfo, 0, len(c.Protocols))
	for i, p := range c.Protocols {
		info, err := p.info()
		if err != nil {
			return picc.Config{}, fmt.Errorf("config.protocols[%d]: %w", i, err)
		}
		infos = append(infos, info)
	}
	passwords, err := c.Passwords.secrets()
	if err != nil {
		return picc.Config{}, err
	}
	cfg := picc.Config{
		Protocols:      infos,
		Passwords:      passwords,
		PINDeactivated: c.PINDeactivated,
		ExtendedLength: c.ExtendedLength,
	}
	if c.PINRetryCounter != nil {
		cfg.PINRetryCounter = *c.PINRetryCounter
		if cfg.PINRetryCounter == 0 {
			cfg.PINRetryCounter = picc.PINBlocked
		}
	}
	if c.CAR != "" {
		cfg.CAR = []byte(c.CAR)
	}
	if c.PreviousCAR != "" {
		cfg.PreviousCAR = []byte(c.PreviousCAR)
	}
	return cfg, nil
}

// ATRBytes returns the configured ATR, nil for the transport default.
func (c *Card) ATRBytes() []byte {
	atr, _ := hex.DecodeString(c.ATR)
	if len(atr) == 0 {
		return nil
	}
	return atr
}

func (p ProtocolConfig) info() (pace.PACEInfo, error) {
	proto, err := pace.ParseProtocol(p.Protocol)
	if err != nil {
		return pace.PACEInfo{}, err
	}
	id := pace.ParameterIDAbsent
	if p.ParameterID != nil {
		id = *p.ParameterID
		g, err := group.Standard(id)
		if err != nil {
			return pace.PACEInfo{}, err
		}
		if g.Kind() != proto.Agreement {
			return pace.PACEInfo{}, fmt.Errorf("parameter_id %d is a %s group, %s needs %s", id, g.Kind(), proto, proto.Agreement)
		}
	}
	pair, err := pace.NewSecurityInfo(proto.OID, id)
	if err != nil {
		return pace.PACEInfo{}, err
	}
	return pair.Info, nil
}

func (p PasswordsConfig) secrets() (map[pace.PasswordType][]byte, error) {
	out := make(map[pace.PasswordType][]byte)
	if p.MRZ != nil {
		mrz, err := pace.MRZInformation(p.MRZ.DocumentNumber, p.MRZ.DateOfBirth, p.MRZ.DateOfExpiry)
		if err != nil {
			return nil, fmt.Errorf("config.passwords.mrz: %w", err)
		}
		out[pace.PasswordMRZ] = []byte(mrz)
	}
	if p.CAN != "" {
		out[pace.PasswordCAN] = []byte(p.CAN)
	}
	if p.PIN != "" {
		out[pace.PasswordPIN] = []byte(p.PIN)
	}
	if p.PUK != "" {
		out[pace.PasswordPUK] = []byte(p.PUK)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config.passwords requires at least one password")
	}
	return out, nil
}

// ParseLogLevel parses a pion log level name. Empty selects error.
func ParseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return logging.LogLevelError, nil
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
