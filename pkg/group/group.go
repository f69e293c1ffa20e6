// Package group provides the domain parameters PACE runs over: elliptic
// curves in short Weierstrass form and prime-order subgroups of Z_p^*.
//
// Both kinds are exposed through one multiplicative-looking interface so the
// generic mapping and key agreement are written once:
//
//	EC:  Add is point addition,        ScalarMult is k*P
//	DH:  Add is modular multiplication, ScalarMult is y^k mod p
//
// Elements returned by Decode are validated: they lie on the curve (or in the
// order-q subgroup) and are never the neutral element.
package group

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Kind is the algebraic family of a group.
type Kind uint8

const (
	// KindEC is an elliptic curve group (ECDH).
	KindEC Kind = iota + 1
	// KindDH is a finite-field Diffie-Hellman group.
	KindDH
)

// String returns "ECDH" or "DH".
func (k Kind) String() string {
	switch k {
	case KindEC:
		return "ECDH"
	case KindDH:
		return "DH"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var (
	// ErrUnknownParameterID is returned for a domain parameter ID with no standardized group.
	ErrUnknownParameterID = errors.New("group: unknown standardized domain parameter ID")

	// ErrInvalidEncoding is returned when an element encoding has the wrong format or length.
	ErrInvalidEncoding = errors.New("group: invalid element encoding")

	// ErrNotInGroup is returned when a decoded value is not a member of the group.
	ErrNotInGroup = errors.New("group: element not in group")

	// ErrIdentity is returned when an operation yields or receives the neutral element.
	ErrIdentity = errors.New("group: neutral element")

	// ErrGroupMismatch is returned when combining elements of different groups.
	ErrGroupMismatch = errors.New("group: elements belong to different groups")

	// ErrRandom is returned when the random source fails to yield a valid scalar.
	ErrRandom = errors.New("group: cannot sample scalar")
)

// Group is a cyclic group of prime order with a designated generator.
type Group interface {
	Kind() Kind

	// Name returns the curve or group name, e.g. "brainpoolP256r1".
	Name() string

	// Order returns a copy of the group order.
	Order() *big.Int

	// ScalarLen is the byte length of the order, and of private keys.
	ScalarLen() int

	// ElementLen is the byte length of an encoded element.
	ElementLen() int

	Generator() Element

	// Decode parses and validates an encoded element.
	Decode(b []byte) (Element, error)

	// WithGenerator returns the same group with g as generator.
	// This is how mapped domain parameters are represented.
	WithGenerator(g Element) (Group, error)
}

// Element is a member of a Group.
type Element interface {
	// Bytes returns the encoding: an uncompressed point 04||X||Y for EC,
	// the big-endian value padded to the modulus length for DH.
	Bytes() []byte

	Equal(other Element) bool
	IsIdentity() bool

	// Add applies the group operation.
	Add(other Element) (Element, error)

	// ScalarMult applies the group operation k times, k big-endian.
	ScalarMult(k []byte) (Element, error)

	// SharedSecret returns the key agreement output for this element:
	// the X coordinate for EC, the encoded value for DH.
	SharedSecret() []byte
}

// scalarLen returns the byte length of n.
func scalarLen(n *big.Int) int {
	return (n.BitLen() + 7) / 8
}

// reduceScalar interprets k as big-endian and reduces it modulo n.
func reduceScalar(k []byte, n *big.Int) *big.Int {
	s := new(big.Int).SetBytes(k)
	if s.Cmp(n) >= 0 {
		s.Mod(s, n)
	}
	return s
}

// maxSampleAttempts bounds rejection sampling. For every supported order
// the rejection probability per draw is below one half.
const maxSampleAttempts = 128

// RandomScalar draws a uniformly random scalar in [1, n-1] by rejection
// sampling ScalarLen bytes from r. The encoding is ScalarLen bytes long.
// Feeding a fixed reader that yields a valid scalar reproduces that scalar,
// which is what test vectors rely on.
func RandomScalar(g Group, r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	n := g.Order()
	size := g.ScalarLen()
	excess := uint(size*8 - n.BitLen())

	buf := make([]byte, size)
	for range maxSampleAttempts {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRandom, err)
		}
		buf[0] &= 0xFF >> excess
		k := new(big.Int).SetBytes(buf)
		if k.Sign() > 0 && k.Cmp(n) < 0 {
			return buf, nil
		}
	}
	clear(buf)
	return nil, ErrRandom
}

// KeyPair is an ephemeral key pair over a group.
type KeyPair struct {
	private []byte
	public  Element
}

// GenerateKey creates a key pair with a random private scalar from r.
// The public key is the private scalar applied to the group's generator.
func GenerateKey(g Group, r io.Reader) (*KeyPair, error) {
	priv, err := RandomScalar(g, r)
	if err != nil {
		return nil, err
	}
	pub, err := g.Generator().ScalarMult(priv)
	if err != nil {
		clear(priv)
		return nil, err
	}
	if pub.IsIdentity() {
		clear(priv)
		return nil, ErrIdentity
	}
	return &KeyPair{private: priv, public: pub}, nil
}

// Public returns the public key.
func (k *KeyPair) Public() Element {
	return k.public
}

// PublicBytes returns the encoded public key.
func (k *KeyPair) PublicBytes() []byte {
	return k.public.Bytes()
}

// Agree returns peer raised to the private scalar. The result is never the
// neutral element.
func (k *KeyPair) Agree(peer Element) (Element, error) {
	if k.private == nil {
		return nil, errors.New("group: key pair destroyed")
	}
	e, err := peer.ScalarMult(k.private)
	if err != nil {
		return nil, err
	}
	if e.IsIdentity() {
		return nil, ErrIdentity
	}
	return e, nil
}

// Destroy overwrites e with the neutral element. Only elements the caller
// owns, such as key agreement results, may be destroyed; generators and
// decoded peer keys are shared with their group.
func Destroy(e Element) {
	if d, ok := e.(interface{ destroy() }); ok {
		d.destroy()
	}
}

// Destroy zeroes the private scalar. The key pair is unusable afterwards.
func (k *KeyPair) Destroy() {
	if k == nil {
		return
	}
	clear(k.private)
	k.private = nil
}
