package group

import (
	"math/big"
)

// modpParams describes the order-q subgroup of Z_p^* generated by g.
type modpParams struct {
	name string
	p    *big.Int
	g    *big.Int
	q    *big.Int
}

// modpGroup implements Group for finite-field Diffie-Hellman.
type modpGroup struct {
	params *modpParams
	gen    *big.Int
}

type modpElement struct {
	group *modpGroup
	y     *big.Int
}

var one = big.NewInt(1)

func newModPGroup(params *modpParams) *modpGroup {
	return &modpGroup{params: params, gen: params.g}
}

func (g *modpGroup) Kind() Kind { return KindDH }
func (g *modpGroup) Name() string { return g.params.name }
func (g *modpGroup) Order() *big.Int { return new(big.Int).Set(g.params.q) }
func (g *modpGroup) ScalarLen() int { return scalarLen(g.params.q) }
func (g *modpGroup) ElementLen() int { return (g.params.p.BitLen() + 7) / 8 }

func (g *modpGroup) Generator() Element {
	return &modpElement{group: g, y: new(big.Int).Set(g.gen)}
}

// Decode accepts big-endian values up to the modulus length and checks
// 1 < y < p-1 and y^q = 1 mod p.
func (g *modpGroup) Decode(b []byte) (Element, error) {
	if len(b) == 0 || len(b) > g.ElementLen() {
		return nil, ErrInvalidEncoding
	}
	y := new(big.Int).SetBytes(b)
	if y.Cmp(one) == 0 {
		return nil, ErrIdentity
	}
	pMinus1 := new(big.Int).Sub(g.params.p, one)
	if y.Sign() == 0 || y.Cmp(pMinus1) >= 0 {
		return nil, ErrNotInGroup
	}
	if new(big.Int).Exp(y, g.params.q, g.params.p).Cmp(one) != 0 {
		return nil, ErrNotInGroup
	}
	return &modpElement{group: g, y: y}, nil
}

func (g *modpGroup) WithGenerator(gen Element) (Group, error) {
	e, ok := gen.(*modpElement)
	if !ok || e.group.params != g.params {
		return nil, ErrGroupMismatch
	}
	if e.IsIdentity() {
		return nil, ErrIdentity
	}
	return &modpGroup{params: g.params, gen: new(big.Int).Set(e.y)}, nil
}

func (e *modpElement) Bytes() []byte {
	out := make([]byte, e.group.ElementLen())
	e.y.FillBytes(out)
	return out
}

func (e *modpElement) destroy() {
	clear(e.y.Bits())
	e.y = new(big.Int).Set(one)
}

func (e *modpElement) IsIdentity() bool {
	return e.y.Cmp(one) == 0
}

func (e *modpElement) Equal(other Element) bool {
	o, ok := other.(*modpElement)
	return ok && o.group.params == e.group.params && o.y.Cmp(e.y) == 0
}

func (e *modpElement) SharedSecret() []byte {
	return e.Bytes()
}

func (e *modpElement) Add(other Element) (Element, error) {
	o, ok := other.(*modpElement)
	if !ok || o.group.params != e.group.params {
		return nil, ErrGroupMismatch
	}
	y := new(big.Int).Mul(e.y, o.y)
	y.Mod(y, e.group.params.p)
	return &modpElement{group: e.group, y: y}, nil
}

func (e *modpElement) ScalarMult(k []byte) (Element, error) {
	x := reduceScalar(k, e.group.params.q)
	y := new(big.Int).Exp(e.y, x, e.group.params.p)
	return &modpElement{group: e.group, y: y}, nil
}
