package group

import (
	"math/big"
)

// curveParams holds the parameters of y^2 = x^3 + ax + b over GF(p) with a
// base point of prime order n. All supported curves have cofactor 1.
type curveParams struct {
	name   string
	p      *big.Int
	a      *big.Int
	b      *big.Int
	gx, gy *big.Int
	n      *big.Int
}

func (c *curveParams) byteLen() int {
	return (c.p.BitLen() + 7) / 8
}

// onCurve reports whether (x, y) satisfies the curve equation.
func (c *curveParams) onCurve(x, y *big.Int) bool {
	if x.Sign() < 0 || x.Cmp(c.p) >= 0 || y.Sign() < 0 || y.Cmp(c.p) >= 0 {
		return false
	}
	lhs := new(big.Int).Mul(y, y)
	lhs.Mod(lhs, c.p)

	rhs := new(big.Int).Mul(x, x)
	rhs.Add(rhs, c.a)
	rhs.Mul(rhs, x)
	rhs.Add(rhs, c.b)
	rhs.Mod(rhs, c.p)
	return lhs.Cmp(rhs) == 0
}

// marshal encodes (x, y) as an uncompressed point.
func (c *curveParams) marshal(x, y *big.Int) []byte {
	size := c.byteLen()
	out := make([]byte, 1+2*size)
	out[0] = 0x04
	x.FillBytes(out[1 : 1+size])
	y.FillBytes(out[1+size:])
	return out
}

// unmarshal decodes an uncompressed point and checks it is on the curve.
func (c *curveParams) unmarshal(b []byte) (x, y *big.Int, err error) {
	size := c.byteLen()
	if len(b) == 1 && b[0] == 0x00 {
		return nil, nil, ErrIdentity
	}
	if len(b) != 1+2*size || b[0] != 0x04 {
		return nil, nil, ErrInvalidEncoding
	}
	x = new(big.Int).SetBytes(b[1 : 1+size])
	y = new(big.Int).SetBytes(b[1+size:])
	if !c.onCurve(x, y) {
		return nil, nil, ErrNotInGroup
	}
	return x, y, nil
}

// weierstrassCurve implements Group with affine big.Int arithmetic. It
// serves the curves without an optimized implementation: P-192 and the
// Brainpool family.
type weierstrassCurve struct {
	params *curveParams
	gen    *affinePoint
}

// affinePoint is a curve point; x == nil is the point at infinity.
type affinePoint struct {
	curve *weierstrassCurve
	x, y  *big.Int
}

func newWeierstrassCurve(params *curveParams) *weierstrassCurve {
	c := &weierstrassCurve{params: params}
	c.gen = &affinePoint{curve: c, x: params.gx, y: params.gy}
	return c
}

func (c *weierstrassCurve) Kind() Kind { return KindEC }
func (c *weierstrassCurve) Name() string { return c.params.name }
func (c *weierstrassCurve) Order() *big.Int { return new(big.Int).Set(c.params.n) }
func (c *weierstrassCurve) ScalarLen() int { return scalarLen(c.params.n) }
func (c *weierstrassCurve) ElementLen() int { return 1 + 2*c.params.byteLen() }
func (c *weierstrassCurve) Generator() Element { return c.point(c.gen.x, c.gen.y) }

func (c *weierstrassCurve) Decode(b []byte) (Element, error) {
	x, y, err := c.params.unmarshal(b)
	if err != nil {
		return nil, err
	}
	return &affinePoint{curve: c, x: x, y: y}, nil
}

func (c *weierstrassCurve) WithGenerator(g Element) (Group, error) {
	p, ok := g.(*affinePoint)
	if !ok || p.curve.params != c.params {
		return nil, ErrGroupMismatch
	}
	if p.IsIdentity() {
		return nil, ErrIdentity
	}
	mapped := &weierstrassCurve{params: c.params}
	mapped.gen = mapped.point(p.x, p.y)
	return mapped, nil
}

func (p *affinePoint) Bytes() []byte {
	if p.x == nil {
		return []byte{0x00}
	}
	return p.curve.params.marshal(p.x, p.y)
}

// point wraps coordinates in a new element that owns copies of them, since
// add and scalarMult may return their inputs.
func (c *weierstrassCurve) point(x, y *big.Int) *affinePoint {
	if x == nil {
		return &affinePoint{curve: c}
	}
	return &affinePoint{curve: c, x: new(big.Int).Set(x), y: new(big.Int).Set(y)}
}

func (p *affinePoint) destroy() {
	if p.x != nil {
		clear(p.x.Bits())
		clear(p.y.Bits())
	}
	p.x, p.y = nil, nil
}

func (p *affinePoint) IsIdentity() bool {
	return p.x == nil
}

func (p *affinePoint) Equal(other Element) bool {
	q, ok := other.(*affinePoint)
	if !ok || q.curve.params != p.curve.params {
		return false
	}
	if p.IsIdentity() || q.IsIdentity() {
		return p.IsIdentity() == q.IsIdentity()
	}
	return p.x.Cmp(q.x) == 0 && p.y.Cmp(q.y) == 0
}

func (p *affinePoint) SharedSecret() []byte {
	out := make([]byte, p.curve.params.byteLen())
	if p.x != nil {
		p.x.FillBytes(out)
	}
	return out
}

func (p *affinePoint) Add(other Element) (Element, error) {
	q, ok := other.(*affinePoint)
	if !ok || q.curve.params != p.curve.params {
		return nil, ErrGroupMismatch
	}
	x, y := p.curve.add(p.x, p.y, q.x, q.y)
	return p.curve.point(x, y), nil
}

func (p *affinePoint) ScalarMult(k []byte) (Element, error) {
	x, y := p.curve.scalarMult(p.x, p.y, reduceScalar(k, p.curve.params.n))
	return p.curve.point(x, y), nil
}

// add returns (x1, y1) + (x2, y2); nil coordinates denote infinity.
func (c *weierstrassCurve) add(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int) {
	if x1 == nil {
		return x2, y2
	}
	if x2 == nil {
		return x1, y1
	}
	p := c.params.p

	if x1.Cmp(x2) == 0 {
		sum := new(big.Int).Add(y1, y2)
		if sum.Mod(sum, p).Sign() == 0 {
			return nil, nil
		}
		return c.double(x1, y1)
	}

	// lambda = (y2 - y1) / (x2 - x1)
	num := new(big.Int).Sub(y2, y1)
	den := new(big.Int).Sub(x2, x1)
	den.Mod(den, p)
	den.ModInverse(den, p)
	lambda := num.Mul(num, den)
	lambda.Mod(lambda, p)

	return c.finish(lambda, x1, y1, x2)
}

// double returns 2 * (x, y).
func (c *weierstrassCurve) double(x, y *big.Int) (*big.Int, *big.Int) {
	if x == nil || y.Sign() == 0 {
		return nil, nil
	}
	p := c.params.p

	// lambda = (3x^2 + a) / 2y
	num := new(big.Int).Mul(x, x)
	num.Mul(num, big.NewInt(3))
	num.Add(num, c.params.a)
	den := new(big.Int).Lsh(y, 1)
	den.Mod(den, p)
	den.ModInverse(den, p)
	lambda := num.Mul(num, den)
	lambda.Mod(lambda, p)

	return c.finish(lambda, x, y, x)
}

// finish computes x3 = lambda^2 - x1 - x2 and y3 = lambda(x1 - x3) - y1.
func (c *weierstrassCurve) finish(lambda, x1, y1, x2 *big.Int) (*big.Int, *big.Int) {
	p := c.params.p

	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, x1)
	x3.Sub(x3, x2)
	x3.Mod(x3, p)

	y3 := new(big.Int).Sub(x1, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, y1)
	y3.Mod(y3, p)
	return x3, y3
}

// scalarMult computes k * (x, y) with a Montgomery ladder.
func (c *weierstrassCurve) scalarMult(x, y, k *big.Int) (*big.Int, *big.Int) {
	var r0x, r0y *big.Int
	r1x, r1y := x, y
	for i := k.BitLen() - 1; i >= 0; i-- {
		if k.Bit(i) == 0 {
			r1x, r1y = c.add(r0x, r0y, r1x, r1y)
			r0x, r0y = c.double(r0x, r0y)
		} else {
			r0x, r0y = c.add(r0x, r0y, r1x, r1y)
			r1x, r1y = c.double(r1x, r1y)
		}
	}
	return r0x, r0y
}
