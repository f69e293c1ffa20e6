package group

import (
	"bytes"
	"math/big"

	"filippo.io/nistec"
)

// nistPoint is the method set shared by the nistec point types.
type nistPoint[T any] interface {
	*T
	Bytes() []byte
	SetBytes(b []byte) (*T, error)
	Set(q *T) *T
	Add(p1, p2 *T) *T
	ScalarMult(q *T, scalar []byte) (*T, error)
}

// nistCurve implements Group on top of filippo.io/nistec, which accepts
// arbitrary points as scalar multiplication base. That is required because
// the mapped generator is only known at run time.
type nistCurve[T any, P nistPoint[T]] struct {
	params   *curveParams
	newPoint func() *T
	gen      *T
}

type nistElement[T any, P nistPoint[T]] struct {
	curve *nistCurve[T, P]
	p     *T
}

func newNISTCurve[T any, P nistPoint[T]](params *curveParams, newPoint func() *T) *nistCurve[T, P] {
	c := &nistCurve[T, P]{params: params, newPoint: newPoint}
	gen, err := P(newPoint()).SetBytes(params.marshal(params.gx, params.gy))
	if err != nil {
		panic("group: invalid generator for " + params.name)
	}
	c.gen = gen
	return c
}

func newP224() Group {
	return newNISTCurve[nistec.P224Point, *nistec.P224Point](p224Params, nistec.NewP224Point)
}

func newP256() Group {
	return newNISTCurve[nistec.P256Point, *nistec.P256Point](p256Params, nistec.NewP256Point)
}

func newP384() Group {
	return newNISTCurve[nistec.P384Point, *nistec.P384Point](p384Params, nistec.NewP384Point)
}

func newP521() Group {
	return newNISTCurve[nistec.P521Point, *nistec.P521Point](p521Params, nistec.NewP521Point)
}

func (c *nistCurve[T, P]) Kind() Kind { return KindEC }
func (c *nistCurve[T, P]) Name() string { return c.params.name }
func (c *nistCurve[T, P]) Order() *big.Int { return new(big.Int).Set(c.params.n) }
func (c *nistCurve[T, P]) ScalarLen() int { return scalarLen(c.params.n) }
func (c *nistCurve[T, P]) ElementLen() int { return 1 + 2*c.params.byteLen() }

func (c *nistCurve[T, P]) Generator() Element {
	return &nistElement[T, P]{curve: c, p: P(c.newPoint()).Set(c.gen)}
}

func (c *nistCurve[T, P]) Decode(b []byte) (Element, error) {
	if len(b) == 1 && b[0] == 0x00 {
		return nil, ErrIdentity
	}
	if len(b) != c.ElementLen() || b[0] != 0x04 {
		return nil, ErrInvalidEncoding
	}
	p, err := P(c.newPoint()).SetBytes(b)
	if err != nil {
		return nil, ErrNotInGroup
	}
	return &nistElement[T, P]{curve: c, p: p}, nil
}

func (c *nistCurve[T, P]) WithGenerator(g Element) (Group, error) {
	e, ok := g.(*nistElement[T, P])
	if !ok || e.curve.params != c.params {
		return nil, ErrGroupMismatch
	}
	if e.IsIdentity() {
		return nil, ErrIdentity
	}
	return &nistCurve[T, P]{params: c.params, newPoint: c.newPoint, gen: P(c.newPoint()).Set(e.p)}, nil
}

func (e *nistElement[T, P]) Bytes() []byte {
	return P(e.p).Bytes()
}

func (e *nistElement[T, P]) destroy() {
	*e.p = *e.curve.newPoint()
}

func (e *nistElement[T, P]) IsIdentity() bool {
	b := P(e.p).Bytes()
	return len(b) == 1 && b[0] == 0x00
}

func (e *nistElement[T, P]) Equal(other Element) bool {
	o, ok := other.(*nistElement[T, P])
	if !ok || o.curve.params != e.curve.params {
		return false
	}
	return bytes.Equal(e.Bytes(), o.Bytes())
}

func (e *nistElement[T, P]) SharedSecret() []byte {
	size := e.curve.params.byteLen()
	b := e.Bytes()
	if len(b) != 1+2*size {
		return make([]byte, size)
	}
	return b[1 : 1+size]
}

func (e *nistElement[T, P]) Add(other Element) (Element, error) {
	o, ok := other.(*nistElement[T, P])
	if !ok || o.curve.params != e.curve.params {
		return nil, ErrGroupMismatch
	}
	sum := P(e.curve.newPoint()).Add(e.p, o.p)
	return &nistElement[T, P]{curve: e.curve, p: sum}, nil
}

func (e *nistElement[T, P]) ScalarMult(k []byte) (Element, error) {
	scalar := make([]byte, e.curve.params.byteLen())
	reduceScalar(k, e.curve.params.n).FillBytes(scalar)
	defer clear(scalar)

	q, err := P(e.curve.newPoint()).ScalarMult(e.p, scalar)
	if err != nil {
		return nil, err
	}
	return &nistElement[T, P]{curve: e.curve, p: q}, nil
}
