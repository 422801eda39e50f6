package bjj

import (
	"errors"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/f3rmion/multisig/group"
	"golang.org/x/crypto/blake2b"
)

// ScalarLen is the length of an encoded scalar.
const ScalarLen = 32

var (
	// order is the prime subgroup order, not the BN254 scalar field
	// modulus the curve is defined over.
	order = subgroupOrder()

	errNotInSubgroup = errors.New("bjj: point not in prime order subgroup")
	errNotOnCurve    = errors.New("bjj: point not on curve")
)

func subgroupOrder() *big.Int {
	curve := twistededwards.GetEdwardsCurve()
	return new(big.Int).Set(&curve.Order)
}

// Scalar is an integer modulo the subgroup order. Every method leaves it
// reduced.
type Scalar struct {
	v big.Int
}

func val(s group.Scalar) *big.Int { return &s.(*Scalar).v }

func (s *Scalar) mod() group.Scalar {
	s.v.Mod(&s.v, order)
	return s
}

func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.v.Add(val(a), val(b))
	return s.mod()
}

func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	s.v.Sub(val(a), val(b))
	return s.mod()
}

func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.v.Mul(val(a), val(b))
	return s.mod()
}

func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.v.Neg(val(a))
	return s.mod()
}

func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	if a.IsZero() {
		return nil, errors.New("bjj: inverse of zero")
	}
	s.v.ModInverse(val(a), order)
	return s, nil
}

func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.v.Set(val(a))
	return s
}

// Bytes is the 32-byte big-endian encoding.
func (s *Scalar) Bytes() []byte {
	return s.v.FillBytes(make([]byte, ScalarLen))
}

// SetBytes reads a big-endian integer of any length and reduces it.
func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	s.v.SetBytes(data)
	return s.mod(), nil
}

func (s *Scalar) Equal(b group.Scalar) bool { return s.v.Cmp(val(b)) == 0 }

func (s *Scalar) IsZero() bool { return s.v.Sign() == 0 }

func (s *Scalar) SetUint64(v uint64) group.Scalar {
	s.v.SetUint64(v)
	return s.mod()
}

// Zeroize clears the words backing s before resetting it.
func (s *Scalar) Zeroize() {
	words := s.v.Bits()
	for i := range words {
		words[i] = 0
	}
	s.v.SetInt64(0)
}

// Point is an affine Baby Jubjub point. The identity is (0, 1).
type Point struct {
	p twistededwards.PointAffine
}

func aff(p group.Point) *twistededwards.PointAffine { return &p.(*Point).p }

func (p *Point) Add(a, b group.Point) group.Point {
	p.p.Add(aff(a), aff(b))
	return p
}

func (p *Point) Sub(a, b group.Point) group.Point {
	var neg twistededwards.PointAffine
	neg.Neg(aff(b))
	p.p.Add(aff(a), &neg)
	return p
}

func (p *Point) Negate(a group.Point) group.Point {
	p.p.Neg(aff(a))
	return p
}

func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	p.p.ScalarMultiplication(aff(q), val(s))
	return p
}

func (p *Point) Set(a group.Point) group.Point {
	p.p.Set(aff(a))
	return p
}

// Bytes is gnark's 32-byte compressed encoding.
func (p *Point) Bytes() []byte {
	b := p.p.Bytes()
	return b[:]
}

// SetBytes decodes a compressed point. Points outside the prime order
// subgroup are rejected, since the cofactor is 8.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	var q twistededwards.PointAffine
	if err := q.Unmarshal(data); err != nil {
		return nil, err
	}
	if !q.IsOnCurve() {
		return nil, errNotOnCurve
	}
	var check twistededwards.PointAffine
	check.ScalarMultiplication(&q, order)
	if !check.IsZero() {
		return nil, errNotInSubgroup
	}
	p.p.Set(&q)
	return p, nil
}

func (p *Point) Equal(b group.Point) bool { return p.p.Equal(aff(b)) }

func (p *Point) IsIdentity() bool { return p.p.IsZero() }

// BJJ is the Baby Jubjub group.
type BJJ struct{}

func (g *BJJ) NewScalar() group.Scalar { return new(Scalar) }

func (g *BJJ) NewPoint() group.Point {
	p := new(Point)
	p.p.X.SetZero()
	p.p.Y.SetOne()
	return p
}

func (g *BJJ) Generator() group.Point {
	return &Point{p: twistededwards.GetEdwardsCurve().Base}
}

// RandomScalar reduces 64 random bytes, which keeps the modulo bias
// negligible.
func (g *BJJ) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [64]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	s := new(Scalar)
	s.v.SetBytes(buf[:])
	return s.mod(), nil
}

func (g *BJJ) HashToScalar(data ...[]byte) (group.Scalar, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	for _, d := range data {
		h.Write(d)
	}
	s := new(Scalar)
	s.v.SetBytes(h.Sum(nil))
	return s.mod(), nil
}

// Order is the subgroup order, big-endian.
func (g *BJJ) Order() []byte { return order.Bytes() }

func (g *BJJ) Name() string { return "babyjubjub" }
