package secp256k1

import (
	"bytes"
	"errors"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/f3rmion/multisig/group"
	"golang.org/x/crypto/blake2b"
)

// CompressedLen is the length of an encoded point. The identity is
// encoded as CompressedLen zero bytes.
const CompressedLen = 33

var curveOrder = new(big.Int).Set(btcec.S256().N)

// Scalar represents an element of the secp256k1 scalar field.
// It implements [group.Scalar] by wrapping btcec's ModNScalar, which keeps
// every value reduced modulo the group order.
type Scalar struct {
	inner btcec.ModNScalar
}

// Add sets s to a + b (mod n) and returns s.
func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.inner.Add2(&a.(*Scalar).inner, &b.(*Scalar).inner)
	return s
}

// Sub sets s to a - b (mod n) and returns s.
func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	var negB btcec.ModNScalar
	negB.NegateVal(&b.(*Scalar).inner)
	s.inner.Add2(&a.(*Scalar).inner, &negB)
	return s
}

// Mul sets s to a * b (mod n) and returns s.
func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.inner.Mul2(&a.(*Scalar).inner, &b.(*Scalar).inner)
	return s
}

// Negate sets s to -a (mod n) and returns s.
func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.inner.NegateVal(&a.(*Scalar).inner)
	return s
}

// Invert sets s to a^(-1) (mod n) and returns s.
// Returns an error if a is zero.
func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	aScalar := a.(*Scalar)
	if aScalar.IsZero() {
		return nil, errors.New("cannot invert zero scalar")
	}
	s.inner.InverseValNonConst(&aScalar.inner)
	return s, nil
}

// Set copies the value of a into s and returns s.
func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.inner.Set(&a.(*Scalar).inner)
	return s
}

// Bytes returns the scalar as a 32-byte big-endian representation.
func (s *Scalar) Bytes() []byte {
	b := s.inner.Bytes()
	return b[:]
}

// SetBytes sets s from a big-endian byte slice of any length and
// returns s. The value is reduced modulo the group order.
func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	if len(data) > 32 {
		reduced := new(big.Int).SetBytes(data)
		reduced.Mod(reduced, curveOrder)
		var buf [32]byte
		reduced.FillBytes(buf[:])
		s.inner.SetByteSlice(buf[:])
		return s, nil
	}
	s.inner.SetByteSlice(data)
	return s, nil
}

// Equal reports whether s and b represent the same scalar value.
func (s *Scalar) Equal(b group.Scalar) bool {
	return s.inner.Equals(&b.(*Scalar).inner)
}

// IsZero reports whether s is the zero scalar.
func (s *Scalar) IsZero() bool {
	return s.inner.IsZero()
}

// SetUint64 sets s to v and returns s.
func (s *Scalar) SetUint64(v uint64) group.Scalar {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	s.inner.SetByteSlice(buf[:])
	return s
}

// Zeroize sets s to zero in place.
func (s *Scalar) Zeroize() {
	s.inner.Zero()
}

// Point represents a point on the secp256k1 curve in Jacobian
// coordinates. The zero value is the point at infinity.
type Point struct {
	inner btcec.JacobianPoint
}

// Add sets p to a + b and returns p.
func (p *Point) Add(a, b group.Point) group.Point {
	var r btcec.JacobianPoint
	btcec.AddNonConst(&a.(*Point).inner, &b.(*Point).inner, &r)
	p.inner.Set(&r)
	return p
}

// Sub sets p to a - b and returns p.
func (p *Point) Sub(a, b group.Point) group.Point {
	var negB Point
	negB.Negate(b)
	return p.Add(a, &negB)
}

// Negate sets p to -a and returns p.
func (p *Point) Negate(a group.Point) group.Point {
	aPoint := a.(*Point)
	if aPoint.IsIdentity() {
		p.inner = btcec.JacobianPoint{}
		return p
	}
	neg := aPoint.inner
	neg.ToAffine()
	neg.Y.Negate(1).Normalize()
	p.inner.Set(&neg)
	return p
}

// ScalarMult sets p to s * q and returns p.
func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	qPoint := q.(*Point)
	if qPoint.IsIdentity() {
		p.inner = btcec.JacobianPoint{}
		return p
	}
	var r btcec.JacobianPoint
	btcec.ScalarMultNonConst(&s.(*Scalar).inner, &qPoint.inner, &r)
	p.inner.Set(&r)
	return p
}

// Set copies the value of a into p and returns p.
func (p *Point) Set(a group.Point) group.Point {
	p.inner.Set(&a.(*Point).inner)
	return p
}

// Bytes returns the 33-byte compressed SEC1 encoding of p.
func (p *Point) Bytes() []byte {
	if p.IsIdentity() {
		return make([]byte, CompressedLen)
	}
	return p.publicKey().SerializeCompressed()
}

// SerializeUncompressed returns the 65-byte uncompressed SEC1 encoding
// of p. It must not be called on the identity.
func (p *Point) SerializeUncompressed() []byte {
	return p.publicKey().SerializeUncompressed()
}

// XBytes returns the big-endian affine x coordinate of p.
func (p *Point) XBytes() [32]byte {
	affine := p.inner
	affine.ToAffine()
	return *affine.X.Bytes()
}

// HasOddY reports whether the affine y coordinate of p is odd.
func (p *Point) HasOddY() bool {
	affine := p.inner
	affine.ToAffine()
	return affine.Y.IsOdd()
}

func (p *Point) publicKey() *btcec.PublicKey {
	affine := p.inner
	affine.ToAffine()
	return btcec.NewPublicKey(&affine.X, &affine.Y)
}

// SetBytes sets p from a compressed or uncompressed encoding and returns p.
// Returns an error if the data does not represent a valid curve point.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	if len(data) == CompressedLen && bytes.Equal(data, make([]byte, CompressedLen)) {
		p.inner = btcec.JacobianPoint{}
		return p, nil
	}
	pub, err := btcec.ParsePubKey(data)
	if err != nil {
		return nil, err
	}
	pub.AsJacobian(&p.inner)
	return p, nil
}

// Equal reports whether p and b represent the same curve point.
func (p *Point) Equal(b group.Point) bool {
	return bytes.Equal(p.Bytes(), b.Bytes())
}

// IsIdentity reports whether p is the point at infinity.
func (p *Point) IsIdentity() bool {
	return (p.inner.X.IsZero() && p.inner.Y.IsZero()) || p.inner.Z.IsZero()
}

// Secp256k1 implements [group.Group] for the secp256k1 curve used by
// Bitcoin and Ethereum.
type Secp256k1 struct{}

// NewScalar returns a new scalar initialized to zero.
func (g *Secp256k1) NewScalar() group.Scalar {
	return &Scalar{}
}

// NewPoint returns a new point initialized to the identity element.
func (g *Secp256k1) NewPoint() group.Point {
	return &Point{}
}

// Generator returns the standard base point G.
func (g *Secp256k1) Generator() group.Point {
	var one btcec.ModNScalar
	one.SetInt(1)
	var p Point
	btcec.ScalarBaseMultNonConst(&one, &p.inner)
	p.inner.ToAffine()
	return &p
}

// RandomScalar generates a random scalar from r, reduced modulo n.
func (g *Secp256k1) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [32]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	s := &Scalar{}
	s.inner.SetByteSlice(buf[:])
	return s, nil
}

// HashToScalar hashes the concatenated data with Blake2b-256 and reduces
// the digest modulo n.
func (g *Secp256k1) HashToScalar(data ...[]byte) (group.Scalar, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	for _, d := range data {
		h.Write(d)
	}
	return g.NewScalar().SetBytes(h.Sum(nil))
}

// Order returns the group order n as a big-endian byte slice.
func (g *Secp256k1) Order() []byte {
	return curveOrder.Bytes()
}

// Name returns "secp256k1".
func (g *Secp256k1) Name() string {
	return "secp256k1"
}
