package ed25519

import (
	"bytes"
	"errors"
	"io"
	"math/big"

	"github.com/decred/dcrd/dcrec/edwards/v2"
	"github.com/f3rmion/multisig/group"
	"golang.org/x/crypto/blake2b"
)

// PointLen is the length of an encoded point.
const PointLen = 32

var (
	curve      = edwards.Edwards()
	curveOrder = new(big.Int).Set(curve.Params().N)

	// identityEncoding is the RFC 8032 encoding of (0, 1).
	identityEncoding = [PointLen]byte{1}
)

// Scalar represents an element of the Ed25519 scalar field (mod L).
type Scalar struct {
	inner *big.Int
}

func newScalar() *Scalar {
	return &Scalar{inner: new(big.Int)}
}

func (s *Scalar) reduce() {
	s.inner.Mod(s.inner, curveOrder)
}

// Add sets s to a + b (mod L) and returns s.
func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.inner.Add(a.(*Scalar).inner, b.(*Scalar).inner)
	s.reduce()
	return s
}

// Sub sets s to a - b (mod L) and returns s.
func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	s.inner.Sub(a.(*Scalar).inner, b.(*Scalar).inner)
	s.reduce()
	return s
}

// Mul sets s to a * b (mod L) and returns s.
func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.inner.Mul(a.(*Scalar).inner, b.(*Scalar).inner)
	s.reduce()
	return s
}

// Negate sets s to -a (mod L) and returns s.
func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.inner.Neg(a.(*Scalar).inner)
	s.reduce()
	return s
}

// Invert sets s to a^(-1) (mod L) and returns s.
func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	aScalar := a.(*Scalar)
	if aScalar.IsZero() {
		return nil, errors.New("cannot invert zero scalar")
	}
	s.inner.ModInverse(aScalar.inner, curveOrder)
	return s, nil
}

// Set copies the value of a into s and returns s.
func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.inner.Set(a.(*Scalar).inner)
	return s
}

// Bytes returns the scalar as a 32-byte big-endian representation.
// Signature encodings that need little-endian scalars reverse it.
func (s *Scalar) Bytes() []byte {
	buf := make([]byte, 32)
	s.inner.FillBytes(buf)
	return buf
}

// SetBytes sets s from a big-endian byte slice, reduced modulo L.
func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	s.inner.SetBytes(data)
	s.reduce()
	return s, nil
}

// Equal reports whether s and b represent the same scalar value.
func (s *Scalar) Equal(b group.Scalar) bool {
	return s.inner.Cmp(b.(*Scalar).inner) == 0
}

// IsZero reports whether s is the zero scalar.
func (s *Scalar) IsZero() bool {
	return s.inner.Sign() == 0
}

// SetUint64 sets s to v and returns s.
func (s *Scalar) SetUint64(v uint64) group.Scalar {
	s.inner.SetUint64(v)
	s.reduce()
	return s
}

// Zeroize clears the words backing s and resets it to zero.
func (s *Scalar) Zeroize() {
	words := s.inner.Bits()
	for i := range words {
		words[i] = 0
	}
	s.inner.SetInt64(0)
}

// Point is an affine point on edwards25519. The identity is (0, 1).
type Point struct {
	x, y *big.Int
}

func newIdentity() *Point {
	return &Point{x: big.NewInt(0), y: big.NewInt(1)}
}

// Add sets p to a + b and returns p.
func (p *Point) Add(a, b group.Point) group.Point {
	aPoint, bPoint := a.(*Point), b.(*Point)
	p.x, p.y = curve.Add(aPoint.x, aPoint.y, bPoint.x, bPoint.y)
	return p
}

// Sub sets p to a - b and returns p.
func (p *Point) Sub(a, b group.Point) group.Point {
	var negB Point
	negB.Negate(b)
	return p.Add(a, &negB)
}

// Negate sets p to -a and returns p. Negation on a twisted Edwards curve
// flips the sign of x.
func (p *Point) Negate(a group.Point) group.Point {
	aPoint := a.(*Point)
	x := new(big.Int).Neg(aPoint.x)
	x.Mod(x, curve.Params().P)
	p.x, p.y = x, new(big.Int).Set(aPoint.y)
	return p
}

// ScalarMult sets p to s * q and returns p.
func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	scalar, qPoint := s.(*Scalar), q.(*Point)
	if scalar.IsZero() || qPoint.IsIdentity() {
		id := newIdentity()
		p.x, p.y = id.x, id.y
		return p
	}
	p.x, p.y = curve.ScalarMult(qPoint.x, qPoint.y, scalar.Bytes())
	return p
}

// Set copies the value of a into p and returns p.
func (p *Point) Set(a group.Point) group.Point {
	aPoint := a.(*Point)
	p.x, p.y = new(big.Int).Set(aPoint.x), new(big.Int).Set(aPoint.y)
	return p
}

// Bytes returns the 32-byte RFC 8032 encoding of p.
func (p *Point) Bytes() []byte {
	if p.IsIdentity() {
		enc := identityEncoding
		return enc[:]
	}
	return edwards.NewPublicKey(p.x, p.y).SerializeCompressed()
}

// SetBytes decodes an RFC 8032 point encoding into p.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	if len(data) != PointLen {
		return nil, errors.New("invalid ed25519 point length")
	}
	if bytes.Equal(data, identityEncoding[:]) {
		id := newIdentity()
		p.x, p.y = id.x, id.y
		return p, nil
	}
	pub, err := edwards.ParsePubKey(data)
	if err != nil {
		return nil, err
	}
	p.x, p.y = new(big.Int).Set(pub.X), new(big.Int).Set(pub.Y)
	return p, nil
}

// Equal reports whether p and b represent the same curve point.
func (p *Point) Equal(b group.Point) bool {
	bPoint := b.(*Point)
	return p.x.Cmp(bPoint.x) == 0 && p.y.Cmp(bPoint.y) == 0
}

// IsIdentity reports whether p is (0, 1).
func (p *Point) IsIdentity() bool {
	return p.x.Sign() == 0 && p.y.Cmp(big.NewInt(1)) == 0
}

// Ed25519 implements [group.Group] for edwards25519, the curve behind
// Solana account keys.
type Ed25519 struct{}

// NewScalar returns a new scalar initialized to zero.
func (g *Ed25519) NewScalar() group.Scalar {
	return newScalar()
}

// NewPoint returns a new point initialized to the identity element.
func (g *Ed25519) NewPoint() group.Point {
	return newIdentity()
}

// Generator returns the RFC 8032 base point.
func (g *Ed25519) Generator() group.Point {
	params := curve.Params()
	return &Point{x: new(big.Int).Set(params.Gx), y: new(big.Int).Set(params.Gy)}
}

// RandomScalar draws 64 bytes from r and reduces them modulo L.
func (g *Ed25519) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [64]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	s := newScalar()
	s.inner.SetBytes(buf[:])
	s.reduce()
	return s, nil
}

// HashToScalar hashes the concatenated data with Blake2b-256 and reduces
// the digest modulo L.
func (g *Ed25519) HashToScalar(data ...[]byte) (group.Scalar, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	for _, d := range data {
		h.Write(d)
	}
	return g.NewScalar().SetBytes(h.Sum(nil))
}

// Order returns L as a big-endian byte slice.
func (g *Ed25519) Order() []byte {
	return curveOrder.Bytes()
}

// Name returns "ed25519".
func (g *Ed25519) Name() string {
	return "ed25519"
}
