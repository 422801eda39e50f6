package group

import (
	"io"
)

// Scalar is an integer modulo the group order. Secret shares, nonces,
// challenges and Lagrange coefficients are all scalars.
//
// Arithmetic methods write the result into the receiver and return it, so
// calls chain: g.NewScalar().Mul(a, b).Add(...). Operands may alias the
// receiver.
type Scalar interface {
	Add(a, b Scalar) Scalar
	Sub(a, b Scalar) Scalar
	Mul(a, b Scalar) Scalar
	Negate(a Scalar) Scalar
	// Invert fails for zero.
	Invert(a Scalar) (Scalar, error)
	Set(a Scalar) Scalar
	SetUint64(v uint64) Scalar

	// Bytes is the fixed-size encoding used on the wire and in the
	// keystore.
	Bytes() []byte
	// SetBytes reads data as an integer and reduces it modulo the order.
	// Hash outputs enter the field this way.
	SetBytes(data []byte) (Scalar, error)

	Equal(b Scalar) bool
	IsZero() bool

	// Zeroize overwrites the receiver's storage with zeros.
	Zeroize()
}

// Point is a curve point: a public key, a coefficient commitment or a
// nonce commitment. Methods follow the same receiver convention as Scalar.
type Point interface {
	Add(a, b Point) Point
	Sub(a, b Point) Point
	Negate(a Point) Point
	ScalarMult(s Scalar, p Point) Point
	Set(a Point) Point

	// Bytes is the compressed encoding.
	Bytes() []byte
	// SetBytes fails for data that does not decode to a point on the
	// curve.
	SetBytes(data []byte) (Point, error)

	Equal(b Point) bool
	IsIdentity() bool
}

// Group creates scalars and points of one curve. NewScalar returns zero
// and NewPoint the identity.
type Group interface {
	NewScalar() Scalar
	NewPoint() Point
	Generator() Point
	RandomScalar(r io.Reader) (Scalar, error)
	// HashToScalar hashes the concatenated input with Blake2b-256 and
	// reduces the digest modulo the order.
	HashToScalar(data ...[]byte) (Scalar, error)
	// Order is the big-endian group order.
	Order() []byte
	// Name identifies the group in logs and key records.
	Name() string
}
