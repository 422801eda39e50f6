// Package group is the curve abstraction shared by the keygen and signing
// ceremonies.
//
// Every supported chain signs over one of three curves: secp256k1 (EVM and
// Bitcoin), Edwards25519 (Solana) and Baby Jubjub. The ceremony code only
// ever sees [Group], [Scalar] and [Point], and each curve package provides
// one implementation of them.
//
// Arithmetic writes into the receiver and returns it, so a fresh value is
// taken from the group for every result:
//
//	// lambda * x_i
//	s := g.NewScalar().Mul(lambda, share)
//	// s * G
//	p := g.NewPoint().ScalarMult(s, g.Generator())
//
// Implementations reduce scalars modulo the group order and reject
// encodings of points that are not on the curve. Zeroize must overwrite
// the scalar's storage in place, since erased nonces and key shares rely
// on it.
package group
