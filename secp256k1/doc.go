// Package secp256k1 implements [group.Group] for the secp256k1 curve on top
// of btcec. It backs the EVM and Bitcoin signing schemes.
//
// Points encode as 33-byte compressed SEC1 strings. The point at infinity,
// which SEC1 cannot express in compressed form, encodes as 33 zero bytes so
// that zero secret contributions (as produced during key handover) can be
// carried in coefficient commitments.
package secp256k1
