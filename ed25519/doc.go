// Package ed25519 implements [group.Group] for edwards25519 using the decred
// edwards curve arithmetic. Points use the RFC 8032 32-byte encoding, so
// aggregate keys are directly usable as Solana account keys.
package ed25519
