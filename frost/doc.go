// Package frost implements the cryptographic core of the threshold
// ceremonies: Feldman verifiable secret sharing with proofs of knowledge
// for distributed key generation, and FROST-style two-nonce Schnorr
// signing with per-party response checks.
//
// The package is stateless apart from [SecretNoncePair]. Stage processors
// in the keygen and signing packages call into it with the data they have
// collected from the network.
//
// # Distributed Key Generation
//
// Each dealer samples a polynomial of Threshold coefficients and calls
// [FROST.GenerateSharesAndCommitment]. It first publishes
// [GenerateHashCommitment] of the result, then the commitment itself.
// Receivers check the revealed commitments with
// [FROST.ValidateCommitments] and every private share with
// [FROST.VerifyShare]. The key share is [FROST.SumShares] over accepted
// shares, the aggregate key is [FROST.DeriveAggregatePubkey], and
// [FROST.DeriveLocalPubkeys] yields every party's public key share.
//
// During key handover a dealer passes its Lagrange-weighted existing share
// as the secret (or zero if it holds none), so the aggregate key is
// unchanged.
//
// # Threshold Signing
//
//  1. Each signer calls [FROST.GenerateNoncePair] per payload and
//     broadcasts [SecretNoncePair.Commitment].
//  2. With the verified commitments of all signers, each signer calls
//     [FROST.GenerateLocalSig], which consumes the nonces.
//  3. [FROST.Aggregate] checks each response with the scheme's per-party
//     equation and encodes the final signature.
//
// Lagrange coefficients are always taken over the signers that actually
// committed, not the full key holder set.
//
// # Security Considerations
//
// Nonce pairs must never be reused. [SecretNoncePair] refuses a second
// use and erases its scalars on first use or on [SecretNoncePair.Zeroize].
package frost
