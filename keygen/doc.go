// Package keygen implements distributed key generation and key handover
// as a sequence of ceremony stages.
//
// A keygen runs stages 1 through 9. Every party commits to the hash of
// its polynomial commitments, reveals them with a proof of knowledge,
// deals shares privately, complains about shares that fail to verify and
// answers complaints against it by revealing the disputed shares. Each
// broadcast round is followed by a round that cross-checks what everybody
// received. The result is scaled with [NewCompatible] so the target chain
// accepts the aggregate key.
//
// A handover starts with stage 0, in which the sharing parties publish
// the public key share every party is expected to deal. Sharing parties
// then deal their Lagrange-weighted share of the existing key and
// everybody else deals zero, so the aggregate key does not change. The
// new shares are issued under the receiving parties' mapping.
package keygen
