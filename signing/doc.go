// Package signing runs the four-stage threshold signing ceremony.
//
// Every signer broadcasts one nonce commitment per payload, the
// commitments are cross-checked in a verification round, each signer
// broadcasts its responses, and the responses are cross-checked again
// before being aggregated into one signature per payload. Signers that
// never committed are dropped as long as the remaining set still meets
// the key's threshold; a signer that commits and then goes silent fails
// the ceremony.
package signing
