package scheme

import (
	stded25519 "crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"github.com/f3rmion/multisig/ed25519"
	"github.com/f3rmion/multisig/group"
)

// Ed25519Schnorr produces plain RFC 8032 signatures, as used for Solana
// transactions. The challenge is SHA-512(R || A || M) read little-endian.
type Ed25519Schnorr struct {
	additive
}

// NewSolana returns the Ed25519 scheme.
func NewSolana(g *ed25519.Ed25519) *Ed25519Schnorr {
	return &Ed25519Schnorr{additive{group: g}}
}

func (s *Ed25519Schnorr) ID() ID { return Solana }

func (s *Ed25519Schnorr) CheckPayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	return nil
}

func (s *Ed25519Schnorr) BuildChallenge(pubkey, commitment group.Point, payload []byte) (group.Scalar, error) {
	h := sha512.New()
	h.Write(commitment.Bytes())
	h.Write(pubkey.Bytes())
	h.Write(payload)
	return s.group.NewScalar().SetBytes(reverse(h.Sum(nil)))
}

func (s *Ed25519Schnorr) BuildSignature(response group.Scalar, groupCommitment group.Point) []byte {
	sig := make([]byte, 0, stded25519.SignatureSize)
	sig = append(sig, groupCommitment.Bytes()...)
	return append(sig, reverse(response.Bytes())...)
}

func (s *Ed25519Schnorr) Verify(pubkey group.Point, payload, signature []byte) error {
	if !stded25519.Verify(pubkey.Bytes(), payload, signature) {
		return ErrBadSignature
	}
	return nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
