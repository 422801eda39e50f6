package scheme

import (
	"fmt"

	"github.com/f3rmion/multisig/bjj"
	"github.com/f3rmion/multisig/group"
)

// BabyJubjubSchnorr signs over Baby Jubjub with challenge
// HashToScalar(R || Y || M), the form verified by zk circuits.
type BabyJubjubSchnorr struct {
	additive
}

// NewBabyJubjub returns the Baby Jubjub scheme.
func NewBabyJubjub(g *bjj.BJJ) *BabyJubjubSchnorr {
	return &BabyJubjubSchnorr{additive{group: g}}
}

func (s *BabyJubjubSchnorr) ID() ID { return BabyJubjub }

func (s *BabyJubjubSchnorr) CheckPayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	return nil
}

func (s *BabyJubjubSchnorr) BuildChallenge(pubkey, commitment group.Point, payload []byte) (group.Scalar, error) {
	return s.group.HashToScalar(commitment.Bytes(), pubkey.Bytes(), payload)
}

// BuildSignature returns R followed by the 32-byte big-endian response.
func (s *BabyJubjubSchnorr) BuildSignature(response group.Scalar, groupCommitment group.Point) []byte {
	return append(append([]byte{}, groupCommitment.Bytes()...), response.Bytes()...)
}

// Verify checks z*G == R + c*Y.
func (s *BabyJubjubSchnorr) Verify(pubkey group.Point, payload, signature []byte) error {
	pointLen := len(s.group.Generator().Bytes())
	if len(signature) != pointLen+32 {
		return fmt.Errorf("%w: bad length %d", ErrBadSignature, len(signature))
	}
	R, err := s.group.NewPoint().SetBytes(signature[:pointLen])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	z, err := s.group.NewScalar().SetBytes(signature[pointLen:])
	if err != nil {
		return err
	}
	c, err := s.BuildChallenge(pubkey, R, payload)
	if err != nil {
		return err
	}
	lhs := s.group.NewPoint().ScalarMult(z, s.group.Generator())
	rhs := s.group.NewPoint().Add(R, s.group.NewPoint().ScalarMult(c, pubkey))
	if !lhs.Equal(rhs) {
		return ErrBadSignature
	}
	return nil
}
