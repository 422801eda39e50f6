package scheme

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/secp256k1"
)

const bitcoinPayloadLen = 32

// BIP340 produces taproot key-path signatures. Aggregate keys must have an
// even y coordinate; a group commitment with odd y is handled by negating
// every party's nonce, which is equivalent to using -R.
type BIP340 struct {
	group group.Group
}

// NewBitcoin returns the BIP340 scheme over a secp256k1 group.
func NewBitcoin(g *secp256k1.Secp256k1) *BIP340 {
	return &BIP340{group: g}
}

func (s *BIP340) ID() ID             { return Bitcoin }
func (s *BIP340) Group() group.Group { return s.group }

func (s *BIP340) CheckPayload(payload []byte) error {
	if len(payload) != bitcoinPayloadLen {
		return fmt.Errorf("%w: want %d byte sighash, got %d bytes", ErrInvalidPayload, bitcoinPayloadLen, len(payload))
	}
	return nil
}

func (s *BIP340) IsPubkeyCompatible(pubkey group.Point) bool {
	p := pubkey.(*secp256k1.Point)
	return !p.IsIdentity() && !p.HasOddY()
}

func (s *BIP340) BuildChallenge(pubkey, commitment group.Point, payload []byte) (group.Scalar, error) {
	if err := s.CheckPayload(payload); err != nil {
		return nil, err
	}
	rx := commitment.(*secp256k1.Point).XBytes()
	px := pubkey.(*secp256k1.Point).XBytes()
	h := chainhash.TaggedHash(chainhash.TagBIP0340Challenge, rx[:], px[:], payload)
	return s.group.NewScalar().SetBytes(h[:])
}

func (s *BIP340) BuildResponse(nonce group.Scalar, commitment group.Point, lambdaSecret, challenge group.Scalar) group.Scalar {
	ex := s.group.NewScalar().Mul(challenge, lambdaSecret)
	if commitment.(*secp256k1.Point).HasOddY() {
		return s.group.NewScalar().Sub(ex, nonce)
	}
	return s.group.NewScalar().Add(nonce, ex)
}

func (s *BIP340) IsPartyResponseValid(pubkeyShare group.Point, lambda group.Scalar, partyCommitment, groupCommitment group.Point, challenge, response group.Scalar) bool {
	lc := s.group.NewScalar().Mul(lambda, challenge)
	yc := s.group.NewPoint().ScalarMult(lc, pubkeyShare)
	var rhs group.Point
	if groupCommitment.(*secp256k1.Point).HasOddY() {
		rhs = s.group.NewPoint().Sub(yc, partyCommitment)
	} else {
		rhs = s.group.NewPoint().Add(partyCommitment, yc)
	}
	lhs := s.group.NewPoint().ScalarMult(response, s.group.Generator())
	return lhs.Equal(rhs)
}

func (s *BIP340) BuildSignature(response group.Scalar, groupCommitment group.Point) []byte {
	rx := groupCommitment.(*secp256k1.Point).XBytes()
	sig := make([]byte, 0, schnorr.SignatureSize)
	sig = append(sig, rx[:]...)
	return append(sig, response.Bytes()...)
}

func (s *BIP340) Verify(pubkey group.Point, payload, signature []byte) error {
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	px := pubkey.(*secp256k1.Point).XBytes()
	pub, err := schnorr.ParsePubKey(px[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !sig.Verify(payload, pub) {
		return ErrBadSignature
	}
	return nil
}
