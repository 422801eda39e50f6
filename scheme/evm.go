package scheme

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/secp256k1"
	"golang.org/x/crypto/sha3"
)

const (
	evmPayloadLen = 32
	evmAddressLen = 20
	// EVMSignatureLen is s (32 bytes) followed by the address of k*G.
	EVMSignatureLen = 32 + evmAddressLen
)

// halfOrder is floor(n/2)+1. The on-chain verifier requires the aggregate
// key's x coordinate to be below it.
var halfOrder = func() *big.Int {
	n := new(big.Int).SetBytes((&secp256k1.Secp256k1{}).Order())
	n.Rsh(n, 1)
	return n.Add(n, big.NewInt(1))
}()

// EVMSchnorr is the Schnorr variant verified by the EVM key manager
// contract. The challenge is
//
//	keccak256(pubkey.x || parity || msgHash || address(k*G))
//
// and the response is s = k - e*x, so verification recovers k*G as
// s*G + e*Y and compares its address.
type EVMSchnorr struct {
	group group.Group
}

// NewEVM returns the EVM scheme over a secp256k1 group.
func NewEVM(g *secp256k1.Secp256k1) *EVMSchnorr {
	return &EVMSchnorr{group: g}
}

func (s *EVMSchnorr) ID() ID             { return EVM }
func (s *EVMSchnorr) Group() group.Group { return s.group }

func (s *EVMSchnorr) CheckPayload(payload []byte) error {
	if len(payload) != evmPayloadLen {
		return fmt.Errorf("%w: want %d byte hash, got %d bytes", ErrInvalidPayload, evmPayloadLen, len(payload))
	}
	return nil
}

func (s *EVMSchnorr) IsPubkeyCompatible(pubkey group.Point) bool {
	p := pubkey.(*secp256k1.Point)
	if p.IsIdentity() {
		return false
	}
	x := p.XBytes()
	return new(big.Int).SetBytes(x[:]).Cmp(halfOrder) < 0
}

func (s *EVMSchnorr) BuildChallenge(pubkey, commitment group.Point, payload []byte) (group.Scalar, error) {
	return s.BuildChallengeFromAddress(pubkey, evmAddress(commitment.(*secp256k1.Point)), payload)
}

func (s *EVMSchnorr) BuildResponse(nonce group.Scalar, _ group.Point, lambdaSecret, challenge group.Scalar) group.Scalar {
	ex := s.group.NewScalar().Mul(challenge, lambdaSecret)
	return s.group.NewScalar().Sub(nonce, ex)
}

func (s *EVMSchnorr) IsPartyResponseValid(pubkeyShare group.Point, lambda group.Scalar, partyCommitment, _ group.Point, challenge, response group.Scalar) bool {
	lc := s.group.NewScalar().Mul(lambda, challenge)
	rhs := s.group.NewPoint().Sub(partyCommitment, s.group.NewPoint().ScalarMult(lc, pubkeyShare))
	lhs := s.group.NewPoint().ScalarMult(response, s.group.Generator())
	return lhs.Equal(rhs)
}

func (s *EVMSchnorr) BuildSignature(response group.Scalar, groupCommitment group.Point) []byte {
	sig := make([]byte, 0, EVMSignatureLen)
	sig = append(sig, response.Bytes()...)
	return append(sig, evmAddress(groupCommitment.(*secp256k1.Point))...)
}

func (s *EVMSchnorr) Verify(pubkey group.Point, payload, signature []byte) error {
	if len(signature) != EVMSignatureLen {
		return fmt.Errorf("%w: bad length %d", ErrBadSignature, len(signature))
	}
	resp, err := s.group.NewScalar().SetBytes(signature[:32])
	if err != nil {
		return err
	}
	e, err := s.BuildChallengeFromAddress(pubkey, signature[32:], payload)
	if err != nil {
		return err
	}
	kG := s.group.NewPoint().Add(
		s.group.NewPoint().ScalarMult(e, pubkey),
		s.group.NewPoint().ScalarMult(resp, s.group.Generator()),
	)
	if kG.IsIdentity() || !bytes.Equal(evmAddress(kG.(*secp256k1.Point)), signature[32:]) {
		return ErrBadSignature
	}
	return nil
}

// BuildChallengeFromAddress computes the challenge when only the address
// of k*G is known, as the contract does.
func (s *EVMSchnorr) BuildChallengeFromAddress(pubkey group.Point, address, payload []byte) (group.Scalar, error) {
	if err := s.CheckPayload(payload); err != nil {
		return nil, err
	}
	p := pubkey.(*secp256k1.Point)
	x := p.XBytes()
	parity := byte(0)
	if p.HasOddY() {
		parity = 1
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(x[:])
	h.Write([]byte{parity})
	h.Write(payload)
	h.Write(address)
	return s.group.NewScalar().SetBytes(h.Sum(nil))
}

// evmAddress returns the last 20 bytes of keccak256 over the uncompressed
// point without its 0x04 prefix.
func evmAddress(p *secp256k1.Point) []byte {
	if p.IsIdentity() {
		return make([]byte, evmAddressLen)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(p.SerializeUncompressed()[1:])
	sum := h.Sum(nil)
	return sum[len(sum)-evmAddressLen:]
}
