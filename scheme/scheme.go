package scheme

import (
	"errors"
	"fmt"

	"github.com/f3rmion/multisig/bjj"
	"github.com/f3rmion/multisig/ed25519"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/secp256k1"
)

// ID names a supported signature scheme. It is used in ceremony log
// labels, metrics and as the keystore namespace.
type ID string

const (
	EVM        ID = "evm"
	Bitcoin    ID = "bitcoin"
	Solana     ID = "solana"
	BabyJubjub ID = "babyjubjub"
)

var (
	ErrUnknownScheme  = errors.New("unknown signature scheme")
	ErrInvalidPayload = errors.New("invalid signing payload")
	ErrBadSignature   = errors.New("signature verification failed")
)

// Scheme captures everything that differs between target chains: the
// group, how the Schnorr challenge and response are formed, which
// aggregate keys the chain can use and how the final signature is encoded.
type Scheme interface {
	ID() ID
	Group() group.Group

	// CheckPayload rejects payloads the chain cannot sign, such as a
	// message hash of the wrong length.
	CheckPayload(payload []byte) error

	// IsPubkeyCompatible reports whether the chain accepts pubkey as an
	// aggregate key. Keygen scales its result until this holds.
	IsPubkeyCompatible(pubkey group.Point) bool

	// BuildChallenge computes the Schnorr challenge for the aggregate key,
	// the group nonce commitment and the payload.
	BuildChallenge(pubkey, commitment group.Point, payload []byte) (group.Scalar, error)

	// BuildResponse computes one party's response from its nonce, the
	// group commitment, its Lagrange-weighted secret share and the
	// challenge.
	BuildResponse(nonce group.Scalar, commitment group.Point, lambdaSecret, challenge group.Scalar) group.Scalar

	// IsPartyResponseValid checks a single party's response against its
	// public key share and its own nonce commitment (D_i + rho_i*E_i).
	IsPartyResponseValid(pubkeyShare group.Point, lambda group.Scalar, partyCommitment, groupCommitment group.Point, challenge, response group.Scalar) bool

	// BuildSignature encodes the aggregate response and group commitment
	// into the chain's signature format.
	BuildSignature(response group.Scalar, groupCommitment group.Point) []byte

	// Verify checks an encoded signature with the chain's own rules.
	Verify(pubkey group.Point, payload, signature []byte) error
}

// New returns the scheme for id backed by its default group.
func New(id ID) (Scheme, error) {
	switch id {
	case EVM:
		return NewEVM(&secp256k1.Secp256k1{}), nil
	case Bitcoin:
		return NewBitcoin(&secp256k1.Secp256k1{}), nil
	case Solana:
		return NewSolana(&ed25519.Ed25519{}), nil
	case BabyJubjub:
		return NewBabyJubjub(&bjj.BJJ{}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, id)
}

// All returns every supported scheme id.
func All() []ID {
	return []ID{EVM, Bitcoin, Solana, BabyJubjub}
}

// additive implements the response and per-party check shared by schemes
// whose response is s = k + c*x.
type additive struct {
	group group.Group
}

func (a additive) Group() group.Group {
	return a.group
}

func (a additive) IsPubkeyCompatible(group.Point) bool {
	return true
}

func (a additive) BuildResponse(nonce group.Scalar, _ group.Point, lambdaSecret, challenge group.Scalar) group.Scalar {
	cx := a.group.NewScalar().Mul(challenge, lambdaSecret)
	return a.group.NewScalar().Add(nonce, cx)
}

func (a additive) IsPartyResponseValid(pubkeyShare group.Point, lambda group.Scalar, partyCommitment, _ group.Point, challenge, response group.Scalar) bool {
	lc := a.group.NewScalar().Mul(lambda, challenge)
	rhs := a.group.NewPoint().Add(partyCommitment, a.group.NewPoint().ScalarMult(lc, pubkeyShare))
	lhs := a.group.NewPoint().ScalarMult(response, a.group.Generator())
	return lhs.Equal(rhs)
}
