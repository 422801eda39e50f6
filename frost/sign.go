package frost

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/scheme"
)

// ErrNonceConsumed is returned when a nonce pair is used a second time.
var ErrNonceConsumed = errors.New("nonce pair already consumed")

// SigningCommitment is broadcast in the first signing stage.
type SigningCommitment struct {
	D group.Point // hiding nonce commitment, d * G
	E group.Point // binding nonce commitment, e * G
}

// SecretNoncePair holds a signer's one-time nonces for one payload.
// It can be used for exactly one local signature; after that, or after
// Zeroize, the scalars are gone.
type SecretNoncePair struct {
	mu         sync.Mutex
	d, e       group.Scalar
	commitment SigningCommitment
	consumed   bool
}

// GenerateNoncePair samples a fresh nonce pair.
func (f *FROST) GenerateNoncePair(rng io.Reader) (*SecretNoncePair, error) {
	d, err := f.group.RandomScalar(rng)
	if err != nil {
		return nil, err
	}
	e, err := f.group.RandomScalar(rng)
	if err != nil {
		return nil, err
	}
	return &SecretNoncePair{
		d: d,
		e: e,
		commitment: SigningCommitment{
			D: f.group.NewPoint().ScalarMult(d, f.group.Generator()),
			E: f.group.NewPoint().ScalarMult(e, f.group.Generator()),
		},
	}, nil
}

// Commitment returns the public commitment to the pair.
func (n *SecretNoncePair) Commitment() SigningCommitment {
	return n.commitment
}

// Zeroize erases the nonces and marks the pair consumed. It is safe to
// call more than once.
func (n *SecretNoncePair) Zeroize() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.consumed = true
	n.zeroNonces()
}

// IsConsumed reports whether the pair can no longer be used.
func (n *SecretNoncePair) IsConsumed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.consumed
}

func (n *SecretNoncePair) zeroNonces() {
	if n.d != nil {
		n.d.Zeroize()
		n.d = nil
	}
	if n.e != nil {
		n.e.Zeroize()
		n.e = nil
	}
}

// SigningInputs is the verified view of one payload's signing round.
type SigningInputs struct {
	Payload     []byte
	Pubkey      group.Point                  // aggregate key
	Commitments map[uint32]SigningCommitment // one per signer
}

func (in *SigningInputs) signers() []uint32 {
	idxs := make([]uint32, 0, len(in.Commitments))
	for idx := range in.Commitments {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

// bindingFactors computes rho_i for every signer.
func (f *FROST) bindingFactors(in *SigningInputs) (map[uint32]group.Scalar, error) {
	signers := in.signers()
	var encoded []byte
	for _, idx := range signers {
		c := in.Commitments[idx]
		encoded = append(encoded, indexBytes(idx)...)
		encoded = append(encoded, c.D.Bytes()...)
		encoded = append(encoded, c.E.Bytes()...)
	}
	factors := make(map[uint32]group.Scalar, len(signers))
	for _, idx := range signers {
		rho, err := f.bindingFactor(idx, in.Payload, encoded)
		if err != nil {
			return nil, err
		}
		factors[idx] = rho
	}
	return factors, nil
}

// partyCommitments returns D_i + rho_i * E_i per signer and their sum,
// the group commitment R.
func (f *FROST) partyCommitments(in *SigningInputs, rhos map[uint32]group.Scalar) (map[uint32]group.Point, group.Point) {
	parts := make(map[uint32]group.Point, len(in.Commitments))
	R := f.group.NewPoint()
	for idx, c := range in.Commitments {
		rhoE := f.group.NewPoint().ScalarMult(rhos[idx], c.E)
		term := f.group.NewPoint().Add(c.D, rhoE)
		parts[idx] = term
		R = f.group.NewPoint().Add(R, term)
	}
	return parts, R
}

// GenerateLocalSig computes this signer's response and consumes nonces.
// The nonces are erased before it returns, whether or not it succeeds.
func (f *FROST) GenerateLocalSig(
	s scheme.Scheme,
	nonces *SecretNoncePair,
	in *SigningInputs,
	ownIdx uint32,
	secretShare group.Scalar,
) (group.Scalar, error) {
	nonces.mu.Lock()
	defer nonces.mu.Unlock()

	if nonces.consumed {
		return nil, ErrNonceConsumed
	}
	nonces.consumed = true
	defer nonces.zeroNonces()

	if _, ok := in.Commitments[ownIdx]; !ok {
		return nil, errors.New("own commitment not found in commitment list")
	}

	rhos, err := f.bindingFactors(in)
	if err != nil {
		return nil, err
	}
	_, R := f.partyCommitments(in, rhos)
	c, err := s.BuildChallenge(in.Pubkey, R, in.Payload)
	if err != nil {
		return nil, err
	}
	lambda, err := f.LagrangeCoefficient(ownIdx, in.signers())
	if err != nil {
		return nil, err
	}

	// nonce = d + rho * e
	nonce := f.group.NewScalar().Mul(rhos[ownIdx], nonces.e)
	nonce = f.group.NewScalar().Add(nonces.d, nonce)
	defer nonce.Zeroize()

	lambdaX := f.group.NewScalar().Mul(lambda, secretShare)
	defer lambdaX.Zeroize()

	return s.BuildResponse(nonce, R, lambdaX, c), nil
}

// InvalidSharesError lists the signers whose responses failed the
// per-party check.
type InvalidSharesError struct {
	Parties []uint32
}

func (e *InvalidSharesError) Error() string {
	return fmt.Sprintf("invalid signature shares from parties %v", e.Parties)
}

// Aggregate checks every response against the signer's public key share
// and, if all pass, sums them into the scheme's signature encoding.
// Bad responses are reported as an *InvalidSharesError.
func (f *FROST) Aggregate(
	s scheme.Scheme,
	in *SigningInputs,
	partyPubkeys map[uint32]group.Point,
	responses map[uint32]group.Scalar,
) ([]byte, error) {
	rhos, err := f.bindingFactors(in)
	if err != nil {
		return nil, err
	}
	parts, R := f.partyCommitments(in, rhos)
	c, err := s.BuildChallenge(in.Pubkey, R, in.Payload)
	if err != nil {
		return nil, err
	}

	signers := in.signers()
	var invalid []uint32
	z := f.group.NewScalar()
	for _, idx := range signers {
		resp, ok := responses[idx]
		pk, hasKey := partyPubkeys[idx]
		if !ok || !hasKey {
			invalid = append(invalid, idx)
			continue
		}
		lambda, err := f.LagrangeCoefficient(idx, signers)
		if err != nil {
			return nil, err
		}
		if !s.IsPartyResponseValid(pk, lambda, parts[idx], R, c, resp) {
			invalid = append(invalid, idx)
			continue
		}
		z = f.group.NewScalar().Add(z, resp)
	}
	if len(invalid) > 0 {
		return nil, &InvalidSharesError{Parties: invalid}
	}

	sig := s.BuildSignature(z, R)
	if err := s.Verify(in.Pubkey, in.Payload, sig); err != nil {
		return nil, fmt.Errorf("aggregate signature: %w", err)
	}
	return sig, nil
}
