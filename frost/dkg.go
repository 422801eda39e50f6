package frost

import (
	"errors"
	"io"
	"sort"

	"github.com/f3rmion/multisig/group"
)

// ZKPSignature is a Schnorr proof of knowledge of the secret behind the
// first coefficient commitment.
type ZKPSignature struct {
	R group.Point
	Z group.Scalar
}

// DKGUnverifiedCommitment is what a party reveals in the coefficient
// commitment stage: Feldman commitments to its sharing polynomial plus a
// proof that it knows the constant term.
type DKGUnverifiedCommitment struct {
	Commitments []group.Point // C_k = a_k * G
	ZKP         ZKPSignature
}

// DKGCommitment is a commitment whose proof and hash have been checked.
type DKGCommitment struct {
	Commitments []group.Point
}

// SharingParameters describes how a party deals its secret.
type SharingParameters struct {
	// Threshold is the number of shares needed to reconstruct, so the
	// polynomial has Threshold coefficients.
	Threshold int
	// Recipients maps each receiving party's current index to the index
	// its share is evaluated at. Outside of handover the two are equal.
	Recipients map[uint32]uint32
}

// GenerateSharesAndCommitment samples a sharing polynomial with constant
// term secret, commits to it, proves knowledge of the secret and evaluates
// a share for every recipient. A nil secret draws a random one. The caller
// owns the returned shares, keyed by recipient current index.
func (f *FROST) GenerateSharesAndCommitment(
	rng io.Reader,
	context HashContext,
	ownIdx uint32,
	secret group.Scalar,
	params SharingParameters,
) (*DKGUnverifiedCommitment, map[uint32]group.Scalar, error) {
	if params.Threshold < 1 {
		return nil, nil, errors.New("threshold must be at least 1")
	}

	coeffs := make([]group.Scalar, params.Threshold)
	if secret != nil {
		coeffs[0] = f.group.NewScalar().Set(secret)
	} else {
		s, err := f.group.RandomScalar(rng)
		if err != nil {
			return nil, nil, err
		}
		coeffs[0] = s
	}
	for i := 1; i < params.Threshold; i++ {
		c, err := f.group.RandomScalar(rng)
		if err != nil {
			return nil, nil, err
		}
		coeffs[i] = c
	}
	defer func() {
		for _, c := range coeffs {
			c.Zeroize()
		}
	}()

	commits := make([]group.Point, len(coeffs))
	for i, c := range coeffs {
		commits[i] = f.group.NewPoint().ScalarMult(c, f.group.Generator())
	}

	zkp, err := f.generateZKP(rng, context, ownIdx, coeffs[0], commits[0])
	if err != nil {
		return nil, nil, err
	}

	shares := make(map[uint32]group.Scalar, len(params.Recipients))
	for current, future := range params.Recipients {
		shares[current] = f.evalPolynomial(coeffs, f.scalarFromIndex(future))
	}

	return &DKGUnverifiedCommitment{Commitments: commits, ZKP: *zkp}, shares, nil
}

func (f *FROST) generateZKP(rng io.Reader, context HashContext, idx uint32, secret group.Scalar, c0 group.Point) (*ZKPSignature, error) {
	nonce, err := f.group.RandomScalar(rng)
	if err != nil {
		return nil, err
	}
	defer nonce.Zeroize()

	r := f.group.NewPoint().ScalarMult(nonce, f.group.Generator())
	c, err := f.zkpChallenge(idx, context, c0, r)
	if err != nil {
		return nil, err
	}
	// z = nonce + secret * c
	z := f.group.NewScalar().Mul(secret, c)
	z = f.group.NewScalar().Add(nonce, z)
	return &ZKPSignature{R: r, Z: z}, nil
}

// IsZKPValid checks R + c*C0 == z*G.
func (f *FROST) IsZKPValid(idx uint32, context HashContext, commitment *DKGUnverifiedCommitment) bool {
	if len(commitment.Commitments) == 0 {
		return false
	}
	c0 := commitment.Commitments[0]
	c, err := f.zkpChallenge(idx, context, c0, commitment.ZKP.R)
	if err != nil {
		return false
	}
	lhs := f.group.NewPoint().ScalarMult(commitment.ZKP.Z, f.group.Generator())
	rhs := f.group.NewPoint().Add(commitment.ZKP.R, f.group.NewPoint().ScalarMult(c, c0))
	return lhs.Equal(rhs)
}

// VerifyShare checks share * G == sum(C_k * futureIdx^k).
func (f *FROST) VerifyShare(share group.Scalar, commitments []group.Point, futureIdx uint32) bool {
	if share == nil || len(commitments) == 0 {
		return false
	}
	lhs := f.group.NewPoint().ScalarMult(share, f.group.Generator())
	return lhs.Equal(f.evalCommitments(commitments, futureIdx))
}

// ValidateCommitments checks every party's revealed commitment against
// its earlier hash commitment, its proof of knowledge and the expected
// polynomial length. It returns the indexes that failed, sorted.
func (f *FROST) ValidateCommitments(
	context HashContext,
	threshold int,
	commitments map[uint32]*DKGUnverifiedCommitment,
	hashCommitments map[uint32]HashCommitment,
) []uint32 {
	var invalid []uint32
	for idx, c := range commitments {
		hc, ok := hashCommitments[idx]
		switch {
		case !ok,
			len(c.Commitments) != threshold,
			GenerateHashCommitment(c) != hc,
			!f.IsZKPValid(idx, context, c):
			invalid = append(invalid, idx)
		}
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i] < invalid[j] })
	return invalid
}

// CheckHighDegreeCommitments reports whether the combined polynomial has
// full degree, i.e. the sum of the highest coefficient commitments is not
// the identity. A lower degree would let fewer parties reconstruct.
func (f *FROST) CheckHighDegreeCommitments(commitments map[uint32]*DKGCommitment) bool {
	sum := f.group.NewPoint()
	for _, c := range commitments {
		sum = f.group.NewPoint().Add(sum, c.Commitments[len(c.Commitments)-1])
	}
	return !sum.IsIdentity()
}

// DeriveAggregatePubkey sums the constant term commitments.
func (f *FROST) DeriveAggregatePubkey(commitments map[uint32]*DKGCommitment) group.Point {
	y := f.group.NewPoint()
	for _, c := range commitments {
		y = f.group.NewPoint().Add(y, c.Commitments[0])
	}
	return y
}

// DeriveLocalPubkeys computes every receiving party's public key share,
// the sum over dealers of their committed polynomial at that party's
// future index. The result is keyed by future index.
func (f *FROST) DeriveLocalPubkeys(commitments map[uint32]*DKGCommitment, futureIdxs []uint32) map[uint32]group.Point {
	out := make(map[uint32]group.Point, len(futureIdxs))
	for _, j := range futureIdxs {
		acc := f.group.NewPoint()
		for _, c := range commitments {
			acc = f.group.NewPoint().Add(acc, f.evalCommitments(c.Commitments, j))
		}
		out[j] = acc
	}
	return out
}

// SumShares adds the shares a party accepted into its secret key share.
func (f *FROST) SumShares(shares map[uint32]group.Scalar) group.Scalar {
	x := f.group.NewScalar()
	for _, s := range shares {
		x = f.group.NewScalar().Add(x, s)
	}
	return x
}
