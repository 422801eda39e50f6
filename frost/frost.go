package frost

import (
	"errors"

	"github.com/f3rmion/multisig/group"
)

// ErrDuplicateIndex is returned when an index set used for interpolation
// contains the same index twice.
var ErrDuplicateIndex = errors.New("duplicate index in signer set")

// FROST holds the group the ceremony math runs over. It carries no
// per-ceremony state; keygen and signing stages keep their own.
type FROST struct {
	group group.Group
}

// New creates a FROST instance over g.
func New(g group.Group) *FROST {
	return &FROST{group: g}
}

// Group returns the underlying group.
func (f *FROST) Group() group.Group {
	return f.group
}

func (f *FROST) scalarFromIndex(idx uint32) group.Scalar {
	return f.group.NewScalar().SetUint64(uint64(idx))
}

// evalPolynomial evaluates coeffs at x using Horner's rule.
func (f *FROST) evalPolynomial(coeffs []group.Scalar, x group.Scalar) group.Scalar {
	result := f.group.NewScalar().Set(coeffs[len(coeffs)-1])
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = f.group.NewScalar().Mul(result, x)
		result = f.group.NewScalar().Add(result, coeffs[i])
	}
	return result
}

// evalCommitments evaluates a committed polynomial "in the exponent":
// sum over k of commitments[k] * x^k.
func (f *FROST) evalCommitments(commitments []group.Point, x uint32) group.Point {
	xs := f.scalarFromIndex(x)
	result := f.group.NewPoint()
	xPower := f.group.NewScalar().SetUint64(1)
	for _, c := range commitments {
		term := f.group.NewPoint().ScalarMult(xPower, c)
		result = f.group.NewPoint().Add(result, term)
		xPower = f.group.NewScalar().Mul(xPower, xs)
	}
	return result
}

// LagrangeCoefficient returns the coefficient that interpolates the
// polynomial at zero from the shares held by set, for the share at idx.
// The set must contain idx and must not contain duplicates.
func (f *FROST) LagrangeCoefficient(idx uint32, set []uint32) (group.Scalar, error) {
	seen := make(map[uint32]bool, len(set))
	num := f.group.NewScalar().SetUint64(1)
	den := f.group.NewScalar().SetUint64(1)
	id := f.scalarFromIndex(idx)

	for _, j := range set {
		if seen[j] {
			return nil, ErrDuplicateIndex
		}
		seen[j] = true
		if j == idx {
			continue
		}
		js := f.scalarFromIndex(j)
		// num *= j
		num = f.group.NewScalar().Mul(num, js)
		// den *= (j - idx)
		diff := f.group.NewScalar().Sub(js, id)
		den = f.group.NewScalar().Mul(den, diff)
	}
	if !seen[idx] {
		return nil, errors.New("index not in set")
	}

	denInv, err := f.group.NewScalar().Invert(den)
	if err != nil {
		return nil, err
	}
	return f.group.NewScalar().Mul(num, denInv), nil
}
