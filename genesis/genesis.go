// Package genesis creates key shares without running a ceremony.
//
// All shares are dealt in one process, so the dealer learns the secret
// key. This is only acceptable for a network's first key, which is
// expected to be handed over to a new authority set straight away, and
// for tests that need a key to sign or hand over with.
package genesis

import (
	"errors"
	"fmt"
	"io"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/scheme"
)

// maxIncompatibleAttempts bounds the search for an initially incompatible
// key. Schemes that accept about half of all keys need two attempts on
// average.
var maxIncompatibleAttempts = 256

var ErrAlwaysCompatible = errors.New("genesis: scheme accepts every key")

// GenerateKeyData deals a key between participants with the default
// threshold. It returns the aggregate public key and every participant's
// key info.
func GenerateKeyData(s scheme.Scheme, participants []ceremony.AccountID, rng io.Reader) (group.Point, map[ceremony.AccountID]*keygen.KeygenResultInfo, error) {
	return generate(s, participants, false, rng)
}

// GenerateKeyDataWithIncompatibleStart is GenerateKeyData with a freshly
// sampled key that s does not accept, so the returned key is always one
// that had to be scaled to become compatible.
func GenerateKeyDataWithIncompatibleStart(s scheme.Scheme, participants []ceremony.AccountID, rng io.Reader) (group.Point, map[ceremony.AccountID]*keygen.KeygenResultInfo, error) {
	return generate(s, participants, true, rng)
}

func generate(s scheme.Scheme, participants []ceremony.AccountID, incompatible bool, rng io.Reader) (group.Point, map[ceremony.AccountID]*keygen.KeygenResultInfo, error) {
	mapping, err := ceremony.NewPartyIdxMapping(participants)
	if err != nil {
		return nil, nil, err
	}
	params, err := ceremony.NewThresholdParameters(mapping.NumParties(), 0)
	if err != nil {
		return nil, nil, err
	}
	f := frost.New(s.Group())
	idxs := mapping.AllIndexes().Sorted()

	var (
		commitments map[uint32]*frost.DKGCommitment
		shares      map[uint32]map[uint32]group.Scalar
	)
	for attempt := 0; ; attempt++ {
		if incompatible && attempt == maxIncompatibleAttempts {
			return nil, nil, fmt.Errorf("%w: %s", ErrAlwaysCompatible, s.ID())
		}
		commitments, shares, err = deal(f, mapping, params, idxs, rng)
		if err != nil {
			return nil, nil, err
		}
		if !incompatible || !s.IsPubkeyCompatible(f.DeriveAggregatePubkey(commitments)) {
			break
		}
		zeroize(shares)
	}
	defer zeroize(shares)

	y := f.DeriveAggregatePubkey(commitments)
	local := f.DeriveLocalPubkeys(commitments, idxs)
	pubkeys := make(map[ceremony.AccountID]group.Point, len(local))
	for idx, pk := range local {
		id, _ := mapping.AccountID(idx)
		pubkeys[id] = pk
	}

	infos := make(map[ceremony.AccountID]*keygen.KeygenResultInfo, len(idxs))
	var pubkey group.Point
	for _, idx := range idxs {
		incoming := make(map[uint32]group.Scalar, len(shares))
		for dealer, out := range shares {
			incoming[dealer] = out[idx]
		}
		key, err := keygen.NewCompatible(s, f.SumShares(incoming), y, pubkeys)
		if err != nil {
			return nil, nil, err
		}
		id, _ := mapping.AccountID(idx)
		infos[id] = &keygen.KeygenResultInfo{
			Key:     key,
			Mapping: mapping,
			Params:  params,
			Scheme:  s.ID(),
		}
		pubkey = key.PublicKey()
	}
	return pubkey, infos, nil
}

// deal plays every participant's dealer role. The returned shares are
// keyed by dealer, then by recipient.
func deal(f *frost.FROST, mapping *ceremony.PartyIdxMapping, params ceremony.ThresholdParameters, idxs []uint32, rng io.Reader) (map[uint32]*frost.DKGCommitment, map[uint32]map[uint32]group.Scalar, error) {
	recipients := make(map[uint32]uint32, len(idxs))
	for _, idx := range idxs {
		recipients[idx] = idx
	}
	context := keygen.HashContextFor(0, mapping)

	commitments := make(map[uint32]*frost.DKGCommitment, len(idxs))
	shares := make(map[uint32]map[uint32]group.Scalar, len(idxs))
	for _, idx := range idxs {
		c, out, err := f.GenerateSharesAndCommitment(rng, context, idx, nil, frost.SharingParameters{
			Threshold:  params.Threshold,
			Recipients: recipients,
		})
		if err != nil {
			zeroize(shares)
			return nil, nil, err
		}
		commitments[idx] = &frost.DKGCommitment{Commitments: c.Commitments}
		shares[idx] = out
	}
	return commitments, shares, nil
}

func zeroize(shares map[uint32]map[uint32]group.Scalar) {
	for _, out := range shares {
		for _, s := range out {
			s.Zeroize()
		}
	}
}
