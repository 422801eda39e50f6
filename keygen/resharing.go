package keygen

import (
	"fmt"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/scheme"
)

// ParticipantStatus is a party's role in a handover.
type ParticipantStatus int

const (
	// Sharing parties hold a share of the key being handed over.
	Sharing ParticipantStatus = iota
	// NonSharing parties contribute a zero secret. They become
	// NonSharingReceivedKeys once the expected public key shares arrive.
	NonSharing
	NonSharingReceivedKeys
)

func (s ParticipantStatus) String() string {
	switch s {
	case Sharing:
		return "Sharing"
	case NonSharing:
		return "NonSharing"
	case NonSharingReceivedKeys:
		return "NonSharingReceivedKeys"
	}
	return fmt.Sprintf("ParticipantStatus(%d)", int(s))
}

// ResharingContext turns a keygen ceremony into a handover of an existing
// key from the sharing parties to the receiving parties.
type ResharingContext struct {
	// Sharing and Receiving are ceremony indexes under Mapping.
	Sharing   ceremony.IndexSet
	Receiving ceremony.IndexSet
	Status    ParticipantStatus
	// SecretShare is our Lagrange-weighted share, zero unless Sharing.
	SecretShare group.Scalar
	// ExpectedPubkeyShares is the public counterpart of every party's
	// SecretShare, keyed by account. Parties absent from the map are
	// expected to share zero.
	ExpectedPubkeyShares map[ceremony.AccountID]group.Point
	// Mapping covers sharing and receiving parties. It is the mapping the
	// handover ceremony itself runs under.
	Mapping *ceremony.PartyIdxMapping
	// FutureMapping covers only the receiving parties. The new shares are
	// issued under it.
	FutureMapping *ceremony.PartyIdxMapping
}

// NewResharingContextWithoutKey is the context of a party that holds no
// share of the key.
func NewResharingContextWithoutKey(sharing, receiving []ceremony.AccountID) (*ResharingContext, error) {
	all := append(append([]ceremony.AccountID{}, sharing...), receiving...)
	mapping, err := ceremony.NewPartyIdxMapping(dedup(all))
	if err != nil {
		return nil, err
	}
	future, err := ceremony.NewPartyIdxMapping(receiving)
	if err != nil {
		return nil, err
	}
	sharingIdxs, err := mapping.IndexesOf(sharing)
	if err != nil {
		return nil, err
	}
	receivingIdxs, err := mapping.IndexesOf(receiving)
	if err != nil {
		return nil, err
	}
	return &ResharingContext{
		Sharing:       sharingIdxs,
		Receiving:     receivingIdxs,
		Status:        NonSharing,
		Mapping:       mapping,
		FutureMapping: future,
	}, nil
}

// NewResharingContextFromKey is the context of a holder of info. A holder
// listed in sharing re-deals its share weighted by its Lagrange
// coefficient over the sharing set. Every sharing party's expected public
// key share is derived the same way.
func NewResharingContextFromKey(s scheme.Scheme, info *KeygenResultInfo, ownID ceremony.AccountID, sharing, receiving []ceremony.AccountID) (*ResharingContext, error) {
	ctx, err := NewResharingContextWithoutKey(sharing, receiving)
	if err != nil {
		return nil, err
	}
	if _, ok := info.Mapping.IdxOf(ownID); !ok {
		return nil, fmt.Errorf("%w: %s", ceremony.ErrUnknownParticipant, ownID)
	}
	originalIdxs, err := info.Mapping.IndexesOf(sharing)
	if err != nil {
		return nil, err
	}
	set := originalIdxs.Sorted()
	g := s.Group()
	f := frost.New(g)

	expected := make(map[ceremony.AccountID]group.Point, len(sharing))
	for _, id := range sharing {
		idx, _ := info.Mapping.IdxOf(id)
		lambda, err := f.LagrangeCoefficient(idx, set)
		if err != nil {
			return nil, err
		}
		pk, ok := info.Key.PartyPublicKey(id)
		if !ok {
			return nil, fmt.Errorf("keygen: no public key share for %s", id)
		}
		expected[id] = g.NewPoint().ScalarMult(lambda, pk)
		if id == ownID {
			ctx.Status = Sharing
			ctx.SecretShare = g.NewScalar().Mul(lambda, info.Key.SecretShare())
		}
	}
	ctx.ExpectedPubkeyShares = expected
	return ctx, nil
}

// expectedByIdx keys the expected public key shares by ceremony index,
// with the identity for every party that does not share.
func (r *ResharingContext) expectedByIdx(g group.Group) map[ceremony.AuthorityIndex]group.Point {
	out := make(map[ceremony.AuthorityIndex]group.Point, r.Mapping.NumParties())
	for _, idx := range r.Mapping.AllIndexes().Sorted() {
		id, _ := r.Mapping.AccountID(idx)
		if pk, ok := r.ExpectedPubkeyShares[id]; ok && r.Sharing.Contains(idx) {
			out[idx] = pk
		} else {
			out[idx] = g.NewPoint()
		}
	}
	return out
}

// recipients maps the ceremony index of every receiving party to its
// future index.
func (r *ResharingContext) recipients() map[uint32]uint32 {
	out := make(map[uint32]uint32, r.Receiving.Len())
	for idx := range r.Receiving {
		id, _ := r.Mapping.AccountID(idx)
		future, _ := r.FutureMapping.IdxOf(id)
		out[idx] = future
	}
	return out
}

func dedup(ids []ceremony.AccountID) []ceremony.AccountID {
	seen := make(map[ceremony.AccountID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
