package keygen

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/scheme"
)

var ErrResharingMismatch = errors.New("keygen: resharing context does not match ceremony")

// Outcome is the result of a keygen or handover ceremony. Info is nil for
// handover parties that do not receive a share.
type Outcome struct {
	PublicKey group.Point
	Info      *KeygenResultInfo
}

// HashContextFor binds proofs of knowledge to one ceremony:
// blake2b256(ceremony id, big-endian ‖ sorted participant account ids).
func HashContextFor(ceremonyID uint64, mapping *ceremony.PartyIdxMapping) frost.HashContext {
	h, _ := blake2b.New256(nil)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], ceremonyID)
	h.Write(id[:])
	for _, acc := range mapping.AllAccountIDs() {
		h.Write([]byte(acc))
	}
	var out frost.HashContext
	copy(out[:], h.Sum(nil))
	return out
}

// state is shared by every stage of one keygen ceremony.
type state struct {
	common    *ceremony.Common
	scheme    scheme.Scheme
	frost     *frost.FROST
	params    ceremony.ThresholdParameters
	context   frost.HashContext
	resharing *ResharingContext

	// receivers get a share of the new key; recipients maps their
	// ceremony index to their future index.
	receivers  ceremony.IndexSet
	recipients map[ceremony.AuthorityIndex]ceremony.AuthorityIndex
	// live are the dealers still taking part.
	live ceremony.IndexSet
	// expected public key shares by ceremony index, handover only.
	expected map[ceremony.AuthorityIndex]group.Point

	ownCommitment   *frost.DKGUnverifiedCommitment
	outgoingShares  map[ceremony.AuthorityIndex]group.Scalar
	hashCommitments map[ceremony.AuthorityIndex]frost.HashCommitment
	commitments     map[ceremony.AuthorityIndex]*frost.DKGCommitment
	incomingShares  map[ceremony.AuthorityIndex]group.Scalar
	// accusations maps each accused dealer to its complainers.
	accusations map[ceremony.AuthorityIndex]ceremony.IndexSet
}

// New prepares a keygen ceremony, or a key handover when resharing is
// non-nil, and returns its first stage. Our polynomial and the shares
// for every receiver are generated here.
func New(common *ceremony.Common, s scheme.Scheme, params ceremony.ThresholdParameters, resharing *ResharingContext) (ceremony.Stage[*Outcome], error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	st := &state{
		common:    common,
		scheme:    s,
		frost:     frost.New(s.Group()),
		params:    params,
		context:   HashContextFor(common.CeremonyID, common.Mapping),
		resharing: resharing,
		live:      common.AllIdxs.Clone(),
	}

	var secret group.Scalar
	if resharing == nil {
		st.receivers = common.AllIdxs.Clone()
		st.recipients = make(map[ceremony.AuthorityIndex]ceremony.AuthorityIndex, st.receivers.Len())
		for idx := range st.receivers {
			st.recipients[idx] = idx
		}
	} else {
		if resharing.Mapping.NumParties() != common.Mapping.NumParties() ||
			resharing.FutureMapping.NumParties() != params.ShareCount {
			return nil, ErrResharingMismatch
		}
		st.receivers = resharing.Receiving.Clone()
		st.recipients = resharing.recipients()
		if resharing.Status == Sharing {
			secret = resharing.SecretShare
		} else {
			secret = s.Group().NewScalar()
		}
	}
	if resharing == nil && params.ShareCount != common.AllIdxs.Len() {
		return nil, fmt.Errorf("%w: share count %d for %d parties", ceremony.ErrInvalidThreshold, params.ShareCount, common.AllIdxs.Len())
	}

	commitment, shares, err := st.frost.GenerateSharesAndCommitment(common.Rng, st.context, common.OwnIdx, secret, frost.SharingParameters{
		Threshold:  params.Threshold,
		Recipients: st.recipients,
	})
	if err != nil {
		return nil, fmt.Errorf("keygen: generating shares: %w", err)
	}
	st.ownCommitment = commitment
	st.outgoingShares = shares

	if resharing != nil {
		return newStage[*PubkeyShares0](st, &pubkeyShares0{st}, common.AllIdxs), nil
	}
	return newStage[*HashComm1](st, &hashCommitments1{st}, common.AllIdxs), nil
}

func newStage[M ceremony.Message](st *state, p ceremony.Processor[*Outcome, M], participants ceremony.IndexSet) *ceremony.BroadcastStage[*Outcome, M] {
	return ceremony.NewBroadcastStage(p, st.common, participants)
}

func next[M ceremony.Message](st *state, p ceremony.Processor[*Outcome, M], participants ceremony.IndexSet) ceremony.StageResult[*Outcome] {
	return ceremony.NextStage[*Outcome](newStage(st, p, participants))
}

func fail(offenders ceremony.IndexSet, reason ceremony.FailureReason) ceremony.StageResult[*Outcome] {
	return ceremony.Fail[*Outcome](offenders, reason)
}

// failBroadcast maps a verification error to a keygen failure at stage.
func failBroadcast(err error, stage StageName) ceremony.StageResult[*Outcome] {
	var bf *ceremony.BroadcastFailure
	if !errors.As(err, &bf) {
		panic(fmt.Sprintf("keygen: unexpected verification error: %v", err))
	}
	return fail(bf.Parties, BroadcastFailure{Reason: bf.Reason, Stage: stage})
}

// dropAbsent removes absent dealers from the live set and checks that
// enough receivers remain. In a handover every sharing party must stay.
// A party the others agree was absent cannot continue either.
func (st *state) dropAbsent(absent ceremony.IndexSet, stage StageName) (ceremony.StageResult[*Outcome], bool) {
	if absent.Contains(st.common.OwnIdx) {
		return fail(absent, BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: stage}), false
	}
	if st.resharing != nil {
		if missing := absent.Intersect(st.resharing.Sharing); missing.Len() > 0 {
			return fail(missing, BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: stage}), false
		}
	}
	for idx := range absent {
		st.live.Remove(idx)
	}
	if st.live.Intersect(st.receivers).Len() < st.params.Threshold {
		return fail(absent, BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: stage}), false
	}
	if absent.Len() > 0 && st.common.Logger != nil {
		st.common.Logger.Info("continuing without absent parties",
			zap.String("stage", stage.String()),
			zap.Uint32s("absent", absent.Sorted()))
	}
	return ceremony.StageResult[*Outcome]{}, true
}

func (st *state) futureIdx(idx ceremony.AuthorityIndex) ceremony.AuthorityIndex {
	return st.recipients[idx]
}

func (st *state) zeroize() {
	for _, s := range st.outgoingShares {
		s.Zeroize()
	}
	for _, s := range st.incomingShares {
		s.Zeroize()
	}
	st.outgoingShares = nil
	st.incomingShares = nil
	if st.resharing != nil && st.resharing.SecretShare != nil {
		st.resharing.SecretShare.Zeroize()
	}
}
