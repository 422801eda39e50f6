package keygen

import (
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/codec"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
)

type idx = ceremony.AuthorityIndex

// pubkeyShares0 agrees on the public key share each party is expected
// to deal in a handover.
type pubkeyShares0 struct{ st *state }

func (p *pubkeyShares0) Name() string { return StagePubkeyShares0.String() }
func (p *pubkeyShares0) Ordinal() int { return int(StagePubkeyShares0) }
func (p *pubkeyShares0) Abort()       { p.st.zeroize() }

func (p *pubkeyShares0) Init() ceremony.DataToSend[*PubkeyShares0] {
	r := p.st.resharing
	if r.Status == Sharing {
		return ceremony.Broadcast(&PubkeyShares0{Shares: r.expectedByIdx(p.st.scheme.Group())})
	}
	return ceremony.Broadcast(&PubkeyShares0{Shares: map[idx]group.Point{}})
}

// Process accepts the map a majority of sharing parties sent. Sharing
// parties that sent a different map are blamed.
func (p *pubkeyShares0) Process(msgs map[idx]optional.Option[*PubkeyShares0]) ceremony.StageResult[*Outcome] {
	st := p.st
	sharing := st.resharing.Sharing

	votes := make(map[string]int)
	encodings := make(map[idx]string)
	absent := ceremony.NewIndexSet()
	for _, j := range sharing.Sorted() {
		m := msgs[j]
		if m.IsNone() {
			absent.Add(j)
			continue
		}
		w := codec.NewWriter()
		m.Unwrap().EncodePayload(w)
		enc := string(w.Bytes())
		encodings[j] = enc
		votes[enc]++
	}

	var winner string
	best := 0
	for enc, n := range votes {
		if n > best || (n == best && enc < winner) {
			winner, best = enc, n
		}
	}
	if best*2 <= sharing.Len() {
		return fail(absent, BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: StagePubkeyShares0})
	}

	dissenters := ceremony.NewIndexSet()
	var agreed *PubkeyShares0
	for j, enc := range encodings {
		if enc != winner {
			dissenters.Add(j)
		} else {
			agreed = msgs[j].Unwrap()
		}
	}
	if dissenters.Len() > 0 {
		return fail(dissenters, BroadcastFailure{Reason: ceremony.Inconsistency, Stage: StagePubkeyShares0})
	}

	g := st.scheme.Group()
	st.expected = make(map[idx]group.Point, st.common.AllIdxs.Len())
	for j := range st.common.AllIdxs {
		if pk, ok := agreed.Shares[j]; ok {
			st.expected[j] = pk
		} else {
			st.expected[j] = g.NewPoint()
		}
	}
	if st.resharing.Status == NonSharing {
		st.resharing.Status = NonSharingReceivedKeys
	}
	return next[*HashComm1](st, &hashCommitments1{st}, st.common.AllIdxs)
}

type hashCommitments1 struct{ st *state }

func (p *hashCommitments1) Name() string { return StageHashCommitments1.String() }
func (p *hashCommitments1) Ordinal() int { return int(StageHashCommitments1) }
func (p *hashCommitments1) Abort()       { p.st.zeroize() }

func (p *hashCommitments1) Init() ceremony.DataToSend[*HashComm1] {
	return ceremony.Broadcast(&HashComm1{Hash: frost.GenerateHashCommitment(p.st.ownCommitment)})
}

func (p *hashCommitments1) Process(msgs map[idx]optional.Option[*HashComm1]) ceremony.StageResult[*Outcome] {
	return next[*VerifyHashComm2](p.st, &verifyHashCommitments2{st: p.st, received: msgs}, p.st.common.AllIdxs)
}

type verifyHashCommitments2 struct {
	st       *state
	received map[idx]optional.Option[*HashComm1]
}

func (p *verifyHashCommitments2) Name() string { return StageVerifyHashCommitmentsBroadcast2.String() }
func (p *verifyHashCommitments2) Ordinal() int { return int(StageVerifyHashCommitmentsBroadcast2) }
func (p *verifyHashCommitments2) Abort()       { p.st.zeroize() }

func (p *verifyHashCommitments2) Init() ceremony.DataToSend[*VerifyHashComm2] {
	return ceremony.Broadcast(&VerifyHashComm2{Data: ceremony.ReportOf(p.received, p.st.common.AllIdxs)})
}

func (p *verifyHashCommitments2) Process(msgs map[idx]optional.Option[*VerifyHashComm2]) ceremony.StageResult[*Outcome] {
	st := p.st
	reports := ceremony.CollectReports(msgs, func(m *VerifyHashComm2) ceremony.Report[*HashComm1] { return m.Data })
	v, err := ceremony.VerifyBroadcasts(st.live, reports)
	if err != nil {
		return failBroadcast(err, StageVerifyHashCommitmentsBroadcast2)
	}
	if res, ok := st.dropAbsent(v.Absent, StageVerifyHashCommitmentsBroadcast2); !ok {
		return res
	}
	st.hashCommitments = make(map[idx]frost.HashCommitment, len(v.Agreed))
	for j, m := range v.Agreed {
		st.hashCommitments[j] = m.Hash
	}
	return next[*CoeffComm3](st, &coefficientCommitments3{st}, st.live.Clone())
}

type coefficientCommitments3 struct{ st *state }

func (p *coefficientCommitments3) Name() string { return StageCoefficientCommitments3.String() }
func (p *coefficientCommitments3) Ordinal() int { return int(StageCoefficientCommitments3) }
func (p *coefficientCommitments3) Abort()       { p.st.zeroize() }

func (p *coefficientCommitments3) Init() ceremony.DataToSend[*CoeffComm3] {
	return ceremony.Broadcast(&CoeffComm3{Commitment: p.st.ownCommitment})
}

func (p *coefficientCommitments3) Process(msgs map[idx]optional.Option[*CoeffComm3]) ceremony.StageResult[*Outcome] {
	return next[*VerifyCoeffComm4](p.st, &verifyCommitments4{st: p.st, received: msgs}, p.st.live.Clone())
}

type verifyCommitments4 struct {
	st       *state
	received map[idx]optional.Option[*CoeffComm3]
}

func (p *verifyCommitments4) Name() string { return StageVerifyCommitmentsBroadcast4.String() }
func (p *verifyCommitments4) Ordinal() int { return int(StageVerifyCommitmentsBroadcast4) }
func (p *verifyCommitments4) Abort()       { p.st.zeroize() }

func (p *verifyCommitments4) Init() ceremony.DataToSend[*VerifyCoeffComm4] {
	return ceremony.Broadcast(&VerifyCoeffComm4{Data: ceremony.ReportOf(p.received, p.st.common.AllIdxs)})
}

func (p *verifyCommitments4) Process(msgs map[idx]optional.Option[*VerifyCoeffComm4]) ceremony.StageResult[*Outcome] {
	st := p.st
	reports := ceremony.CollectReports(msgs, func(m *VerifyCoeffComm4) ceremony.Report[*CoeffComm3] { return m.Data })
	v, err := ceremony.VerifyBroadcasts(st.live, reports)
	if err != nil {
		return failBroadcast(err, StageVerifyCommitmentsBroadcast4)
	}
	if res, ok := st.dropAbsent(v.Absent, StageVerifyCommitmentsBroadcast4); !ok {
		return res
	}

	unverified := make(map[idx]*frost.DKGUnverifiedCommitment, len(v.Agreed))
	for j, m := range v.Agreed {
		unverified[j] = m.Commitment
	}
	invalid := ceremony.NewIndexSet(st.frost.ValidateCommitments(st.context, st.params.Threshold, unverified, st.hashCommitments)...)
	if st.expected != nil {
		for j, c := range unverified {
			if !invalid.Contains(j) && !c.Commitments[0].Equal(st.expected[j]) {
				invalid.Add(j)
			}
		}
	}
	if invalid.Len() > 0 {
		return fail(invalid, InvalidCommitment)
	}

	st.commitments = make(map[idx]*frost.DKGCommitment, len(unverified))
	for j, c := range unverified {
		st.commitments[j] = &frost.DKGCommitment{Commitments: c.Commitments}
	}
	if !st.frost.CheckHighDegreeCommitments(st.commitments) {
		return fail(nil, InvalidCommitment)
	}

	participants := ceremony.NewIndexSet()
	if st.receivers.Contains(st.common.OwnIdx) {
		participants = st.live.Clone()
	}
	return next[*SecretShare5](st, &secretShares5{st}, participants)
}

// secretShares5 deals our shares to live receivers and collects the
// shares dealt to us.
type secretShares5 struct{ st *state }

func (p *secretShares5) Name() string { return StageSecretShares5.String() }
func (p *secretShares5) Ordinal() int { return int(StageSecretShares5) }
func (p *secretShares5) Abort()       { p.st.zeroize() }

func (p *secretShares5) Init() ceremony.DataToSend[*SecretShare5] {
	st := p.st
	g := st.scheme.Group()
	out := make(map[idx]*SecretShare5)
	for j := range st.live.Intersect(st.receivers) {
		out[j] = &SecretShare5{Value: g.NewScalar().Set(st.outgoingShares[j])}
	}
	return ceremony.Private(out)
}

func (p *secretShares5) Process(msgs map[idx]optional.Option[*SecretShare5]) ceremony.StageResult[*Outcome] {
	st := p.st
	st.incomingShares = make(map[idx]group.Scalar, len(msgs))
	var blamed []idx
	if st.receivers.Contains(st.common.OwnIdx) {
		own := st.futureIdx(st.common.OwnIdx)
		for _, j := range st.live.Sorted() {
			m := msgs[j]
			if m.IsSome() && st.frost.VerifyShare(m.Unwrap().Value, st.commitments[j].Commitments, own) {
				st.incomingShares[j] = m.Unwrap().Value
				continue
			}
			blamed = append(blamed, j)
		}
	}
	if len(blamed) > 0 && st.common.Logger != nil {
		st.common.Logger.Warn("complaining about secret shares", zap.Uint32s("dealers", blamed))
	}
	return next[*Complaints6](st, &complaints6{st: st, blamed: blamed}, st.live.Clone())
}

type complaints6 struct {
	st     *state
	blamed []idx
}

func (p *complaints6) Name() string { return StageComplaints6.String() }
func (p *complaints6) Ordinal() int { return int(StageComplaints6) }
func (p *complaints6) Abort()       { p.st.zeroize() }

func (p *complaints6) Init() ceremony.DataToSend[*Complaints6] {
	return ceremony.Broadcast(&Complaints6{Blamed: p.blamed})
}

func (p *complaints6) Process(msgs map[idx]optional.Option[*Complaints6]) ceremony.StageResult[*Outcome] {
	return next[*VerifyComplaints7](p.st, &verifyComplaints7{st: p.st, received: msgs}, p.st.live.Clone())
}

type verifyComplaints7 struct {
	st       *state
	received map[idx]optional.Option[*Complaints6]
}

func (p *verifyComplaints7) Name() string { return StageVerifyComplaintsBroadcast7.String() }
func (p *verifyComplaints7) Ordinal() int { return int(StageVerifyComplaintsBroadcast7) }
func (p *verifyComplaints7) Abort()       { p.st.zeroize() }

func (p *verifyComplaints7) Init() ceremony.DataToSend[*VerifyComplaints7] {
	return ceremony.Broadcast(&VerifyComplaints7{Data: ceremony.ReportOf(p.received, p.st.common.AllIdxs)})
}

// Process validates every complaint. A complaint is invalid when it comes
// from a party that receives no shares, or names the complainer itself or
// a party that is not dealing.
func (p *verifyComplaints7) Process(msgs map[idx]optional.Option[*VerifyComplaints7]) ceremony.StageResult[*Outcome] {
	st := p.st
	reports := ceremony.CollectReports(msgs, func(m *VerifyComplaints7) ceremony.Report[*Complaints6] { return m.Data })
	v, err := ceremony.VerifyBroadcasts(st.live, reports)
	if err != nil {
		return failBroadcast(err, StageVerifyComplaintsBroadcast7)
	}

	invalid := ceremony.NewIndexSet()
	st.accusations = make(map[idx]ceremony.IndexSet)
	for complainer, c := range v.Agreed {
		if len(c.Blamed) > 0 && !st.receivers.Contains(complainer) {
			invalid.Add(complainer)
			continue
		}
		for _, accused := range c.Blamed {
			if accused == complainer || !st.live.Contains(accused) {
				invalid.Add(complainer)
				break
			}
		}
		if invalid.Contains(complainer) {
			continue
		}
		for _, accused := range c.Blamed {
			if st.accusations[accused] == nil {
				st.accusations[accused] = ceremony.NewIndexSet()
			}
			st.accusations[accused].Add(complainer)
		}
	}
	if invalid.Len() > 0 {
		return fail(invalid, InvalidComplaint)
	}
	return next[*BlameResponse8](st, &blameResponses8{st}, st.live.Clone())
}

// blameResponses8 reveals the shares we dealt to our complainers.
type blameResponses8 struct{ st *state }

func (p *blameResponses8) Name() string { return StageBlameResponses8.String() }
func (p *blameResponses8) Ordinal() int { return int(StageBlameResponses8) }
func (p *blameResponses8) Abort()       { p.st.zeroize() }

func (p *blameResponses8) Init() ceremony.DataToSend[*BlameResponse8] {
	st := p.st
	g := st.scheme.Group()
	shares := make(map[idx]group.Scalar)
	for complainer := range st.accusations[st.common.OwnIdx] {
		if s, ok := st.outgoingShares[complainer]; ok {
			shares[complainer] = g.NewScalar().Set(s)
		}
	}
	for _, s := range st.outgoingShares {
		s.Zeroize()
	}
	st.outgoingShares = nil
	return ceremony.Broadcast(&BlameResponse8{Shares: shares})
}

func (p *blameResponses8) Process(msgs map[idx]optional.Option[*BlameResponse8]) ceremony.StageResult[*Outcome] {
	return next[*VerifyBlameResponses9](p.st, &verifyBlameResponses9{st: p.st, received: msgs}, p.st.live.Clone())
}

type verifyBlameResponses9 struct {
	st       *state
	received map[idx]optional.Option[*BlameResponse8]
}

func (p *verifyBlameResponses9) Name() string { return StageVerifyBlameResponsesBroadcast9.String() }
func (p *verifyBlameResponses9) Ordinal() int { return int(StageVerifyBlameResponsesBroadcast9) }
func (p *verifyBlameResponses9) Abort()       { p.st.zeroize() }

func (p *verifyBlameResponses9) Init() ceremony.DataToSend[*VerifyBlameResponses9] {
	return ceremony.Broadcast(&VerifyBlameResponses9{Data: ceremony.ReportOf(p.received, p.st.common.AllIdxs)})
}

// Process checks every revealed share against the dealer's commitments.
// A dealer that does not answer a complaint, or reveals a share that
// still fails, is blamed.
func (p *verifyBlameResponses9) Process(msgs map[idx]optional.Option[*VerifyBlameResponses9]) ceremony.StageResult[*Outcome] {
	st := p.st
	reports := ceremony.CollectReports(msgs, func(m *VerifyBlameResponses9) ceremony.Report[*BlameResponse8] { return m.Data })
	v, err := ceremony.VerifyBroadcasts(st.live, reports)
	if err != nil {
		return failBroadcast(err, StageVerifyBlameResponsesBroadcast9)
	}

	invalid := ceremony.NewIndexSet()
	revealed := make(map[idx]group.Scalar)
	for _, dealer := range ceremony.SortedKeys(st.accusations) {
		resp, ok := v.Agreed[dealer]
		if !ok {
			invalid.Add(dealer)
			continue
		}
		for complainer := range st.accusations[dealer] {
			share, ok := resp.Shares[complainer]
			if !ok || !st.frost.VerifyShare(share, st.commitments[dealer].Commitments, st.futureIdx(complainer)) {
				invalid.Add(dealer)
				break
			}
			if complainer == st.common.OwnIdx {
				revealed[dealer] = share
			}
		}
	}
	if invalid.Len() > 0 {
		return fail(invalid, InvalidBlameResponse)
	}
	for dealer, share := range revealed {
		st.incomingShares[dealer] = share
	}
	return ceremony.Done(st.finish())
}

// finish derives the key from the verified commitments and shares.
func (st *state) finish() *Outcome {
	defer st.zeroize()
	y := st.frost.DeriveAggregatePubkey(st.commitments)

	mapping := st.common.Mapping
	if st.resharing != nil {
		mapping = st.resharing.FutureMapping
	}

	if !st.receivers.Contains(st.common.OwnIdx) {
		factor, err := CompatibilityFactor(st.scheme, y)
		if err != nil {
			panic(err)
		}
		return &Outcome{PublicKey: st.scheme.Group().NewPoint().ScalarMult(factor, y)}
	}

	futureIdxs := make([]uint32, 0, st.receivers.Len())
	for j := range st.receivers {
		futureIdxs = append(futureIdxs, st.futureIdx(j))
	}
	pubkeys := make(map[ceremony.AccountID]group.Point, len(futureIdxs))
	for future, pk := range st.frost.DeriveLocalPubkeys(st.commitments, futureIdxs) {
		pubkeys[mustAccount(mapping, future)] = pk
	}

	x := st.frost.SumShares(st.incomingShares)
	defer x.Zeroize()
	key, err := NewCompatible(st.scheme, x, y, pubkeys)
	if err != nil {
		panic(err)
	}
	return &Outcome{
		PublicKey: key.PublicKey(),
		Info: &KeygenResultInfo{
			Key:     key,
			Mapping: mapping,
			Params:  st.params,
			Scheme:  st.scheme.ID(),
		},
	}
}

func mustAccount(m *ceremony.PartyIdxMapping, i idx) ceremony.AccountID {
	id, ok := m.AccountID(i)
	if !ok {
		panic("keygen: future index outside mapping")
	}
	return id
}
