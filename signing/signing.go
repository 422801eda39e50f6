package signing

import (
	"errors"
	"fmt"
	"slices"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/scheme"
)

var (
	ErrNoPayloads     = errors.New("signing: no payloads")
	ErrKeyMismatch    = errors.New("signing: key was not issued to the ceremony's parties")
	ErrSchemeMismatch = errors.New("signing: key belongs to another scheme")
)

// PayloadAndKey is one payload and the key to sign it with.
type PayloadAndKey struct {
	Payload []byte
	Key     *keygen.KeygenResultInfo
}

// Outcome holds one signature per payload, in request order.
type Outcome struct {
	Signatures [][]byte
}

type idx = ceremony.AuthorityIndex

type state struct {
	common   *ceremony.Common
	scheme   scheme.Scheme
	frost    *frost.FROST
	payloads []PayloadAndKey
	// signers still taking part; Lagrange coefficients are taken over it.
	signers ceremony.IndexSet
	// nonces holds one pair per payload until our responses are computed.
	nonces      []*frost.SecretNoncePair
	commitments map[idx]*Comm1
}

// New prepares a signing ceremony over payloads between the parties in
// common.AllIdxs, indexed by the key's mapping, and returns its first
// stage. A fresh nonce pair is sampled for every payload.
func New(common *ceremony.Common, s scheme.Scheme, payloads []PayloadAndKey) (ceremony.Stage[*Outcome], error) {
	if len(payloads) == 0 {
		return nil, ErrNoPayloads
	}
	for _, p := range payloads {
		if p.Key.Scheme != s.ID() {
			return nil, fmt.Errorf("%w: %s", ErrSchemeMismatch, p.Key.Scheme)
		}
		if !slices.Equal(p.Key.Mapping.AllAccountIDs(), common.Mapping.AllAccountIDs()) {
			return nil, ErrKeyMismatch
		}
		if err := s.CheckPayload(p.Payload); err != nil {
			return nil, err
		}
	}

	common.NumPayloads = len(payloads)
	st := &state{
		common:   common,
		scheme:   s,
		frost:    frost.New(s.Group()),
		payloads: payloads,
		signers:  common.AllIdxs.Clone(),
	}
	for range payloads {
		n, err := st.frost.GenerateNoncePair(common.Rng)
		if err != nil {
			st.zeroize()
			return nil, fmt.Errorf("signing: sampling nonces: %w", err)
		}
		st.nonces = append(st.nonces, n)
	}
	return ceremony.NewBroadcastStage[*Outcome, *Comm1](&awaitCommitments1{st}, common, common.AllIdxs), nil
}

func (st *state) zeroize() {
	for _, n := range st.nonces {
		n.Zeroize()
	}
	st.nonces = nil
}

func (st *state) threshold() int {
	t := 0
	for _, p := range st.payloads {
		t = max(t, p.Key.Params.Threshold)
	}
	return t
}

func (st *state) inputs(i int) *frost.SigningInputs {
	in := &frost.SigningInputs{
		Payload:     st.payloads[i].Payload,
		Pubkey:      st.payloads[i].Key.Key.PublicKey(),
		Commitments: make(map[uint32]frost.SigningCommitment, len(st.commitments)),
	}
	for j, c := range st.commitments {
		in.Commitments[j] = c.Commitments[i]
	}
	return in
}

func fail(offenders ceremony.IndexSet, reason ceremony.FailureReason) ceremony.StageResult[*Outcome] {
	return ceremony.Fail[*Outcome](offenders, reason)
}

func failBroadcast(err error, stage StageName) ceremony.StageResult[*Outcome] {
	var bf *ceremony.BroadcastFailure
	if !errors.As(err, &bf) {
		panic(fmt.Sprintf("signing: unexpected verification error: %v", err))
	}
	return fail(bf.Parties, BroadcastFailure{Reason: bf.Reason, Stage: stage})
}

// wrongPayloadCount returns the parties whose per-payload data does not
// match the number of payloads.
func wrongPayloadCount[T any](agreed map[idx]T, count func(T) int, want int) ceremony.IndexSet {
	bad := ceremony.NewIndexSet()
	for j, v := range agreed {
		if count(v) != want {
			bad.Add(j)
		}
	}
	return bad
}

type awaitCommitments1 struct{ st *state }

func (p *awaitCommitments1) Name() string { return StageAwaitCommitments1.String() }
func (p *awaitCommitments1) Ordinal() int { return int(StageAwaitCommitments1) }
func (p *awaitCommitments1) Abort()       { p.st.zeroize() }

func (p *awaitCommitments1) Init() ceremony.DataToSend[*Comm1] {
	m := &Comm1{}
	for _, n := range p.st.nonces {
		m.Commitments = append(m.Commitments, n.Commitment())
	}
	return ceremony.Broadcast(m)
}

func (p *awaitCommitments1) Process(msgs map[idx]optional.Option[*Comm1]) ceremony.StageResult[*Outcome] {
	v := &verifyCommitments2{st: p.st, received: msgs}
	return ceremony.NextStage[*Outcome](ceremony.NewBroadcastStage[*Outcome, *VerifyComm2](v, p.st.common, p.st.common.AllIdxs))
}

type verifyCommitments2 struct {
	st       *state
	received map[idx]optional.Option[*Comm1]
}

func (p *verifyCommitments2) Name() string { return StageVerifyCommitmentsBroadcast2.String() }
func (p *verifyCommitments2) Ordinal() int { return int(StageVerifyCommitmentsBroadcast2) }
func (p *verifyCommitments2) Abort()       { p.st.zeroize() }

func (p *verifyCommitments2) Init() ceremony.DataToSend[*VerifyComm2] {
	return ceremony.Broadcast(&VerifyComm2{Data: ceremony.ReportOf(p.received, p.st.common.AllIdxs)})
}

// Process agrees on the nonce commitments. Absent signers are dropped as
// long as enough remain to meet every key's threshold.
func (p *verifyCommitments2) Process(msgs map[idx]optional.Option[*VerifyComm2]) ceremony.StageResult[*Outcome] {
	st := p.st
	reports := ceremony.CollectReports(msgs, func(m *VerifyComm2) ceremony.Report[*Comm1] { return m.Data })
	v, err := ceremony.VerifyBroadcasts(st.signers, reports)
	if err != nil {
		st.zeroize()
		return failBroadcast(err, StageVerifyCommitmentsBroadcast2)
	}
	if bad := wrongPayloadCount(v.Agreed, func(c *Comm1) int { return len(c.Commitments) }, len(st.payloads)); bad.Len() > 0 {
		st.zeroize()
		return fail(bad, InvalidNumberOfPayloads)
	}

	if v.Absent.Contains(st.common.OwnIdx) {
		st.zeroize()
		return fail(v.Absent, BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: StageVerifyCommitmentsBroadcast2})
	}
	for j := range v.Absent {
		st.signers.Remove(j)
	}
	if st.signers.Len() < st.threshold() {
		st.zeroize()
		return fail(v.Absent, NotEnoughSigners)
	}
	if v.Absent.Len() > 0 && st.common.Logger != nil {
		st.common.Logger.Info("signing without absent parties", zap.Uint32s("absent", v.Absent.Sorted()))
	}

	st.commitments = v.Agreed
	next := ceremony.NewBroadcastStage[*Outcome, *LocalSig3](&localSig3{st}, st.common, st.signers.Clone())
	return ceremony.NextStage[*Outcome](next)
}

type localSig3 struct{ st *state }

func (p *localSig3) Name() string { return StageLocalSig3.String() }
func (p *localSig3) Ordinal() int { return int(StageLocalSig3) }
func (p *localSig3) Abort()       { p.st.zeroize() }

// Init computes our response for every payload. The nonces are gone
// once it returns.
func (p *localSig3) Init() ceremony.DataToSend[*LocalSig3] {
	st := p.st
	defer st.zeroize()
	m := &LocalSig3{Responses: make([]group.Scalar, len(st.payloads))}
	for i, pk := range st.payloads {
		resp, err := st.frost.GenerateLocalSig(st.scheme, st.nonces[i], st.inputs(i), st.common.OwnIdx, pk.Key.Key.SecretShare())
		if err != nil {
			panic(fmt.Sprintf("signing: local signature for payload %d: %v", i, err))
		}
		m.Responses[i] = resp
	}
	return ceremony.Broadcast(m)
}

func (p *localSig3) Process(msgs map[idx]optional.Option[*LocalSig3]) ceremony.StageResult[*Outcome] {
	v := &verifyLocalSigs4{st: p.st, received: msgs}
	return ceremony.NextStage[*Outcome](ceremony.NewBroadcastStage[*Outcome, *VerifyLocalSig4](v, p.st.common, p.st.signers.Clone()))
}

type verifyLocalSigs4 struct {
	st       *state
	received map[idx]optional.Option[*LocalSig3]
}

func (p *verifyLocalSigs4) Name() string { return StageVerifyLocalSigsBroadcast4.String() }
func (p *verifyLocalSigs4) Ordinal() int { return int(StageVerifyLocalSigsBroadcast4) }

func (p *verifyLocalSigs4) Init() ceremony.DataToSend[*VerifyLocalSig4] {
	return ceremony.Broadcast(&VerifyLocalSig4{Data: ceremony.ReportOf(p.received, p.st.common.AllIdxs)})
}

// Process aggregates the responses once everybody agrees on them. Every
// signer that committed must respond.
func (p *verifyLocalSigs4) Process(msgs map[idx]optional.Option[*VerifyLocalSig4]) ceremony.StageResult[*Outcome] {
	st := p.st
	reports := ceremony.CollectReports(msgs, func(m *VerifyLocalSig4) ceremony.Report[*LocalSig3] { return m.Data })
	agreed, err := ceremony.VerifyBroadcastsBlocking(st.signers, reports)
	if err != nil {
		return failBroadcast(err, StageVerifyLocalSigsBroadcast4)
	}
	if bad := wrongPayloadCount(agreed, func(l *LocalSig3) int { return len(l.Responses) }, len(st.payloads)); bad.Len() > 0 {
		return fail(bad, InvalidNumberOfPayloads)
	}

	out := &Outcome{Signatures: make([][]byte, len(st.payloads))}
	for i, pk := range st.payloads {
		pubkeys := make(map[uint32]group.Point, st.signers.Len())
		responses := make(map[uint32]group.Scalar, st.signers.Len())
		for j := range st.signers {
			if key, ok := pk.Key.Key.PartyPublicKey(st.common.AccountID(j)); ok {
				pubkeys[j] = key
			}
			responses[j] = agreed[j].Responses[i]
		}
		sig, err := st.frost.Aggregate(st.scheme, st.inputs(i), pubkeys, responses)
		if err != nil {
			var invalid *frost.InvalidSharesError
			if errors.As(err, &invalid) {
				return fail(ceremony.NewIndexSet(invalid.Parties...), InvalidSigShare)
			}
			if st.common.Logger != nil {
				st.common.Logger.Error("aggregation failed", zap.Int("payload", i), zap.Error(err))
			}
			return fail(nil, InvalidSigShare)
		}
		out.Signatures[i] = sig
	}
	return ceremony.Done(out)
}
