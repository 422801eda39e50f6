package keygen

import (
	"errors"
	"fmt"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/codec"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/wire"
)

// PubkeyShares0 carries, in a handover, the public key share every
// ceremony participant is expected to commit to. Sharing parties send
// it; everybody else sends an empty map.
type PubkeyShares0 struct {
	Shares map[ceremony.AuthorityIndex]group.Point
}

// HashComm1 commits to a party's coefficient commitments before they are
// revealed.
type HashComm1 struct {
	Hash frost.HashCommitment
}

type VerifyHashComm2 struct {
	Data ceremony.Report[*HashComm1]
}

// CoeffComm3 reveals the coefficient commitments and the proof of
// knowledge of the constant term.
type CoeffComm3 struct {
	Commitment *frost.DKGUnverifiedCommitment
}

type VerifyCoeffComm4 struct {
	Data ceremony.Report[*CoeffComm3]
}

// SecretShare5 is the evaluation of the sender's polynomial at the
// recipient's index. It is only ever sent privately.
type SecretShare5 struct {
	Value group.Scalar
}

// Complaints6 lists the parties whose shares did not verify, ascending.
type Complaints6 struct {
	Blamed []ceremony.AuthorityIndex
}

type VerifyComplaints7 struct {
	Data ceremony.Report[*Complaints6]
}

// BlameResponse8 reveals the shares a party sent to its complainers,
// keyed by complainer.
type BlameResponse8 struct {
	Shares map[ceremony.AuthorityIndex]group.Scalar
}

type VerifyBlameResponses9 struct {
	Data ceremony.Report[*BlameResponse8]
}

func (m *PubkeyShares0) Kind() wire.Kind         { return wire.KindKeygen }
func (m *HashComm1) Kind() wire.Kind             { return wire.KindKeygen }
func (m *VerifyHashComm2) Kind() wire.Kind       { return wire.KindKeygen }
func (m *CoeffComm3) Kind() wire.Kind            { return wire.KindKeygen }
func (m *VerifyCoeffComm4) Kind() wire.Kind      { return wire.KindKeygen }
func (m *SecretShare5) Kind() wire.Kind          { return wire.KindKeygen }
func (m *Complaints6) Kind() wire.Kind           { return wire.KindKeygen }
func (m *VerifyComplaints7) Kind() wire.Kind     { return wire.KindKeygen }
func (m *BlameResponse8) Kind() wire.Kind        { return wire.KindKeygen }
func (m *VerifyBlameResponses9) Kind() wire.Kind { return wire.KindKeygen }

func (m *PubkeyShares0) StageOrdinal() int         { return int(StagePubkeyShares0) }
func (m *HashComm1) StageOrdinal() int             { return int(StageHashCommitments1) }
func (m *VerifyHashComm2) StageOrdinal() int       { return int(StageVerifyHashCommitmentsBroadcast2) }
func (m *CoeffComm3) StageOrdinal() int            { return int(StageCoefficientCommitments3) }
func (m *VerifyCoeffComm4) StageOrdinal() int      { return int(StageVerifyCommitmentsBroadcast4) }
func (m *SecretShare5) StageOrdinal() int          { return int(StageSecretShares5) }
func (m *Complaints6) StageOrdinal() int           { return int(StageComplaints6) }
func (m *VerifyComplaints7) StageOrdinal() int     { return int(StageVerifyComplaintsBroadcast7) }
func (m *BlameResponse8) StageOrdinal() int        { return int(StageBlameResponses8) }
func (m *VerifyBlameResponses9) StageOrdinal() int { return int(StageVerifyBlameResponsesBroadcast9) }

// The wire variant of a keygen message is its stage number.

func (m *PubkeyShares0) Variant() uint32         { return uint32(m.StageOrdinal()) }
func (m *HashComm1) Variant() uint32             { return uint32(m.StageOrdinal()) }
func (m *VerifyHashComm2) Variant() uint32       { return uint32(m.StageOrdinal()) }
func (m *CoeffComm3) Variant() uint32            { return uint32(m.StageOrdinal()) }
func (m *VerifyCoeffComm4) Variant() uint32      { return uint32(m.StageOrdinal()) }
func (m *SecretShare5) Variant() uint32          { return uint32(m.StageOrdinal()) }
func (m *Complaints6) Variant() uint32           { return uint32(m.StageOrdinal()) }
func (m *VerifyComplaints7) Variant() uint32     { return uint32(m.StageOrdinal()) }
func (m *BlameResponse8) Variant() uint32        { return uint32(m.StageOrdinal()) }
func (m *VerifyBlameResponses9) Variant() uint32 { return uint32(m.StageOrdinal()) }

// Only the messages a ceremony opens with may arrive before the local
// request.

func (m *PubkeyShares0) InitialStage() bool         { return true }
func (m *HashComm1) InitialStage() bool             { return true }
func (m *VerifyHashComm2) InitialStage() bool       { return false }
func (m *CoeffComm3) InitialStage() bool            { return false }
func (m *VerifyCoeffComm4) InitialStage() bool      { return false }
func (m *SecretShare5) InitialStage() bool          { return false }
func (m *Complaints6) InitialStage() bool           { return false }
func (m *VerifyComplaints7) InitialStage() bool     { return false }
func (m *BlameResponse8) InitialStage() bool        { return false }
func (m *VerifyBlameResponses9) InitialStage() bool { return false }

func (m *PubkeyShares0) String() string         { return fmt.Sprintf("PubkeyShares0(%d shares)", len(m.Shares)) }
func (m *HashComm1) String() string             { return "HashComm1(" + m.Hash.String() + ")" }
func (m *VerifyHashComm2) String() string       { return "VerifyHashComm2" }
func (m *CoeffComm3) String() string            { return "CoeffComm3" }
func (m *VerifyCoeffComm4) String() string      { return "VerifyCoeffComm4" }
func (m *SecretShare5) String() string          { return "SecretShare5" }
func (m *Complaints6) String() string           { return fmt.Sprintf("Complaints6(%v)", m.Blamed) }
func (m *VerifyComplaints7) String() string     { return "VerifyComplaints7" }
func (m *BlameResponse8) String() string        { return fmt.Sprintf("BlameResponse8(%d shares)", len(m.Shares)) }
func (m *VerifyBlameResponses9) String() string { return "VerifyBlameResponses9" }

func (m *PubkeyShares0) SizeValid(numParties, _ int) bool {
	return len(m.Shares) <= numParties
}

func (m *HashComm1) SizeValid(int, int) bool { return true }

func (m *VerifyHashComm2) SizeValid(numParties, _ int) bool {
	return len(m.Data) == numParties
}

func (m *CoeffComm3) SizeValid(numParties, _ int) bool {
	return len(m.Commitment.Commitments) <= numParties
}

func (m *VerifyCoeffComm4) SizeValid(numParties, _ int) bool {
	return reportSizeValid(m.Data, numParties, func(c *CoeffComm3) bool { return c.SizeValid(numParties, 0) })
}

func (m *SecretShare5) SizeValid(int, int) bool { return true }

func (m *Complaints6) SizeValid(numParties, _ int) bool {
	return len(m.Blamed) <= numParties
}

func (m *VerifyComplaints7) SizeValid(numParties, _ int) bool {
	return reportSizeValid(m.Data, numParties, func(c *Complaints6) bool { return c.SizeValid(numParties, 0) })
}

func (m *BlameResponse8) SizeValid(numParties, _ int) bool {
	return len(m.Shares) <= numParties
}

func (m *VerifyBlameResponses9) SizeValid(numParties, _ int) bool {
	return reportSizeValid(m.Data, numParties, func(b *BlameResponse8) bool { return b.SizeValid(numParties, 0) })
}

func reportSizeValid[T any](rep ceremony.Report[T], numParties int, inner func(T) bool) bool {
	if len(rep) != numParties {
		return false
	}
	for _, o := range rep {
		if o.IsSome() && !inner(o.Unwrap()) {
			return false
		}
	}
	return true
}

func (m *PubkeyShares0) EncodePayload(w *codec.Writer) {
	codec.PutMap(w, m.Shares, (*codec.Writer).PutPoint)
}

// EncodePayload writes the hash as its 0x-prefixed hex string, the form
// fixed by version 1 of the wire format.
func (m *HashComm1) EncodePayload(w *codec.Writer) {
	w.PutString(m.Hash.String())
}

func (m *VerifyHashComm2) EncodePayload(w *codec.Writer) {
	ceremony.EncodeReport(w, m.Data)
}

func (m *CoeffComm3) EncodePayload(w *codec.Writer) {
	c := m.Commitment
	w.PutLen(len(c.Commitments))
	for _, p := range c.Commitments {
		w.PutPoint(p)
	}
	w.PutPoint(c.ZKP.R)
	w.PutScalar(c.ZKP.Z)
}

func (m *VerifyCoeffComm4) EncodePayload(w *codec.Writer) {
	ceremony.EncodeReport(w, m.Data)
}

func (m *SecretShare5) EncodePayload(w *codec.Writer) {
	w.PutScalar(m.Value)
}

func (m *Complaints6) EncodePayload(w *codec.Writer) {
	w.PutLen(len(m.Blamed))
	for _, idx := range m.Blamed {
		w.PutU32(idx)
	}
}

func (m *VerifyComplaints7) EncodePayload(w *codec.Writer) {
	ceremony.EncodeReport(w, m.Data)
}

func (m *BlameResponse8) EncodePayload(w *codec.Writer) {
	codec.PutMap(w, m.Shares, (*codec.Writer).PutScalar)
}

func (m *VerifyBlameResponses9) EncodePayload(w *codec.Writer) {
	ceremony.EncodeReport(w, m.Data)
}

var errUnorderedComplaints = errors.New("keygen: complaints not strictly ascending")

func decodePubkeyShares0(r *codec.Reader, g group.Group) *PubkeyShares0 {
	return &PubkeyShares0{Shares: codec.ReadMap(r, func(r *codec.Reader) group.Point { return r.Point(g) })}
}

func decodeHashComm1(r *codec.Reader) *HashComm1 {
	s := r.Text()
	if r.Err() != nil {
		return nil
	}
	h, err := frost.ParseHashCommitment(s)
	if err != nil {
		r.Fail(err)
		return nil
	}
	return &HashComm1{Hash: h}
}

func decodeCoeffComm3(r *codec.Reader, g group.Group) *CoeffComm3 {
	n := r.Len()
	c := &frost.DKGUnverifiedCommitment{Commitments: make([]group.Point, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		c.Commitments = append(c.Commitments, r.Point(g))
	}
	c.ZKP.R = r.Point(g)
	c.ZKP.Z = r.Scalar(g)
	return &CoeffComm3{Commitment: c}
}

func decodeComplaints6(r *codec.Reader) *Complaints6 {
	n := r.Len()
	c := &Complaints6{Blamed: make([]ceremony.AuthorityIndex, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		idx := r.U32()
		if i > 0 && idx <= c.Blamed[i-1] {
			r.Fail(errUnorderedComplaints)
		}
		c.Blamed = append(c.Blamed, idx)
	}
	return c
}

func decodeBlameResponse8(r *codec.Reader, g group.Group) *BlameResponse8 {
	return &BlameResponse8{Shares: codec.ReadMap(r, func(r *codec.Reader) group.Scalar { return r.Scalar(g) })}
}

// Decoder returns the wire decoder for keygen messages over g.
func Decoder(g group.Group) wire.Decoder {
	return func(r *codec.Reader, variant uint32) (wire.Payload, error) {
		var m ceremony.Message
		switch StageName(variant) {
		case StagePubkeyShares0:
			m = decodePubkeyShares0(r, g)
		case StageHashCommitments1:
			m = decodeHashComm1(r)
		case StageVerifyHashCommitmentsBroadcast2:
			m = &VerifyHashComm2{Data: ceremony.DecodeReport(r, decodeHashComm1)}
		case StageCoefficientCommitments3:
			m = decodeCoeffComm3(r, g)
		case StageVerifyCommitmentsBroadcast4:
			m = &VerifyCoeffComm4{Data: ceremony.DecodeReport(r, func(r *codec.Reader) *CoeffComm3 { return decodeCoeffComm3(r, g) })}
		case StageSecretShares5:
			m = &SecretShare5{Value: r.Scalar(g)}
		case StageComplaints6:
			m = decodeComplaints6(r)
		case StageVerifyComplaintsBroadcast7:
			m = &VerifyComplaints7{Data: ceremony.DecodeReport(r, decodeComplaints6)}
		case StageBlameResponses8:
			m = decodeBlameResponse8(r, g)
		case StageVerifyBlameResponsesBroadcast9:
			m = &VerifyBlameResponses9{Data: ceremony.DecodeReport(r, func(r *codec.Reader) *BlameResponse8 { return decodeBlameResponse8(r, g) })}
		default:
			return nil, fmt.Errorf("%w: keygen %d", wire.ErrUnknownVariant, variant)
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}
