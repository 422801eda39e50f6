package signing

import (
	"fmt"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/codec"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/wire"
)

// Comm1 carries one nonce commitment per payload.
type Comm1 struct {
	Commitments []frost.SigningCommitment
}

type VerifyComm2 struct {
	Data ceremony.Report[*Comm1]
}

// LocalSig3 carries one signature response per payload.
type LocalSig3 struct {
	Responses []group.Scalar
}

type VerifyLocalSig4 struct {
	Data ceremony.Report[*LocalSig3]
}

func (m *Comm1) Kind() wire.Kind           { return wire.KindSigning }
func (m *VerifyComm2) Kind() wire.Kind     { return wire.KindSigning }
func (m *LocalSig3) Kind() wire.Kind       { return wire.KindSigning }
func (m *VerifyLocalSig4) Kind() wire.Kind { return wire.KindSigning }

func (m *Comm1) StageOrdinal() int           { return int(StageAwaitCommitments1) }
func (m *VerifyComm2) StageOrdinal() int     { return int(StageVerifyCommitmentsBroadcast2) }
func (m *LocalSig3) StageOrdinal() int       { return int(StageLocalSig3) }
func (m *VerifyLocalSig4) StageOrdinal() int { return int(StageVerifyLocalSigsBroadcast4) }

// Variants count from zero while stages count from one.

func (m *Comm1) Variant() uint32           { return uint32(m.StageOrdinal() - 1) }
func (m *VerifyComm2) Variant() uint32     { return uint32(m.StageOrdinal() - 1) }
func (m *LocalSig3) Variant() uint32       { return uint32(m.StageOrdinal() - 1) }
func (m *VerifyLocalSig4) Variant() uint32 { return uint32(m.StageOrdinal() - 1) }

func (m *Comm1) InitialStage() bool           { return true }
func (m *VerifyComm2) InitialStage() bool     { return false }
func (m *LocalSig3) InitialStage() bool       { return false }
func (m *VerifyLocalSig4) InitialStage() bool { return false }

func (m *Comm1) String() string           { return fmt.Sprintf("Comm1(%d payloads)", len(m.Commitments)) }
func (m *VerifyComm2) String() string     { return "VerifyComm2" }
func (m *LocalSig3) String() string       { return fmt.Sprintf("LocalSig3(%d payloads)", len(m.Responses)) }
func (m *VerifyLocalSig4) String() string { return "VerifyLocalSig4" }

func (m *Comm1) SizeValid(_, numPayloads int) bool {
	return len(m.Commitments) == numPayloads
}

func (m *VerifyComm2) SizeValid(numParties, numPayloads int) bool {
	return reportSizeValid(m.Data, numParties, func(c *Comm1) bool { return c.SizeValid(numParties, numPayloads) })
}

func (m *LocalSig3) SizeValid(_, numPayloads int) bool {
	return len(m.Responses) == numPayloads
}

func (m *VerifyLocalSig4) SizeValid(numParties, numPayloads int) bool {
	return reportSizeValid(m.Data, numParties, func(l *LocalSig3) bool { return l.SizeValid(numParties, numPayloads) })
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

func (m *Comm1) EncodePayload(w *codec.Writer) {
	w.PutLen(len(m.Commitments))
	for _, c := range m.Commitments {
		w.PutPoint(c.D)
		w.PutPoint(c.E)
	}
}

func (m *VerifyComm2) EncodePayload(w *codec.Writer) {
	ceremony.EncodeReport(w, m.Data)
}

func (m *LocalSig3) EncodePayload(w *codec.Writer) {
	w.PutLen(len(m.Responses))
	for _, r := range m.Responses {
		w.PutScalar(r)
	}
}

func (m *VerifyLocalSig4) EncodePayload(w *codec.Writer) {
	ceremony.EncodeReport(w, m.Data)
}

func decodeComm1(r *codec.Reader, g group.Group) *Comm1 {
	n := r.Len()
	m := &Comm1{Commitments: make([]frost.SigningCommitment, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Commitments = append(m.Commitments, frost.SigningCommitment{D: r.Point(g), E: r.Point(g)})
	}
	return m
}

func decodeLocalSig3(r *codec.Reader, g group.Group) *LocalSig3 {
	n := r.Len()
	m := &LocalSig3{Responses: make([]group.Scalar, 0, n)}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Responses = append(m.Responses, r.Scalar(g))
	}
	return m
}

// Decoder returns the wire decoder for signing messages over g.
func Decoder(g group.Group) wire.Decoder {
	return func(r *codec.Reader, variant uint32) (wire.Payload, error) {
		var m ceremony.Message
		switch StageName(variant + 1) {
		case StageAwaitCommitments1:
			m = decodeComm1(r, g)
		case StageVerifyCommitmentsBroadcast2:
			m = &VerifyComm2{Data: ceremony.DecodeReport(r, func(r *codec.Reader) *Comm1 { return decodeComm1(r, g) })}
		case StageLocalSig3:
			m = decodeLocalSig3(r, g)
		case StageVerifyLocalSigsBroadcast4:
			m = &VerifyLocalSig4{Data: ceremony.DecodeReport(r, func(r *codec.Reader) *LocalSig3 { return decodeLocalSig3(r, g) })}
		default:
			return nil, fmt.Errorf("%w: signing %d", wire.ErrUnknownVariant, variant)
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}
