package manager

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/chebyrash/promise"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/keystore"
	"github.com/f3rmion/multisig/signing"
)

// KeygenRequest asks for a new key shared between Participants.
type KeygenRequest struct {
	CeremonyID   uint64
	Participants []ceremony.AccountID
	Epoch        uint32
	// Threshold is the number of parties needed to sign. Zero selects
	// ceremony.DefaultThreshold.
	Threshold int
}

// HandoverRequest moves the key KeyID from the Sharing parties to the
// Receiving parties. Only sharing parties need to hold the key.
type HandoverRequest struct {
	CeremonyID uint64
	KeyID      keystore.KeyID
	Sharing    []ceremony.AccountID
	Receiving  []ceremony.AccountID
	Epoch      uint32
	Threshold  int
}

// SigningRequest asks Signers to sign every payload with its key.
type SigningRequest struct {
	CeremonyID uint64
	Signers    []ceremony.AccountID
	Payloads   []Payload
}

type Payload struct {
	KeyID   keystore.KeyID
	Payload []byte
}

// KeygenOutput is a generated or handed over key. Info is nil for a
// handover party that did not receive a share.
type KeygenOutput struct {
	KeyID     keystore.KeyID
	PublicKey group.Point
	Info      *keygen.KeygenResultInfo
}

// SigningOutput holds one signature per payload, in request order.
type SigningOutput struct {
	Signatures [][]byte
}

func (m *Manager) requestFailure(id uint64, reason ceremony.FailureReason, err error) error {
	m.logger.Debug("rejecting ceremony request", zap.Uint64("ceremony_id", id), zap.Stringer("reason", reason), zap.Error(err))
	return &CeremonyFailure{CeremonyID: id, Reason: reason}
}

// StartKeygen joins a keygen ceremony. The resulting share is saved to the
// keystore before the promise resolves.
func (m *Manager) StartKeygen(req KeygenRequest) *promise.Promise[KeygenOutput] {
	prepare := func(rng io.Reader) (ceremony.Stage[*keygen.Outcome], error) {
		mapping, err := ceremony.NewPartyIdxMapping(req.Participants)
		if err != nil {
			return nil, m.requestFailure(req.CeremonyID, keygen.InvalidParticipants, err)
		}
		common, err := m.common(req.CeremonyID, keygenLabel, mapping, req.Participants, rng)
		if err != nil {
			return nil, m.requestFailure(req.CeremonyID, keygen.InvalidParticipants, err)
		}
		params, err := ceremony.NewThresholdParameters(len(req.Participants), req.Threshold)
		if err != nil {
			return nil, err
		}
		return keygen.New(common, m.scheme, params, nil)
	}
	return start(m, m.keygens, req.CeremonyID, prepare, m.saveKey(req.Epoch))
}

// StartHandover joins a key handover ceremony.
func (m *Manager) StartHandover(req HandoverRequest) *promise.Promise[KeygenOutput] {
	prepare := func(rng io.Reader) (ceremony.Stage[*keygen.Outcome], error) {
		var (
			resharing *keygen.ResharingContext
			err       error
		)
		if slices.Contains(req.Sharing, m.id) {
			info, loadErr := m.loadKey(req.KeyID)
			if loadErr != nil {
				return nil, loadErr
			}
			resharing, err = keygen.NewResharingContextFromKey(m.scheme, info, m.id, req.Sharing, req.Receiving)
		} else {
			resharing, err = keygen.NewResharingContextWithoutKey(req.Sharing, req.Receiving)
		}
		if err != nil {
			return nil, m.requestFailure(req.CeremonyID, keygen.InvalidParticipants, err)
		}
		mapping := resharing.Mapping
		common, err := m.common(req.CeremonyID, keygenLabel, mapping, mapping.AllAccountIDs(), rng)
		if err != nil {
			return nil, m.requestFailure(req.CeremonyID, keygen.InvalidParticipants, err)
		}
		params, err := ceremony.NewThresholdParameters(resharing.FutureMapping.NumParties(), req.Threshold)
		if err != nil {
			return nil, err
		}
		return keygen.New(common, m.scheme, params, resharing)
	}
	return start(m, m.keygens, req.CeremonyID, prepare, m.saveKey(req.Epoch))
}

// StartSigning joins a signing ceremony over keys from the keystore.
func (m *Manager) StartSigning(req SigningRequest) *promise.Promise[SigningOutput] {
	prepare := func(rng io.Reader) (ceremony.Stage[*signing.Outcome], error) {
		if len(req.Payloads) == 0 {
			return nil, m.requestFailure(req.CeremonyID, signing.InvalidNumberOfPayloads, signing.ErrNoPayloads)
		}
		payloads := make([]signing.PayloadAndKey, len(req.Payloads))
		for i, p := range req.Payloads {
			info, err := m.loadKey(p.KeyID)
			if errors.Is(err, keystore.ErrKeyNotFound) {
				return nil, m.requestFailure(req.CeremonyID, signing.UnknownKey, err)
			}
			if err != nil {
				return nil, err
			}
			payloads[i] = signing.PayloadAndKey{Payload: p.Payload, Key: info}
		}
		first := payloads[0].Key
		for _, p := range payloads[1:] {
			if p.Key.Params != first.Params || !slices.Equal(p.Key.Mapping.AllAccountIDs(), first.Mapping.AllAccountIDs()) {
				return nil, ErrKeyParametersDiffer
			}
		}
		if len(req.Signers) < first.Params.Threshold {
			return nil, m.requestFailure(req.CeremonyID, signing.NotEnoughSigners,
				fmt.Errorf("%d signers for threshold %d", len(req.Signers), first.Params.Threshold))
		}
		common, err := m.common(req.CeremonyID, signingLabel, first.Mapping, req.Signers, rng)
		if err != nil {
			return nil, m.requestFailure(req.CeremonyID, signing.InvalidParticipants, err)
		}
		return signing.New(common, m.scheme, payloads)
	}
	finish := func(out *signing.Outcome) (SigningOutput, error) {
		return SigningOutput{Signatures: out.Signatures}, nil
	}
	return start(m, m.signings, req.CeremonyID, prepare, finish)
}

func (m *Manager) loadKey(keyID keystore.KeyID) (*keygen.KeygenResultInfo, error) {
	if m.keys == nil {
		return nil, fmt.Errorf("%w: no keystore", keystore.ErrKeyNotFound)
	}
	return m.keys.LoadKey(m.ctx, m.scheme.ID(), keyID)
}

func (m *Manager) saveKey(epoch uint32) func(*keygen.Outcome) (KeygenOutput, error) {
	return func(out *keygen.Outcome) (KeygenOutput, error) {
		res := KeygenOutput{
			KeyID:     keystore.NewKeyID(epoch, out.PublicKey),
			PublicKey: out.PublicKey,
			Info:      out.Info,
		}
		if out.Info != nil && m.keys != nil {
			if err := m.keys.SaveKey(m.ctx, res.KeyID, out.Info); err != nil {
				return KeygenOutput{}, err
			}
		}
		return res, nil
	}
}
