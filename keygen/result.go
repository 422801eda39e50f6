package keygen

import (
	"errors"
	"fmt"
	"sort"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/codec"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/scheme"
)

// maxCompatibilityFactor bounds the search in NewCompatible. Every
// supported scheme accepts roughly half of all keys, so the bound is
// never reached in practice.
const maxCompatibilityFactor = 1 << 16

var ErrNoCompatibleFactor = errors.New("keygen: no compatible key within factor bound")

// KeygenResult is one party's share of an aggregate key: its secret share
// x, the aggregate public key y and every party's public key share.
type KeygenResult struct {
	x               group.Scalar
	y               group.Point
	partyPublicKeys map[ceremony.AccountID]group.Point
}

// NewCompatible scales a freshly generated key until s accepts the
// aggregate public key. The smallest factor f >= 1 with f*y compatible is
// used for x, y and every public key share, so all parties that hold a
// share of the same y end up with shares of the same scaled key.
func NewCompatible(s scheme.Scheme, x group.Scalar, y group.Point, partyPublicKeys map[ceremony.AccountID]group.Point) (*KeygenResult, error) {
	factor, err := CompatibilityFactor(s, y)
	if err != nil {
		return nil, err
	}
	g := s.Group()
	r := &KeygenResult{
		y:               g.NewPoint().ScalarMult(factor, y),
		partyPublicKeys: make(map[ceremony.AccountID]group.Point, len(partyPublicKeys)),
	}
	if x != nil {
		r.x = g.NewScalar().Mul(x, factor)
	}
	for id, pk := range partyPublicKeys {
		r.partyPublicKeys[id] = g.NewPoint().ScalarMult(factor, pk)
	}
	return r, nil
}

// CompatibilityFactor finds the smallest f >= 1 such that f*y is
// compatible with s, by repeated addition of y.
func CompatibilityFactor(s scheme.Scheme, y group.Point) (group.Scalar, error) {
	g := s.Group()
	product := g.NewPoint().Set(y)
	for f := uint64(1); f <= maxCompatibilityFactor; f++ {
		if s.IsPubkeyCompatible(product) {
			return g.NewScalar().SetUint64(f), nil
		}
		product = g.NewPoint().Add(product, y)
	}
	return nil, ErrNoCompatibleFactor
}

// SecretShare returns the party's secret key share.
func (r *KeygenResult) SecretShare() group.Scalar { return r.x }

// PublicKey returns the aggregate public key.
func (r *KeygenResult) PublicKey() group.Point { return r.y }

// PartyPublicKey returns id's public key share.
func (r *KeygenResult) PartyPublicKey(id ceremony.AccountID) (group.Point, bool) {
	pk, ok := r.partyPublicKeys[id]
	return pk, ok
}

// PartyPublicKeys returns a copy of all public key shares.
func (r *KeygenResult) PartyPublicKeys() map[ceremony.AccountID]group.Point {
	out := make(map[ceremony.AccountID]group.Point, len(r.partyPublicKeys))
	for id, pk := range r.partyPublicKeys {
		out[id] = pk
	}
	return out
}

// Zeroize erases the secret share.
func (r *KeygenResult) Zeroize() {
	if r.x != nil {
		r.x.Zeroize()
	}
}

// KeygenResultInfo is what a key holder persists: its share, the party
// mapping the shares were issued under and the threshold.
type KeygenResultInfo struct {
	Key     *KeygenResult
	Mapping *ceremony.PartyIdxMapping
	Params  ceremony.ThresholdParameters
	Scheme  scheme.ID
}

// Encode writes info for the keystore.
func (info *KeygenResultInfo) Encode(w *codec.Writer) {
	w.PutString(string(info.Scheme))
	w.PutU32(uint32(info.Params.ShareCount))
	w.PutU32(uint32(info.Params.Threshold))
	info.Mapping.Encode(w)
	w.PutScalar(info.Key.x)
	w.PutPoint(info.Key.y)

	ids := make([]ceremony.AccountID, 0, len(info.Key.partyPublicKeys))
	for id := range info.Key.partyPublicKeys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	w.PutLen(len(ids))
	for _, id := range ids {
		w.PutString(string(id))
		w.PutPoint(info.Key.partyPublicKeys[id])
	}
}

// Bytes returns the encoding of info.
func (info *KeygenResultInfo) Bytes() []byte {
	w := codec.NewWriter()
	info.Encode(w)
	return w.Bytes()
}

// DecodeKeygenResultInfo reads an encoding produced by Encode.
func DecodeKeygenResultInfo(b []byte) (*KeygenResultInfo, error) {
	r := codec.NewReader(b)
	id := scheme.ID(r.Text())
	if err := r.Err(); err != nil {
		return nil, err
	}
	s, err := scheme.New(id)
	if err != nil {
		return nil, err
	}
	g := s.Group()

	params := ceremony.ThresholdParameters{ShareCount: int(r.U32()), Threshold: int(r.U32())}
	mapping, err := ceremony.DecodePartyIdxMapping(r)
	if err != nil {
		return nil, err
	}
	key := &KeygenResult{x: r.Scalar(g), y: r.Point(g)}
	n := r.Len()
	key.partyPublicKeys = make(map[ceremony.AccountID]group.Point, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		pid := ceremony.AccountID(r.Text())
		key.partyPublicKeys[pid] = r.Point(g)
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.ShareCount != mapping.NumParties() {
		return nil, fmt.Errorf("keygen: share count %d does not match %d parties", params.ShareCount, mapping.NumParties())
	}
	return &KeygenResultInfo{Key: key, Mapping: mapping, Params: params, Scheme: id}, nil
}
