package ceremony

import (
	"errors"
	"fmt"
	"sort"

	"github.com/f3rmion/multisig/codec"
)

// AuthorityIndex identifies a participant within one ceremony. Indexes
// are dense, starting at 1.
type AuthorityIndex = uint32

// AccountID is a participant's durable identity.
type AccountID string

// IndexSet is a set of authority indexes.
type IndexSet map[AuthorityIndex]struct{}

// NewIndexSet returns a set holding idxs.
func NewIndexSet(idxs ...AuthorityIndex) IndexSet {
	s := make(IndexSet, len(idxs))
	for _, idx := range idxs {
		s[idx] = struct{}{}
	}
	return s
}

func (s IndexSet) Add(idx AuthorityIndex) {
	s[idx] = struct{}{}
}

func (s IndexSet) Remove(idx AuthorityIndex) {
	delete(s, idx)
}

func (s IndexSet) Contains(idx AuthorityIndex) bool {
	_, ok := s[idx]
	return ok
}

func (s IndexSet) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s IndexSet) Sorted() []AuthorityIndex {
	out := make([]AuthorityIndex, 0, len(s))
	for idx := range s {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s IndexSet) Clone() IndexSet {
	out := make(IndexSet, len(s))
	for idx := range s {
		out[idx] = struct{}{}
	}
	return out
}

// Intersect returns the members of s that are also in o.
func (s IndexSet) Intersect(o IndexSet) IndexSet {
	out := make(IndexSet)
	for idx := range s {
		if o.Contains(idx) {
			out[idx] = struct{}{}
		}
	}
	return out
}

// Difference returns the members of s that are not in o.
func (s IndexSet) Difference(o IndexSet) IndexSet {
	out := make(IndexSet)
	for idx := range s {
		if !o.Contains(idx) {
			out[idx] = struct{}{}
		}
	}
	return out
}

func (s IndexSet) Union(o IndexSet) IndexSet {
	out := s.Clone()
	for idx := range o {
		out[idx] = struct{}{}
	}
	return out
}

var (
	ErrEmptyParticipants    = errors.New("participant set is empty")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrInvalidThreshold     = errors.New("invalid threshold")
)

// PartyIdxMapping is the bijection between account ids and authority
// indexes fixed when a key is generated. Account ids are sorted and
// numbered from 1, so every party derives the same mapping from the same
// set.
type PartyIdxMapping struct {
	ids  []AccountID
	idxs map[AccountID]AuthorityIndex
}

// NewPartyIdxMapping builds the mapping for a participant set.
func NewPartyIdxMapping(ids []AccountID) (*PartyIdxMapping, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyParticipants
	}
	sorted := append([]AccountID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	m := &PartyIdxMapping{ids: sorted, idxs: make(map[AccountID]AuthorityIndex, len(sorted))}
	for i, id := range sorted {
		if _, dup := m.idxs[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
		}
		m.idxs[id] = AuthorityIndex(i + 1)
	}
	return m, nil
}

// IdxOf returns the index of id.
func (m *PartyIdxMapping) IdxOf(id AccountID) (AuthorityIndex, bool) {
	idx, ok := m.idxs[id]
	return idx, ok
}

// AccountID returns the account behind idx.
func (m *PartyIdxMapping) AccountID(idx AuthorityIndex) (AccountID, bool) {
	if idx == 0 || int(idx) > len(m.ids) {
		return "", false
	}
	return m.ids[idx-1], true
}

func (m *PartyIdxMapping) NumParties() int {
	return len(m.ids)
}

// AllIndexes returns 1..=N.
func (m *PartyIdxMapping) AllIndexes() IndexSet {
	s := make(IndexSet, len(m.ids))
	for i := range m.ids {
		s.Add(AuthorityIndex(i + 1))
	}
	return s
}

// IndexesOf maps a subset of accounts to their indexes.
func (m *PartyIdxMapping) IndexesOf(ids []AccountID) (IndexSet, error) {
	s := make(IndexSet, len(ids))
	for _, id := range ids {
		idx, ok := m.idxs[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
		}
		if s.Contains(idx) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
		}
		s.Add(idx)
	}
	return s, nil
}

// AccountIDs maps indexes back to accounts, in ascending index order.
// Indexes outside the mapping are skipped.
func (m *PartyIdxMapping) AccountIDs(idxs IndexSet) []AccountID {
	out := make([]AccountID, 0, len(idxs))
	for _, idx := range idxs.Sorted() {
		if id, ok := m.AccountID(idx); ok {
			out = append(out, id)
		}
	}
	return out
}

// AllAccountIDs returns every account in index order.
func (m *PartyIdxMapping) AllAccountIDs() []AccountID {
	return append([]AccountID(nil), m.ids...)
}

// Encode writes the mapping as its sorted account list.
func (m *PartyIdxMapping) Encode(w *codec.Writer) {
	w.PutLen(len(m.ids))
	for _, id := range m.ids {
		w.PutString(string(id))
	}
}

// DecodePartyIdxMapping reads a mapping written by Encode.
func DecodePartyIdxMapping(r *codec.Reader) (*PartyIdxMapping, error) {
	n := r.Len()
	ids := make([]AccountID, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		ids = append(ids, AccountID(r.Text()))
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return NewPartyIdxMapping(ids)
}

// ThresholdParameters fixes the share count N and the signing threshold
// T, the minimum number of parties that can sign. Sharing polynomials
// have degree T-1.
type ThresholdParameters struct {
	ShareCount int
	Threshold  int
}

// DefaultThreshold is ceil(2n/3).
func DefaultThreshold(n int) int {
	return (2*n + 2) / 3
}

// NewThresholdParameters validates 1 <= t <= n. A zero t selects the
// default threshold.
func NewThresholdParameters(n, t int) (ThresholdParameters, error) {
	if t == 0 {
		t = DefaultThreshold(n)
	}
	p := ThresholdParameters{ShareCount: n, Threshold: t}
	return p, p.Validate()
}

func (p ThresholdParameters) Validate() error {
	if p.Threshold < 1 || p.Threshold > p.ShareCount {
		return fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, p.Threshold, p.ShareCount)
	}
	return nil
}
