package genesis

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/frost"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/scheme"
)

var participants = []ceremony.AccountID{"carol", "alice", "dave", "bob"}

func mustScheme(t *testing.T, id scheme.ID) scheme.Scheme {
	t.Helper()
	s, err := scheme.New(id)
	require.NoError(t, err)
	return s
}

// reconstruct interpolates the public key from the shares of signers.
func reconstruct(t *testing.T, g group.Group, infos map[ceremony.AccountID]*keygen.KeygenResultInfo, signers []ceremony.AccountID) group.Point {
	t.Helper()
	f := frost.New(g)
	var set []uint32
	for _, id := range signers {
		idx, ok := infos[id].Mapping.IdxOf(id)
		require.True(t, ok)
		set = append(set, idx)
	}
	x := g.NewScalar()
	for i, id := range signers {
		lambda, err := f.LagrangeCoefficient(set[i], set)
		require.NoError(t, err)
		x = g.NewScalar().Add(x, g.NewScalar().Mul(lambda, infos[id].Key.SecretShare()))
	}
	return g.NewPoint().ScalarMult(x, g.Generator())
}

func TestGenerateKeyData(t *testing.T) {
	for _, id := range scheme.All() {
		t.Run(string(id), func(t *testing.T) {
			s := mustScheme(t, id)
			g := s.Group()
			y, infos, err := GenerateKeyData(s, participants, rand.Reader)
			require.NoError(t, err)
			require.Len(t, infos, len(participants))
			assert.True(t, s.IsPubkeyCompatible(y))

			for account, info := range infos {
				assert.Equal(t, id, info.Scheme)
				assert.Equal(t, ceremony.ThresholdParameters{ShareCount: 4, Threshold: 3}, info.Params)
				assert.True(t, y.Equal(info.Key.PublicKey()), account)
				pk, ok := info.Key.PartyPublicKey(account)
				require.True(t, ok)
				assert.True(t, g.NewPoint().ScalarMult(info.Key.SecretShare(), g.Generator()).Equal(pk), account)
			}

			assert.True(t, y.Equal(reconstruct(t, g, infos, []ceremony.AccountID{"alice", "bob", "carol"})))
			assert.True(t, y.Equal(reconstruct(t, g, infos, []ceremony.AccountID{"bob", "dave", "carol"})))
			assert.False(t, y.Equal(reconstruct(t, g, infos, []ceremony.AccountID{"alice", "bob"})))
		})
	}
}

func TestGenerateKeyDataWithIncompatibleStart(t *testing.T) {
	s := mustScheme(t, scheme.EVM)
	y, infos, err := GenerateKeyDataWithIncompatibleStart(s, participants, rand.Reader)
	require.NoError(t, err)
	assert.True(t, s.IsPubkeyCompatible(y))
	assert.True(t, y.Equal(reconstruct(t, s.Group(), infos, []ceremony.AccountID{"alice", "carol", "dave"})))
}

func TestIncompatibleStartNeedsRestrictedScheme(t *testing.T) {
	// Every deal is compatible, so the search runs to the limit.
	defer func(n int) { maxIncompatibleAttempts = n }(maxIncompatibleAttempts)
	maxIncompatibleAttempts = 3

	_, _, err := GenerateKeyDataWithIncompatibleStart(mustScheme(t, scheme.Solana), participants, rand.Reader)
	assert.ErrorIs(t, err, ErrAlwaysCompatible)
}

func TestGenerateKeyDataRejectsDuplicates(t *testing.T) {
	_, _, err := GenerateKeyData(mustScheme(t, scheme.Bitcoin), []ceremony.AccountID{"alice", "alice"}, rand.Reader)
	assert.Error(t, err)
}
