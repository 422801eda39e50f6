package keygen_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/ceremony/ceremonytest"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/scheme"
)

type handover struct {
	sharing   []ceremony.AccountID
	receiving []ceremony.AccountID
	threshold int
	absent    []ceremony.AccountID
	tamper    ceremonytest.TamperFunc
}

// runHandover hands the key held by keys over. Holders of keys that are
// sharing start from their key; everybody else starts without one.
func runHandover(t *testing.T, s scheme.Scheme, keys map[ceremony.AccountID]*keygen.Outcome, h handover) *ceremonytest.Runner[*keygen.Outcome] {
	t.Helper()
	layout, err := keygen.NewResharingContextWithoutKey(h.sharing, h.receiving)
	require.NoError(t, err)

	r := ceremonytest.NewRunner[*keygen.Outcome](t, layout.Mapping, decoders(s.Group()))
	r.Tamper = h.tamper
	params, err := ceremony.NewThresholdParameters(len(h.receiving), h.threshold)
	require.NoError(t, err)

	for _, id := range layout.Mapping.AllAccountIDs() {
		if slices.Contains(h.absent, id) {
			continue
		}
		var ctx *keygen.ResharingContext
		if slices.Contains(h.sharing, id) {
			ctx, err = keygen.NewResharingContextFromKey(s, keys[id].Info, id, h.sharing, h.receiving)
		} else {
			ctx, err = keygen.NewResharingContextWithoutKey(h.sharing, h.receiving)
		}
		require.NoError(t, err)
		first, err := keygen.New(r.Common(id, 2), s, params, ctx)
		require.NoError(t, err)
		r.AddNode(id, first)
	}
	r.Run()
	return r
}

func TestHandoverKeepsKey(t *testing.T) {
	s := mustScheme(t, scheme.Bitcoin)
	original, ids := runKeygen(t, s, 4, 2, nil, nil)
	require.Empty(t, original.Failures)
	y := original.Results[ids[0]].PublicKey

	h := handover{
		sharing:   []ceremony.AccountID{"party-01", "party-02"},
		receiving: []ceremony.AccountID{"party-02", "party-03", "party-05"},
		threshold: 2,
	}
	r := runHandover(t, s, original.Results, h)

	require.Empty(t, r.Failures)
	require.Len(t, r.Results, 4)
	for id, out := range r.Results {
		assert.True(t, y.Equal(out.PublicKey), "%s derived a different key", id)
	}
	assert.Nil(t, r.Results["party-01"].Info)

	received := make(map[ceremony.AccountID]*keygen.Outcome)
	for _, id := range h.receiving {
		require.NotNil(t, r.Results[id].Info, id)
		assert.Equal(t, 3, r.Results[id].Info.Mapping.NumParties())
		received[id] = r.Results[id]
	}
	assert.True(t, requireConsistentKey(t, s, received).Equal(y))
	assert.True(t, interpolate(t, s.Group(), received, []ceremony.AccountID{"party-03", "party-05"}).Equal(y))
	assert.True(t, interpolate(t, s.Group(), received, []ceremony.AccountID{"party-02", "party-05"}).Equal(y))
}

func TestHandoverFailsWithoutSharingParty(t *testing.T) {
	s := mustScheme(t, scheme.EVM)
	original, _ := runKeygen(t, s, 4, 2, nil, nil)
	require.Empty(t, original.Failures)

	r := runHandover(t, s, original.Results, handover{
		sharing:   []ceremony.AccountID{"party-01", "party-02"},
		receiving: []ceremony.AccountID{"party-03", "party-04"},
		threshold: 2,
		absent:    []ceremony.AccountID{"party-02"},
	})

	require.Empty(t, r.Results)
	require.Len(t, r.Failures, 3)
	for _, f := range r.Failures {
		assert.Equal(t, keygen.BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: keygen.StagePubkeyShares0}, f.Reason)
		assert.Equal(t, []ceremony.AuthorityIndex{2}, f.Offenders)
	}
}

func TestHandoverAbsentSharerAfterAgreement(t *testing.T) {
	s := mustScheme(t, scheme.EVM)
	original, _ := runKeygen(t, s, 4, 2, nil, nil)
	require.Empty(t, original.Failures)

	r := runHandover(t, s, original.Results, handover{
		sharing:   []ceremony.AccountID{"party-01", "party-02", "party-03"},
		receiving: []ceremony.AccountID{"party-03", "party-04"},
		threshold: 2,
		absent:    []ceremony.AccountID{"party-03"},
	})

	require.Empty(t, r.Results)
	require.Len(t, r.Failures, 3)
	for _, f := range r.Failures {
		assert.Equal(t, keygen.BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: keygen.StageVerifyHashCommitmentsBroadcast2}, f.Reason)
		assert.Equal(t, []ceremony.AuthorityIndex{3}, f.Offenders)
	}
}

func TestHandoverBlamesDissentingSharer(t *testing.T) {
	s := mustScheme(t, scheme.EVM)
	g := s.Group()
	original, _ := runKeygen(t, s, 4, 2, nil, nil)
	require.Empty(t, original.Failures)

	tamper := func(from, _ ceremony.AccountID, m ceremony.Message) ceremony.Message {
		if ps, ok := m.(*keygen.PubkeyShares0); ok && from == "party-03" {
			ps.Shares[1] = g.Generator()
		}
		return m
	}
	r := runHandover(t, s, original.Results, handover{
		sharing:   []ceremony.AccountID{"party-01", "party-02", "party-03"},
		receiving: []ceremony.AccountID{"party-01", "party-04"},
		threshold: 2,
		tamper:    tamper,
	})

	failures := honestFailures(r, "party-03")
	require.Len(t, failures, 3)
	for _, f := range failures {
		assert.Equal(t, keygen.BroadcastFailure{Reason: ceremony.Inconsistency, Stage: keygen.StagePubkeyShares0}, f.Reason)
		assert.Equal(t, []ceremony.AuthorityIndex{3}, f.Offenders)
	}
}

func TestHandoverBlamesWrongConstantTerm(t *testing.T) {
	s := mustScheme(t, scheme.EVM)
	original, _ := runKeygen(t, s, 4, 2, nil, nil)
	require.Empty(t, original.Failures)

	// party-04 shares nothing, so its constant term must be the identity.
	// Starting it from a key makes it deal a non-zero secret.
	h := handover{
		sharing:   []ceremony.AccountID{"party-01", "party-02"},
		receiving: []ceremony.AccountID{"party-03", "party-04"},
		threshold: 2,
	}
	layout, err := keygen.NewResharingContextWithoutKey(h.sharing, h.receiving)
	require.NoError(t, err)
	r := ceremonytest.NewRunner[*keygen.Outcome](t, layout.Mapping, decoders(s.Group()))
	params, err := ceremony.NewThresholdParameters(2, 2)
	require.NoError(t, err)
	for _, id := range layout.Mapping.AllAccountIDs() {
		var ctx *keygen.ResharingContext
		if id == "party-03" {
			ctx, err = keygen.NewResharingContextWithoutKey(h.sharing, h.receiving)
		} else {
			ctx, err = keygen.NewResharingContextFromKey(s, original.Results[id].Info, id, h.sharing, h.receiving)
			if id == "party-04" {
				ctx.Status = keygen.Sharing
				ctx.SecretShare = original.Results[id].Info.Key.SecretShare()
				ctx.ExpectedPubkeyShares = nil
			}
		}
		require.NoError(t, err)
		first, err := keygen.New(r.Common(id, 3), s, params, ctx)
		require.NoError(t, err)
		r.AddNode(id, first)
	}
	r.Run()

	failures := honestFailures(r, "party-04")
	require.Len(t, failures, 3)
	for _, f := range failures {
		assert.Equal(t, keygen.InvalidCommitment, f.Reason)
		assert.Equal(t, []ceremony.AuthorityIndex{4}, f.Offenders)
	}
}

func TestResharingContextFromKey(t *testing.T) {
	s := mustScheme(t, scheme.EVM)
	g := s.Group()
	original, ids := runKeygen(t, s, 3, 2, nil, nil)
	require.Empty(t, original.Failures)

	sharing := ids[:2]
	receiving := []ceremony.AccountID{"party-02", "party-07"}
	ctx, err := keygen.NewResharingContextFromKey(s, original.Results["party-01"].Info, "party-01", sharing, receiving)
	require.NoError(t, err)

	assert.Equal(t, keygen.Sharing, ctx.Status)
	assert.Equal(t, 3, ctx.Mapping.NumParties())
	assert.Equal(t, 2, ctx.FutureMapping.NumParties())
	assert.Equal(t, []ceremony.AuthorityIndex{1, 2}, ctx.Sharing.Sorted())
	assert.Equal(t, []ceremony.AuthorityIndex{2, 3}, ctx.Receiving.Sorted())
	require.Len(t, ctx.ExpectedPubkeyShares, 2)

	// The expected shares sum to the key and ours matches our secret.
	sum := g.NewPoint()
	for _, pk := range ctx.ExpectedPubkeyShares {
		sum = g.NewPoint().Add(sum, pk)
	}
	assert.True(t, sum.Equal(original.Results["party-01"].PublicKey))
	own := g.NewPoint().ScalarMult(ctx.SecretShare, g.Generator())
	assert.True(t, own.Equal(ctx.ExpectedPubkeyShares["party-01"]))

	other, err := keygen.NewResharingContextFromKey(s, original.Results["party-03"].Info, "party-03", sharing, receiving)
	require.NoError(t, err)
	assert.Equal(t, keygen.NonSharing, other.Status)
	assert.Nil(t, other.SecretShare)
}
