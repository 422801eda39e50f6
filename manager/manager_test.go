package manager

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chebyrash/promise"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/keystore"
	"github.com/f3rmion/multisig/metrics"
	"github.com/f3rmion/multisig/scheme"
	"github.com/f3rmion/multisig/signing"
	"github.com/f3rmion/multisig/transport"
	"github.com/f3rmion/multisig/wire"
)

const testStageDuration = 30 * time.Second

type cluster struct {
	scheme   scheme.Scheme
	net      *transport.Network
	clock    *clock.Mock
	registry *prometheus.Registry
	managers map[ceremony.AccountID]*Manager
}

// newCluster runs a manager for each of ids on a shared in-memory network.
func newCluster(t *testing.T, id scheme.ID, ids []ceremony.AccountID, opts ...func(*Options)) *cluster {
	t.Helper()
	s, err := scheme.New(id)
	require.NoError(t, err)

	c := &cluster{
		scheme:   s,
		net:      transport.NewNetwork(0, zap.NewNop()),
		clock:    clock.NewMock(),
		registry: prometheus.NewRegistry(),
		managers: make(map[ceremony.AccountID]*Manager, len(ids)),
	}
	m := metrics.New(c.registry)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for _, account := range ids {
		o := Options{
			AccountID:        account,
			Scheme:           s,
			Outgoing:         c.net.Sink(account),
			Keystore:         keystore.NewInMemory(logger),
			Clock:            c.clock,
			Logger:           logger,
			Metrics:          m,
			MaxStageDuration: testStageDuration,
		}
		for _, opt := range opts {
			opt(&o)
		}
		mgr, err := New(o)
		require.NoError(t, err)
		inbox, err := c.net.Join(account)
		require.NoError(t, err)
		c.managers[account] = mgr
		g.Go(func() error {
			if err := mgr.Run(ctx, inbox); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	t.Cleanup(func() {
		cancel()
		for _, mgr := range c.managers {
			mgr.Close()
		}
		require.NoError(t, g.Wait())
	})
	return c
}

func accounts(n int) []ceremony.AccountID {
	ids := make([]ceremony.AccountID, n)
	for i := range ids {
		ids[i] = ceremony.AccountID(fmt.Sprintf("party-%02d", i+1))
	}
	return ids
}

type outcome[T any] struct {
	out T
	err error
}

// awaitAll waits for every promise. With tick set, the mock clock moves
// one stage duration every 200ms so that stages waiting for absent
// parties time out.
func awaitAll[T any](t *testing.T, c *cluster, promises map[ceremony.AccountID]*promise.Promise[T], tick bool) map[ceremony.AccountID]outcome[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		out = make(map[ceremony.AccountID]outcome[T], len(promises))
		g   errgroup.Group
	)
	for id, p := range promises {
		g.Go(func() error {
			v, err := p.Await(ctx)
			o := outcome[T]{err: err}
			if v != nil {
				o.out = *v
			}
			mu.Lock()
			out[id] = o
			mu.Unlock()
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return out
		case <-time.After(200 * time.Millisecond):
			if tick {
				c.clock.Add(testStageDuration)
			}
		}
	}
}

func (c *cluster) keygen(t *testing.T, req KeygenRequest, tick bool) map[ceremony.AccountID]outcome[KeygenOutput] {
	t.Helper()
	promises := make(map[ceremony.AccountID]*promise.Promise[KeygenOutput])
	for _, id := range req.Participants {
		if m, ok := c.managers[id]; ok {
			promises[id] = m.StartKeygen(req)
		}
	}
	return awaitAll(t, c, promises, tick)
}

func (c *cluster) sign(t *testing.T, req SigningRequest) map[ceremony.AccountID]outcome[SigningOutput] {
	t.Helper()
	promises := make(map[ceremony.AccountID]*promise.Promise[SigningOutput])
	for _, id := range req.Signers {
		promises[id] = c.managers[id].StartSigning(req)
	}
	return awaitAll(t, c, promises, false)
}

// skip moves the managers of ids past a ceremony they do not take part in.
func (c *cluster) skip(t *testing.T, ceremonyID uint64, ids ...ceremony.AccountID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, c.managers[id].UpdateLatestCeremonyID(ceremonyID))
	}
}

func requireSameKey(t *testing.T, results map[ceremony.AccountID]outcome[KeygenOutput]) KeygenOutput {
	t.Helper()
	var first *KeygenOutput
	for id, res := range results {
		require.NoError(t, res.err, id)
		if first == nil {
			first = &res.out
			continue
		}
		require.True(t, first.PublicKey.Equal(res.out.PublicKey), "%s derived a different key", id)
		require.Equal(t, first.KeyID, res.out.KeyID)
	}
	require.NotNil(t, first)
	return *first
}

func requireFailure(t *testing.T, err error) *CeremonyFailure {
	t.Helper()
	var failure *CeremonyFailure
	require.ErrorAs(t, err, &failure)
	return failure
}

func payload(label string) []byte {
	h := sha256.Sum256([]byte(label))
	return h[:]
}

func badMessages(lines ...string) string {
	return `# HELP multisig_ceremony_manager_bad_messages_total Messages dropped before reaching a ceremony, by reason.
# TYPE multisig_ceremony_manager_bad_messages_total counter
` + strings.Join(lines, "\n") + "\n"
}

func TestKeygenThenSign(t *testing.T) {
	ids := accounts(4)
	c := newCluster(t, scheme.EVM, ids)

	results := c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids, Epoch: 7, Threshold: 2}, false)
	require.Len(t, results, 4)
	key := requireSameKey(t, results)
	assert.Equal(t, uint32(7), key.KeyID.EpochIndex)

	for _, id := range ids {
		info, err := c.managers[id].keys.LoadKey(context.Background(), scheme.EVM, key.KeyID)
		require.NoError(t, err, id)
		assert.Equal(t, 2, info.Params.Threshold)
		assert.Equal(t, ids, info.Mapping.AllAccountIDs())
	}

	signers := ids[1:]
	c.skip(t, 2, ids[0])
	msg := payload("transfer 100")
	signed := c.sign(t, SigningRequest{
		CeremonyID: 2,
		Signers:    signers,
		Payloads:   []Payload{{KeyID: key.KeyID, Payload: msg}},
	})
	require.Len(t, signed, 3)
	var sig []byte
	for id, res := range signed {
		require.NoError(t, res.err, id)
		require.Len(t, res.out.Signatures, 1)
		if sig == nil {
			sig = res.out.Signatures[0]
		}
		assert.Equal(t, sig, res.out.Signatures[0], id)
	}
	require.NoError(t, c.scheme.Verify(key.PublicKey, msg, sig))

	for _, m := range c.managers {
		assert.Equal(t, uint64(2), m.LatestCeremonyID())
	}
}

func TestSigningMultiplePayloads(t *testing.T) {
	ids := accounts(3)
	c := newCluster(t, scheme.Bitcoin, ids)
	key := requireSameKey(t, c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids, Epoch: 1}, false))

	payloads := []Payload{
		{KeyID: key.KeyID, Payload: payload("first")},
		{KeyID: key.KeyID, Payload: payload("second")},
	}
	signed := c.sign(t, SigningRequest{CeremonyID: 2, Signers: ids, Payloads: payloads})
	for id, res := range signed {
		require.NoError(t, res.err, id)
		require.Len(t, res.out.Signatures, 2)
		for i, p := range payloads {
			assert.NoError(t, c.scheme.Verify(key.PublicKey, p.Payload, res.out.Signatures[i]), id)
		}
	}
}

func TestKeygenContinuesAfterTimeout(t *testing.T) {
	ids := accounts(4)
	// party-04 never runs a manager.
	c := newCluster(t, scheme.Bitcoin, ids[:3])

	results := c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids, Epoch: 1, Threshold: 2}, true)
	require.Len(t, results, 3)
	key := requireSameKey(t, results)
	assert.Len(t, key.Info.Key.PartyPublicKeys(), 4)

	// The remaining parties can still sign without party-04.
	msg := payload("after timeout")
	signed := c.sign(t, SigningRequest{
		CeremonyID: 2,
		Signers:    ids[:2],
		Payloads:   []Payload{{KeyID: key.KeyID, Payload: msg}},
	})
	for id, res := range signed {
		require.NoError(t, res.err, id)
		assert.NoError(t, c.scheme.Verify(key.PublicKey, msg, res.out.Signatures[0]))
	}
}

func TestKeygenFailsAfterTimeoutBelowThreshold(t *testing.T) {
	ids := accounts(4)
	c := newCluster(t, scheme.EVM, ids[:3])

	results := c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids, Epoch: 1, Threshold: 4}, true)
	require.Len(t, results, 3)
	for id, res := range results {
		failure := requireFailure(t, res.err)
		assert.Equal(t, uint64(1), failure.CeremonyID, id)
		assert.Equal(t, keygen.BroadcastFailure{Reason: ceremony.InsufficientMessages, Stage: keygen.StageVerifyHashCommitmentsBroadcast2}, failure.Reason)
		assert.Equal(t, ids[3:], failure.Offenders)
	}
}

func TestHandover(t *testing.T) {
	ids := accounts(5)
	c := newCluster(t, scheme.EVM, ids)

	original := requireSameKey(t, c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids[:4], Epoch: 1, Threshold: 2}, false))
	c.skip(t, 1, ids[4])

	req := HandoverRequest{
		CeremonyID: 2,
		KeyID:      original.KeyID,
		Sharing:    []ceremony.AccountID{ids[0], ids[1]},
		Receiving:  []ceremony.AccountID{ids[1], ids[2], ids[4]},
		Epoch:      2,
		Threshold:  2,
	}
	promises := make(map[ceremony.AccountID]*promise.Promise[KeygenOutput])
	for _, id := range []ceremony.AccountID{ids[0], ids[1], ids[2], ids[4]} {
		promises[id] = c.managers[id].StartHandover(req)
	}
	c.skip(t, 2, ids[3])
	results := awaitAll(t, c, promises, false)

	handed := requireSameKey(t, results)
	assert.True(t, original.PublicKey.Equal(handed.PublicKey))
	assert.Equal(t, uint32(2), handed.KeyID.EpochIndex)
	assert.Nil(t, results[ids[0]].out.Info)

	_, err := c.managers[ids[0]].keys.LoadKey(context.Background(), scheme.EVM, handed.KeyID)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
	for _, id := range req.Receiving {
		info, err := c.managers[id].keys.LoadKey(context.Background(), scheme.EVM, handed.KeyID)
		require.NoError(t, err, id)
		assert.Equal(t, req.Receiving, info.Mapping.AllAccountIDs())
	}

	// The new holders sign with the handed over key.
	c.skip(t, 3, ids[0], ids[1], ids[3])
	msg := payload("new epoch")
	signed := c.sign(t, SigningRequest{
		CeremonyID: 3,
		Signers:    []ceremony.AccountID{ids[2], ids[4]},
		Payloads:   []Payload{{KeyID: handed.KeyID, Payload: msg}},
	})
	for id, res := range signed {
		require.NoError(t, res.err, id)
		assert.NoError(t, c.scheme.Verify(original.PublicKey, msg, res.out.Signatures[0]))
	}
}

func TestHandoverRequiresKeyForSharingParty(t *testing.T) {
	ids := accounts(2)
	c := newCluster(t, scheme.EVM, ids)

	p := c.managers[ids[0]].StartHandover(HandoverRequest{
		CeremonyID: 1,
		KeyID:      keystore.KeyID{EpochIndex: 1, PublicKey: []byte{1}},
		Sharing:    ids,
		Receiving:  ids,
		Epoch:      2,
	})
	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestSigningRequestValidation(t *testing.T) {
	ids := accounts(3)
	c := newCluster(t, scheme.EVM, ids)
	key := requireSameKey(t, c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids, Epoch: 1, Threshold: 2}, false))
	m := c.managers[ids[0]]

	tests := []struct {
		name   string
		req    SigningRequest
		reason ceremony.FailureReason
	}{
		{
			name:   "no payloads",
			req:    SigningRequest{Signers: ids},
			reason: signing.InvalidNumberOfPayloads,
		},
		{
			name: "unknown key",
			req: SigningRequest{Signers: ids, Payloads: []Payload{
				{KeyID: keystore.KeyID{EpochIndex: 9, PublicKey: []byte{2}}, Payload: payload("x")},
			}},
			reason: signing.UnknownKey,
		},
		{
			name:   "too few signers",
			req:    SigningRequest{Signers: ids[:1], Payloads: []Payload{{KeyID: key.KeyID, Payload: payload("x")}}},
			reason: signing.NotEnoughSigners,
		},
		{
			name:   "outsider signer",
			req:    SigningRequest{Signers: []ceremony.AccountID{ids[0], "mallory"}, Payloads: []Payload{{KeyID: key.KeyID, Payload: payload("x")}}},
			reason: signing.InvalidParticipants,
		},
		{
			name:   "not a signer",
			req:    SigningRequest{Signers: ids[1:], Payloads: []Payload{{KeyID: key.KeyID, Payload: payload("x")}}},
			reason: signing.InvalidParticipants,
		},
	}
	next := uint64(2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.CeremonyID = next
			next++
			_, err := m.StartSigning(tt.req).Await(context.Background())
			failure := requireFailure(t, err)
			assert.Equal(t, tt.reason, failure.Reason)
			assert.Empty(t, failure.Offenders)
			// The id is used up even though the request was rejected.
			assert.Equal(t, tt.req.CeremonyID, m.LatestCeremonyID())
		})
	}
}

func TestKeygenRejectsInvalidParticipants(t *testing.T) {
	ids := accounts(1)
	c := newCluster(t, scheme.EVM, ids)
	m := c.managers[ids[0]]

	_, err := m.StartKeygen(KeygenRequest{CeremonyID: 1, Participants: []ceremony.AccountID{"party-02", "party-03"}}).Await(context.Background())
	assert.Equal(t, keygen.InvalidParticipants, requireFailure(t, err).Reason)

	_, err = m.StartKeygen(KeygenRequest{CeremonyID: 2, Participants: []ceremony.AccountID{ids[0], ids[0]}}).Await(context.Background())
	assert.Equal(t, keygen.InvalidParticipants, requireFailure(t, err).Reason)
	assert.Equal(t, uint64(2), m.LatestCeremonyID())
}

func TestCeremonyIDsMustBeSequential(t *testing.T) {
	ids := accounts(2)
	c := newCluster(t, scheme.EVM, ids, func(o *Options) { o.LatestCeremonyID = 10 })
	m := c.managers[ids[0]]

	_, err := m.StartKeygen(KeygenRequest{CeremonyID: 10, Participants: ids}).Await(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedCeremonyID)
	_, err = m.StartKeygen(KeygenRequest{CeremonyID: 12, Participants: ids}).Await(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedCeremonyID)
	assert.ErrorIs(t, m.UpdateLatestCeremonyID(13), ErrUnexpectedCeremonyID)

	require.NoError(t, m.UpdateLatestCeremonyID(11))
	assert.Equal(t, uint64(11), m.LatestCeremonyID())
}

func TestUnauthorisedCeremonyIsDiscarded(t *testing.T) {
	ids := accounts(1)
	c := newCluster(t, scheme.EVM, ids)
	m := c.managers[ids[0]]

	early := wire.Serialize(wire.CurrentVersion, wire.Message{CeremonyID: 1, Data: &keygen.HashComm1{}})
	m.HandleMessage("party-02", early)
	require.NoError(t, testutil.GatherAndCompare(c.registry, strings.NewReader(`
# HELP multisig_ceremony_manager_unauthorized_ceremonies Ceremonies holding early messages while waiting for their local request.
# TYPE multisig_ceremony_manager_unauthorized_ceremonies gauge
multisig_ceremony_manager_unauthorized_ceremonies{ceremony_type="keygen",chain="evm"} 1
`), "multisig_ceremony_manager_unauthorized_ceremonies"))

	require.NoError(t, m.UpdateLatestCeremonyID(1))
	m.mu.Lock()
	assert.Empty(t, m.keygens.handles)
	m.mu.Unlock()

	// Anything else for the discarded ceremony is now too old.
	m.HandleMessage("party-02", early)
	assert.NoError(t, testutil.GatherAndCompare(c.registry, strings.NewReader(badMessages(
		`multisig_ceremony_manager_bad_messages_total{chain="evm",reason="old_ceremony_id"} 1`,
	)), "multisig_ceremony_manager_bad_messages_total"))
}

func TestRequestDiscardsUnauthorisedCeremonyOfOtherKind(t *testing.T) {
	ids := accounts(2)
	c := newCluster(t, scheme.EVM, ids)
	m := c.managers[ids[0]]

	m.HandleMessage(ids[1], wire.Serialize(wire.CurrentVersion, wire.Message{CeremonyID: 1, Data: &signing.Comm1{}}))
	require.NoError(t, testutil.GatherAndCompare(c.registry, strings.NewReader(`
# HELP multisig_ceremony_manager_unauthorized_ceremonies Ceremonies holding early messages while waiting for their local request.
# TYPE multisig_ceremony_manager_unauthorized_ceremonies gauge
multisig_ceremony_manager_unauthorized_ceremonies{ceremony_type="signing",chain="evm"} 1
`), "multisig_ceremony_manager_unauthorized_ceremonies"))

	results := c.keygen(t, KeygenRequest{CeremonyID: 1, Participants: ids}, false)
	for _, id := range ids {
		require.NoError(t, results[id].err)
	}

	m.mu.Lock()
	assert.Empty(t, m.signings.handles)
	m.mu.Unlock()
}

func TestUnauthorisedCeremonyDropsLaterStages(t *testing.T) {
	ids := accounts(1)
	c := newCluster(t, scheme.EVM, ids)
	m := c.managers[ids[0]]

	late := wire.Serialize(wire.CurrentVersion, wire.Message{CeremonyID: 1, Data: &keygen.VerifyHashComm2{Data: ceremony.Report[*keygen.HashComm1]{}}})
	m.HandleMessage("party-02", late)

	expected := `
# HELP multisig_ceremony_bad_messages_total Messages rejected by a ceremony, by reason.
# TYPE multisig_ceremony_bad_messages_total counter
multisig_ceremony_bad_messages_total{ceremony_type="keygen",chain="evm",reason="non_initial_stage"} 1
`
	assert.Eventually(t, func() bool {
		return testutil.GatherAndCompare(c.registry, strings.NewReader(expected), "multisig_ceremony_bad_messages_total") == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleMessageRejects(t *testing.T) {
	ids := accounts(1)
	c := newCluster(t, scheme.EVM, ids, func(o *Options) { o.CeremonyIDWindow = 10 })
	m := c.managers[ids[0]]
	msg := func(id uint64) wire.VersionedMessage {
		return wire.Serialize(wire.CurrentVersion, wire.Message{CeremonyID: id, Data: &keygen.HashComm1{}})
	}

	m.HandleMessage("party-02", msg(0))
	m.HandleMessage("party-02", msg(10))
	m.HandleMessage("party-02", msg(11))
	m.HandleMessage("party-02", wire.VersionedMessage{Version: 2, Payload: msg(1).Payload})
	m.HandleMessage("party-02", wire.VersionedMessage{Version: wire.CurrentVersion, Payload: []byte{1, 2, 3}})

	assert.NoError(t, testutil.GatherAndCompare(c.registry, strings.NewReader(badMessages(
		`multisig_ceremony_manager_bad_messages_total{chain="evm",reason="deserialize"} 1`,
		`multisig_ceremony_manager_bad_messages_total{chain="evm",reason="old_ceremony_id"} 1`,
		`multisig_ceremony_manager_bad_messages_total{chain="evm",reason="unexpected_future_ceremony_id"} 1`,
		`multisig_ceremony_manager_bad_messages_total{chain="evm",reason="unsupported_version"} 1`,
	)), "multisig_ceremony_manager_bad_messages_total"))

	// Id 10 is inside the window and waits for its request.
	m.mu.Lock()
	assert.Len(t, m.keygens.handles, 1)
	m.mu.Unlock()
}

func TestCloseRejectsPendingCeremonies(t *testing.T) {
	ids := accounts(2)
	// party-02 is not running, so the ceremony can only end by closing.
	c := newCluster(t, scheme.EVM, ids[:1])
	m := c.managers[ids[0]]

	p := m.StartKeygen(KeygenRequest{CeremonyID: 1, Participants: ids})
	m.Close()
	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = m.StartKeygen(KeygenRequest{CeremonyID: 2, Participants: ids}).Await(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
