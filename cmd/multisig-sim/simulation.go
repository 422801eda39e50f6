package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/chebyrash/promise"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/config"
	"github.com/f3rmion/multisig/genesis"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/keystore"
	"github.com/f3rmion/multisig/manager"
	"github.com/f3rmion/multisig/metrics"
	"github.com/f3rmion/multisig/scheme"
	"github.com/f3rmion/multisig/transport"
)

type node struct {
	manager *manager.Manager
	keys    *keystore.Store
	inbox   <-chan transport.Envelope
}

// simulation is a set of nodes on one in-memory network. The last node is
// not part of the first authority set and only joins at the handover.
type simulation struct {
	scheme  scheme.Scheme
	logger  *zap.Logger
	net     *transport.Network
	ids     []ceremony.AccountID
	nodes   map[ceremony.AccountID]*node
	initial []ceremony.AccountID
	latest  uint64
}

func newSimulation(s scheme.Scheme, settings config.Settings, n int, m *metrics.Metrics, logger *zap.Logger) (*simulation, error) {
	sim := &simulation{
		scheme: s,
		logger: logger,
		net:    transport.NewNetwork(0, logger),
		nodes:  make(map[ceremony.AccountID]*node, n+1),
	}
	for i := 1; i <= n+1; i++ {
		sim.ids = append(sim.ids, ceremony.AccountID(fmt.Sprintf("node-%02d", i)))
	}
	sim.initial = sim.ids[:n]

	for _, id := range sim.ids {
		keys, err := keystore.OpenFlatfs(filepath.Join(settings.KeystorePath, string(id)), logger)
		if err != nil {
			sim.close()
			return nil, err
		}
		mgr, err := manager.New(manager.Options{
			AccountID:        id,
			Scheme:           s,
			Outgoing:         sim.net.Sink(id),
			Keystore:         keys,
			Logger:           logger,
			Metrics:          m,
			MaxStageDuration: settings.StageDuration(),
			CeremonyIDWindow: settings.CeremonyIDWindow,
		})
		if err != nil {
			keys.Close()
			sim.close()
			return nil, err
		}
		inbox, err := sim.net.Join(id)
		if err != nil {
			keys.Close()
			sim.close()
			return nil, err
		}
		sim.nodes[id] = &node{manager: mgr, keys: keys, inbox: inbox}
	}
	return sim, nil
}

func (s *simulation) start(ctx context.Context, g *errgroup.Group) {
	for _, n := range s.nodes {
		g.Go(func() error {
			return n.manager.Run(ctx, n.inbox)
		})
	}
}

func (s *simulation) close() {
	var err error
	for id, n := range s.nodes {
		n.manager.Close()
		s.net.Leave(id)
		err = multierr.Append(err, n.keys.Close())
	}
	if err != nil {
		s.logger.Warn("closing keystores", zap.Error(err))
	}
}

// next issues the next ceremony id and moves every node outside
// participants past it.
func (s *simulation) next(participants []ceremony.AccountID) (uint64, error) {
	s.latest++
	for _, id := range s.ids {
		if slices.Contains(participants, id) {
			continue
		}
		if err := s.nodes[id].manager.UpdateLatestCeremonyID(s.latest); err != nil {
			return 0, err
		}
	}
	return s.latest, nil
}

// script runs keygen (or a genesis deal), a signing, a handover to a set
// that includes the new node and a signing with the handed over key.
func (s *simulation) script(ctx context.Context, useGenesis bool) error {
	var (
		key keystore.KeyID
		y   group.Point
		err error
	)
	if useGenesis {
		key, y, err = s.deal(ctx)
	} else {
		key, y, err = s.keygen(ctx)
	}
	if err != nil {
		return err
	}
	s.logger.Info("key ready", zap.Stringer("key_id", key))

	signers := s.initial[:ceremony.DefaultThreshold(len(s.initial))]
	if err := s.sign(ctx, key, y, signers, "first epoch"); err != nil {
		return err
	}

	receiving := append(slices.Clone(s.initial[1:]), s.ids[len(s.ids)-1])
	handed, err := s.handover(ctx, key, signers, receiving)
	if err != nil {
		return err
	}
	s.logger.Info("key handed over", zap.Stringer("key_id", handed), zap.Int("holders", len(receiving)))

	return s.sign(ctx, handed, y, receiving[:ceremony.DefaultThreshold(len(receiving))], "second epoch")
}

func (s *simulation) deal(ctx context.Context) (keystore.KeyID, group.Point, error) {
	y, infos, err := genesis.GenerateKeyData(s.scheme, s.initial, rand.Reader)
	if err != nil {
		return keystore.KeyID{}, nil, err
	}
	key := keystore.NewKeyID(1, y)
	for id, info := range infos {
		if err := s.nodes[id].keys.SaveKey(ctx, key, info); err != nil {
			return keystore.KeyID{}, nil, err
		}
	}
	return key, y, nil
}

func (s *simulation) keygen(ctx context.Context) (keystore.KeyID, group.Point, error) {
	id, err := s.next(s.initial)
	if err != nil {
		return keystore.KeyID{}, nil, err
	}
	req := manager.KeygenRequest{CeremonyID: id, Participants: s.initial, Epoch: 1}
	promises := make(map[ceremony.AccountID]*promise.Promise[manager.KeygenOutput], len(s.initial))
	for _, account := range s.initial {
		promises[account] = s.nodes[account].manager.StartKeygen(req)
	}
	outs, err := await(ctx, promises)
	if err != nil {
		return keystore.KeyID{}, nil, err
	}
	out := outs[s.initial[0]]
	return out.KeyID, out.PublicKey, nil
}

func (s *simulation) handover(ctx context.Context, key keystore.KeyID, sharing, receiving []ceremony.AccountID) (keystore.KeyID, error) {
	participants := append(slices.Clone(sharing), receiving...)
	id, err := s.next(participants)
	if err != nil {
		return keystore.KeyID{}, err
	}
	req := manager.HandoverRequest{
		CeremonyID: id,
		KeyID:      key,
		Sharing:    sharing,
		Receiving:  receiving,
		Epoch:      key.EpochIndex + 1,
	}
	promises := make(map[ceremony.AccountID]*promise.Promise[manager.KeygenOutput])
	for _, account := range participants {
		if _, ok := promises[account]; !ok {
			promises[account] = s.nodes[account].manager.StartHandover(req)
		}
	}
	outs, err := await(ctx, promises)
	if err != nil {
		return keystore.KeyID{}, err
	}
	return outs[receiving[0]].KeyID, nil
}

func (s *simulation) sign(ctx context.Context, key keystore.KeyID, y group.Point, signers []ceremony.AccountID, label string) error {
	id, err := s.next(signers)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(fmt.Sprintf("multisig-sim %s", label)))
	req := manager.SigningRequest{
		CeremonyID: id,
		Signers:    signers,
		Payloads:   []manager.Payload{{KeyID: key, Payload: digest[:]}},
	}
	promises := make(map[ceremony.AccountID]*promise.Promise[manager.SigningOutput], len(signers))
	for _, account := range signers {
		promises[account] = s.nodes[account].manager.StartSigning(req)
	}
	outs, err := await(ctx, promises)
	if err != nil {
		return err
	}
	for account, out := range outs {
		if err := s.scheme.Verify(y, digest[:], out.Signatures[0]); err != nil {
			return fmt.Errorf("signature from %s: %w", account, err)
		}
	}
	s.logger.Info("payload signed", zap.String("label", label), zap.Int("signers", len(signers)))
	return nil
}

// await waits for every node's outcome and fails on the first failure.
func await[T any](ctx context.Context, promises map[ceremony.AccountID]*promise.Promise[T]) (map[ceremony.AccountID]T, error) {
	type item struct {
		id  ceremony.AccountID
		val *T
	}
	var g errgroup.Group
	ch := make(chan item, len(promises))
	for id, p := range promises {
		g.Go(func() error {
			v, err := p.Await(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			ch <- item{id: id, val: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(ch)
	out := make(map[ceremony.AccountID]T, len(promises))
	for it := range ch {
		out[it.id] = *it.val
	}
	return out, nil
}
