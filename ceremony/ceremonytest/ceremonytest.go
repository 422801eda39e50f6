// Package ceremonytest runs ceremonies between several in-process nodes
// in lockstep, for tests. Every round delivers all queued messages and
// then finalizes every node's stage, as if each stage deadline expired
// right after delivery.
package ceremonytest

import (
	"crypto/rand"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/wire"
)

// maxRounds guards against a ceremony that never terminates.
const maxRounds = 64

type envelope struct {
	from, to ceremony.AccountID
	msg      wire.VersionedMessage
}

// Network queues messages between nodes until the next round.
type Network struct {
	queue []envelope
}

// Sink returns the outgoing side of from.
func (n *Network) Sink(from ceremony.AccountID) ceremony.Sink {
	return &sink{net: n, from: from}
}

type sink struct {
	net  *Network
	from ceremony.AccountID
}

func (s *sink) SendBroadcast(msg wire.VersionedMessage, recipients []ceremony.AccountID) {
	for _, to := range recipients {
		s.net.queue = append(s.net.queue, envelope{from: s.from, to: to, msg: msg})
	}
}

func (s *sink) SendPrivate(msgs map[ceremony.AccountID]wire.VersionedMessage) {
	ids := make([]ceremony.AccountID, 0, len(msgs))
	for id := range msgs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, to := range ids {
		s.net.queue = append(s.net.queue, envelope{from: s.from, to: to, msg: msgs[to]})
	}
}

// TamperFunc may rewrite a decoded message on its way from one node to
// another. Returning nil drops it.
type TamperFunc func(from, to ceremony.AccountID, m ceremony.Message) ceremony.Message

// Runner drives one ceremony across a set of nodes.
type Runner[Out any] struct {
	t        testing.TB
	Mapping  *ceremony.PartyIdxMapping
	Decoders wire.Decoders
	Net      *Network
	Tamper   TamperFunc

	nodes    map[ceremony.AccountID]*node[Out]
	order    []ceremony.AccountID
	Results  map[ceremony.AccountID]Out
	Failures map[ceremony.AccountID]*ceremony.Failure
}

type node[Out any] struct {
	stage   ceremony.Stage[Out]
	pending []pendingMsg
}

type pendingMsg struct {
	sender ceremony.AuthorityIndex
	msg    ceremony.Message
}

// NewRunner returns a runner for a ceremony between the parties of
// mapping. Nodes are added with AddNode; parties without a node stay
// silent.
func NewRunner[Out any](t testing.TB, mapping *ceremony.PartyIdxMapping, decoders wire.Decoders) *Runner[Out] {
	return &Runner[Out]{
		t:        t,
		Mapping:  mapping,
		Decoders: decoders,
		Net:      &Network{},
		nodes:    make(map[ceremony.AccountID]*node[Out]),
		Results:  make(map[ceremony.AccountID]Out),
		Failures: make(map[ceremony.AccountID]*ceremony.Failure),
	}
}

// Common builds the ceremony context of id on this runner's network.
func (r *Runner[Out]) Common(id ceremony.AccountID, ceremonyID uint64) *ceremony.Common {
	idx, ok := r.Mapping.IdxOf(id)
	require.True(r.t, ok, "unknown party %s", id)
	var logger *zap.Logger
	if tl, ok := r.t.(*testing.T); ok {
		logger = zaptest.NewLogger(tl, zaptest.Level(zap.WarnLevel)).With(zap.String("node", string(id)))
	} else {
		logger = zap.NewNop()
	}
	return &ceremony.Common{
		CeremonyID:  ceremonyID,
		OwnIdx:      idx,
		AllIdxs:     r.Mapping.AllIndexes(),
		Mapping:     r.Mapping,
		Rng:         rand.Reader,
		Outgoing:    r.Net.Sink(id),
		Version:     wire.CurrentVersion,
		NumPayloads: 1,
		Logger:      logger,
	}
}

// AddNode registers the first stage of id's ceremony.
func (r *Runner[Out]) AddNode(id ceremony.AccountID, first ceremony.Stage[Out]) {
	r.nodes[id] = &node[Out]{stage: first}
	r.order = append(r.order, id)
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
}

// Run executes the ceremony until every node is done or has failed.
func (r *Runner[Out]) Run() {
	r.t.Helper()
	for _, id := range r.order {
		r.nodes[id].stage.Init()
	}
	for round := 0; len(r.nodes) > 0; round++ {
		require.Less(r.t, round, maxRounds, "ceremony did not terminate")
		r.deliver()
		r.finalize()
	}
}

func (r *Runner[Out]) deliver() {
	queue := r.Net.queue
	r.Net.queue = nil
	for _, env := range queue {
		n, ok := r.nodes[env.to]
		if !ok {
			continue
		}
		decoded, err := wire.Deserialize(env.msg, r.Decoders)
		require.NoError(r.t, err)
		msg := decoded.Data.(ceremony.Message)
		if r.Tamper != nil {
			if msg = r.Tamper(env.from, env.to, msg); msg == nil {
				continue
			}
		}
		if c := n.stage.Common(); !msg.SizeValid(c.AllIdxs.Len(), c.NumPayloads) {
			continue
		}
		sender, _ := r.Mapping.IdxOf(env.from)
		switch msg.StageOrdinal() {
		case n.stage.Ordinal():
			n.stage.ProcessMessage(sender, msg)
		case n.stage.Ordinal() + 1:
			n.pending = append(n.pending, pendingMsg{sender: sender, msg: msg})
		}
	}
}

func (r *Runner[Out]) finalize() {
	for _, id := range r.order {
		n, ok := r.nodes[id]
		if !ok {
			continue
		}
		res := n.stage.Finalize()
		if f := res.Failure(); f != nil {
			r.Failures[id] = f
			delete(r.nodes, id)
			continue
		}
		if next, ok := res.Next(); ok {
			n.stage = next
			next.Init()
			pending := n.pending
			n.pending = nil
			for _, p := range pending {
				n.stage.ProcessMessage(p.sender, p.msg)
			}
			continue
		}
		out, _ := res.Output()
		r.Results[id] = out
		delete(r.nodes, id)
	}
}

// Parties returns n sorted account ids and their mapping.
func Parties(t testing.TB, n int) ([]ceremony.AccountID, *ceremony.PartyIdxMapping) {
	ids := make([]ceremony.AccountID, n)
	for i := range ids {
		ids[i] = ceremony.AccountID(fmt.Sprintf("party-%02d", i+1))
	}
	m, err := ceremony.NewPartyIdxMapping(ids)
	require.NoError(t, err)
	return ids, m
}

