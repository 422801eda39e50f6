// Package transport connects ceremony nodes running in one process.
//
// Messages are addressed by account id only. Every node owns a buffered
// inbox; a message that does not fit is dropped and logged, which the
// receiving ceremony sees as an absent party.
package transport

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/wire"
)

const defaultInboxSize = 4096

var ErrAlreadyJoined = errors.New("transport: account already joined")

// Envelope is a message as delivered to its recipient.
type Envelope struct {
	From    ceremony.AccountID
	Message wire.VersionedMessage
}

// Filter decides whether a message is delivered. It is used to simulate
// silent or partitioned nodes.
type Filter func(from, to ceremony.AccountID, msg wire.VersionedMessage) bool

// Network is an in-memory message bus between accounts.
type Network struct {
	mu      sync.RWMutex
	inboxes map[ceremony.AccountID]chan Envelope
	size    int
	filter  Filter
	logger  *zap.Logger
}

// NewNetwork returns a network whose inboxes hold size messages. A
// non-positive size selects the default.
func NewNetwork(size int, logger *zap.Logger) *Network {
	if size <= 0 {
		size = defaultInboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Network{
		inboxes: make(map[ceremony.AccountID]chan Envelope),
		size:    size,
		logger:  logger,
	}
}

// Join registers id and returns its inbox.
func (n *Network) Join(id ceremony.AccountID) (<-chan Envelope, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.inboxes[id]; ok {
		return nil, ErrAlreadyJoined
	}
	ch := make(chan Envelope, n.size)
	n.inboxes[id] = ch
	return ch, nil
}

// Leave closes id's inbox. Later messages to id are dropped.
func (n *Network) Leave(id ceremony.AccountID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.inboxes[id]; ok {
		close(ch)
		delete(n.inboxes, id)
	}
}

// SetFilter installs f, or removes the filter if f is nil.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// Sink returns the sending side of from.
func (n *Network) Sink(from ceremony.AccountID) ceremony.Sink {
	return &sink{net: n, from: from}
}

func (n *Network) deliver(from, to ceremony.AccountID, msg wire.VersionedMessage) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.filter != nil && !n.filter(from, to, msg) {
		return
	}
	ch, ok := n.inboxes[to]
	if !ok {
		n.logger.Debug("dropping message to unknown account", zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	select {
	case ch <- Envelope{From: from, Message: msg}:
	default:
		n.logger.Warn("inbox full, dropping message", zap.String("from", string(from)), zap.String("to", string(to)))
	}
}

type sink struct {
	net  *Network
	from ceremony.AccountID
}

func (s *sink) SendBroadcast(msg wire.VersionedMessage, recipients []ceremony.AccountID) {
	for _, to := range recipients {
		s.net.deliver(s.from, to, msg)
	}
}

func (s *sink) SendPrivate(msgs map[ceremony.AccountID]wire.VersionedMessage) {
	for to, msg := range msgs {
		s.net.deliver(s.from, to, msg)
	}
}
