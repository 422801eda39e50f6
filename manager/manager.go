package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/chebyrash/promise"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/keygen"
	"github.com/f3rmion/multisig/keystore"
	"github.com/f3rmion/multisig/logging"
	"github.com/f3rmion/multisig/metrics"
	"github.com/f3rmion/multisig/scheme"
	"github.com/f3rmion/multisig/signing"
	"github.com/f3rmion/multisig/transport"
	"github.com/f3rmion/multisig/wire"
)

const (
	keygenLabel  = "keygen"
	signingLabel = "signing"

	DefaultMaxStageDuration = 30 * time.Second
	DefaultCeremonyIDWindow = 6000
)

// Options configures a Manager. AccountID, Scheme and Outgoing are
// required.
type Options struct {
	AccountID ceremony.AccountID
	Scheme    scheme.Scheme
	Outgoing  ceremony.Sink
	// Keystore receives generated keys and provides keys for signing and
	// handover.
	Keystore *keystore.Store
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	MaxStageDuration time.Duration
	CeremonyIDWindow uint64
	// LatestCeremonyID is the last ceremony id issued before this manager
	// started. The next request must use the id after it.
	LatestCeremonyID uint64
}

// Manager runs the keygen, handover and signing ceremonies of one account.
// Every ceremony runs on its own goroutine; the manager routes incoming
// messages to it by ceremony id.
type Manager struct {
	id       ceremony.AccountID
	scheme   scheme.Scheme
	outgoing ceremony.Sink
	keys     *keystore.Store
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.ManagerMetrics
	maxStage time.Duration
	window   uint64
	decoders wire.Decoders
	newRand  func() (io.Reader, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	latest   uint64
	keygens  *ceremonyStates[*keygen.Outcome]
	signings *ceremonyStates[*signing.Outcome]
}

type ceremonyStates[Out any] struct {
	label   string
	handles map[uint64]*handle[Out]
}

func newCeremonyStates[Out any](label string) *ceremonyStates[Out] {
	return &ceremonyStates[Out]{label: label, handles: make(map[uint64]*handle[Out])}
}

func (s *ceremonyStates[Out]) counts() (authorised, unauthorised int) {
	for _, h := range s.handles {
		if h.authorised {
			authorised++
		} else {
			unauthorised++
		}
	}
	return authorised, unauthorised
}

// cleanupUnauthorised stops the unauthorised ceremony with id, if any.
func (s *ceremonyStates[Out]) cleanupUnauthorised(id uint64) bool {
	h, ok := s.handles[id]
	if !ok || h.authorised {
		return false
	}
	h.cancel()
	delete(s.handles, id)
	return true
}

func New(opts Options) (*Manager, error) {
	if opts.AccountID == "" || opts.Scheme == nil || opts.Outgoing == nil {
		return nil, errors.New("manager: account id, scheme and outgoing sink are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxStageDuration <= 0 {
		opts.MaxStageDuration = DefaultMaxStageDuration
	}
	if opts.CeremonyIDWindow == 0 {
		opts.CeremonyIDWindow = DefaultCeremonyIDWindow
	}
	g := opts.Scheme.Group()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		id:       opts.AccountID,
		scheme:   opts.Scheme,
		outgoing: opts.Outgoing,
		keys:     opts.Keystore,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("account", string(opts.AccountID)), zap.String("chain", string(opts.Scheme.ID()))),
		metrics:  opts.Metrics.ForManager(string(opts.Scheme.ID())),
		maxStage: opts.MaxStageDuration,
		window:   opts.CeremonyIDWindow,
		decoders: wire.Decoders{
			wire.KindKeygen:  keygen.Decoder(g),
			wire.KindSigning: signing.Decoder(g),
		},
		newRand:  newCeremonyRand,
		ctx:      ctx,
		cancel:   cancel,
		latest:   opts.LatestCeremonyID,
		keygens:  newCeremonyStates[*keygen.Outcome](keygenLabel),
		signings: newCeremonyStates[*signing.Outcome](signingLabel),
	}, nil
}

// Run feeds messages from inbox to their ceremonies until ctx is done or
// inbox is closed.
func (m *Manager) Run(ctx context.Context, inbox <-chan transport.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			m.HandleMessage(env.From, env.Message)
		}
	}
}

// Close stops every running ceremony. Pending outcomes are rejected with
// ErrClosed.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// LatestCeremonyID returns the last ceremony id seen in a request.
func (m *Manager) LatestCeremonyID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// UpdateLatestCeremonyID records a ceremony this node does not take part
// in. Messages that already arrived for it are discarded.
func (m *Manager) UpdateLatestCeremonyID(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.advance(id); err != nil {
		return err
	}
	m.discardUnauthorised(id, "")
	return nil
}

// discardUnauthorised drops the unauthorised ceremonies with id of every
// kind other than keep. mu must be held.
func (m *Manager) discardUnauthorised(id uint64, keep string) {
	if keep != signingLabel && m.signings.cleanupUnauthorised(id) {
		m.logger.Warn("discarding ceremony", zap.Uint64("ceremony_id", id), zap.Stringer("reason", signing.NotParticipatingInUnauthorisedCeremony))
		updateCounts(m, m.signings)
	}
	if keep != keygenLabel && m.keygens.cleanupUnauthorised(id) {
		m.logger.Warn("discarding ceremony", zap.Uint64("ceremony_id", id), zap.Stringer("reason", keygen.NotParticipatingInUnauthorisedCeremony))
		updateCounts(m, m.keygens)
	}
}

// advance must be called with mu held.
func (m *Manager) advance(id uint64) error {
	if id != m.latest+1 {
		return fmt.Errorf("%w: got %d after %d", ErrUnexpectedCeremonyID, id, m.latest)
	}
	m.latest = id
	return nil
}

// HandleMessage routes a message from another party to its ceremony,
// creating an unauthorised ceremony for an id that has not been
// requested yet.
func (m *Manager) HandleMessage(from ceremony.AccountID, vm wire.VersionedMessage) {
	decoded, err := wire.Deserialize(vm, m.decoders)
	if err != nil {
		reason := "deserialize"
		if errors.Is(err, wire.ErrUnsupportedVersion) {
			reason = "unsupported_version"
		}
		m.metrics.BadMessage(reason)
		m.logger.Warn("failed to deserialize message", zap.String("from", string(from)), zap.Error(err))
		return
	}
	msg, ok := decoded.Data.(ceremony.Message)
	if !ok {
		m.metrics.BadMessage("deserialize")
		return
	}
	switch msg.Kind() {
	case wire.KindKeygen:
		dispatch(m, m.keygens, from, decoded.CeremonyID, msg)
	case wire.KindSigning:
		dispatch(m, m.signings, from, decoded.CeremonyID, msg)
	}
}

func dispatch[Out any](m *Manager, states *ceremonyStates[Out], from ceremony.AccountID, id uint64, msg ceremony.Message) {
	m.mu.Lock()
	h, ok := states.handles[id]
	if !ok {
		switch {
		case id > m.latest+m.window:
			m.mu.Unlock()
			m.metrics.BadMessage("unexpected_future_ceremony_id")
			m.logger.Warn("ignoring data: unexpected future ceremony id", zap.String("ceremony_id", logging.CeremonyID(string(m.scheme.ID()), id)))
			return
		case id <= m.latest:
			m.mu.Unlock()
			m.metrics.BadMessage("old_ceremony_id")
			m.logger.Debug("ignoring data: old ceremony id", zap.String("ceremony_id", logging.CeremonyID(string(m.scheme.ID()), id)))
			return
		}
		h = spawn(m, states, id)
		updateCounts(m, states)
	}
	m.mu.Unlock()

	if !h.send(incoming{from: from, msg: msg}) {
		m.logger.Debug("ignoring data: ceremony already finished", zap.Uint64("ceremony_id", id))
	}
}

// spawn starts an unauthorised ceremony. mu must be held.
func spawn[Out any](m *Manager, states *ceremonyStates[Out], id uint64) *handle[Out] {
	ctx, cancel := context.WithCancel(m.ctx)
	h := newHandle[Out]()
	h.cancel = cancel
	states.handles[id] = h

	r := &runner[Out]{
		ceremonyID: id,
		clock:      m.clock,
		maxStage:   m.maxStage,
		logger:     logging.ForCeremony(m.logger, string(m.scheme.ID()), states.label, id),
		metrics:    m.metrics.ForCeremony(states.label),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		r.run(ctx, h)

		m.mu.Lock()
		defer m.mu.Unlock()
		if states.handles[id] == h {
			delete(states.handles, id)
			updateCounts(m, states)
		}
	}()
	return h
}

func updateCounts[Out any](m *Manager, states *ceremonyStates[Out]) {
	a, u := states.counts()
	m.metrics.SetCeremonyCounts(states.label, a, u)
}

// start authorises ceremony id with the stage built by prepare and
// returns its eventual outcome, converted by finish.
func start[Out, R any](m *Manager, states *ceremonyStates[Out], id uint64, prepare func(rng io.Reader) (ceremony.Stage[Out], error), finish func(Out) (R, error)) *promise.Promise[R] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return rejected[R](ErrClosed)
	}
	// The latest id moves on even when the request turns out invalid.
	if err := m.advance(id); err != nil {
		return rejected[R](err)
	}
	// Early messages of the other kind under this id can never be authorised.
	m.discardUnauthorised(id, states.label)
	rng, err := m.newRand()
	var stage ceremony.Stage[Out]
	if err == nil {
		stage, err = prepare(rng)
	}
	if err != nil {
		if states.cleanupUnauthorised(id) {
			updateCounts(m, states)
		}
		m.logger.Warn("invalid ceremony request", zap.Uint64("ceremony_id", id), zap.String("ceremony_type", states.label), zap.Error(err))
		return rejected[R](err)
	}

	h, ok := states.handles[id]
	if !ok {
		h = spawn(m, states, id)
	}
	h.authorised = true
	h.request <- stage
	updateCounts(m, states)

	return promise.New(func(resolve func(R), reject func(error)) {
		res := h.wait()
		if res.err != nil {
			reject(res.err)
			return
		}
		out, err := finish(res.out)
		if err != nil {
			reject(err)
			return
		}
		resolve(out)
	})
}

func rejected[R any](err error) *promise.Promise[R] {
	return promise.New(func(_ func(R), reject func(error)) {
		reject(err)
	})
}

// common builds the context of a ceremony between participants under
// mapping.
func (m *Manager) common(id uint64, label string, mapping *ceremony.PartyIdxMapping, participants []ceremony.AccountID, rng io.Reader) (*ceremony.Common, error) {
	own, ok := mapping.IdxOf(m.id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ceremony.ErrUnknownParticipant, m.id)
	}
	all, err := mapping.IndexesOf(participants)
	if err != nil {
		return nil, err
	}
	if !all.Contains(own) {
		return nil, fmt.Errorf("%w: %s is not a participant", ceremony.ErrUnknownParticipant, m.id)
	}
	return &ceremony.Common{
		CeremonyID: id,
		OwnIdx:     own,
		AllIdxs:    all,
		Mapping:    mapping,
		Rng:        rng,
		Outgoing:   m.outgoing,
		Version:    wire.CurrentVersion,
		Logger:     logging.ForCeremony(m.logger, string(m.scheme.ID()), label, id),
		Metrics:    m.metrics.ForCeremony(label),
	}, nil
}
