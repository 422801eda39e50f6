package ceremony

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/wire"
)

// DataToSend is a stage's outgoing data: one message for everybody, or a
// distinct message per recipient.
type DataToSend[M any] struct {
	broadcast optional.Option[M]
	private   map[AuthorityIndex]M
}

// Broadcast sends m to every participant.
func Broadcast[M any](m M) DataToSend[M] {
	return DataToSend[M]{broadcast: optional.Some(m)}
}

// Private sends msgs[idx] to idx. The map must include our own index
// when we are a participant of the stage.
func Private[M any](msgs map[AuthorityIndex]M) DataToSend[M] {
	return DataToSend[M]{private: msgs}
}

// Processor holds the logic of one broadcast round. BroadcastStage does
// the message collection around it.
type Processor[Out any, M Message] interface {
	Name() string
	Ordinal() int
	Init() DataToSend[M]
	// Process receives one slot per participant, None for parties that
	// sent nothing acceptable.
	Process(msgs map[AuthorityIndex]optional.Option[M]) StageResult[Out]
}

// Aborter is implemented by processors holding secrets that must be
// erased when the ceremony ends early.
type Aborter interface {
	Abort()
}

// BroadcastStage collects at most one message of type M from each
// participant, then hands the complete set to its processor.
type BroadcastStage[Out any, M Message] struct {
	common       *Common
	processor    Processor[Out, M]
	participants IndexSet
	messages     map[AuthorityIndex]M
	started      time.Time
}

// NewBroadcastStage returns a stage awaiting participants. Broadcast data
// is sent to every participant but us.
func NewBroadcastStage[Out any, M Message](p Processor[Out, M], common *Common, participants IndexSet) *BroadcastStage[Out, M] {
	return &BroadcastStage[Out, M]{
		common:       common,
		processor:    p,
		participants: participants,
		messages:     make(map[AuthorityIndex]M, len(participants)),
	}
}

func (s *BroadcastStage[Out, M]) String() string {
	return fmt.Sprintf("BroadcastStage(%s)", s.processor.Name())
}

func (s *BroadcastStage[Out, M]) Name() string { return s.processor.Name() }

func (s *BroadcastStage[Out, M]) Ordinal() int { return s.processor.Ordinal() }

func (s *BroadcastStage[Out, M]) Common() *Common { return s.common }

func (s *BroadcastStage[Out, M]) Init() ProcessResult {
	s.started = time.Now()
	c := s.common
	data := s.processor.Init()

	if data.broadcast.IsSome() {
		own := data.broadcast.Unwrap()
		var recipients []AccountID
		for _, idx := range s.participants.Sorted() {
			if idx != c.OwnIdx {
				recipients = append(recipients, c.AccountID(idx))
			}
		}
		if len(recipients) > 0 {
			c.Outgoing.SendBroadcast(c.serialize(own), recipients)
		}
		return s.recordOwn(own)
	}

	out := make(map[AccountID]wire.VersionedMessage, len(data.private))
	for _, idx := range SortedKeys(data.private) {
		if idx != c.OwnIdx {
			out[c.AccountID(idx)] = c.serialize(data.private[idx])
		}
	}
	if len(out) > 0 {
		c.Outgoing.SendPrivate(out)
	}
	own, ok := data.private[c.OwnIdx]
	if !ok {
		if s.participants.Contains(c.OwnIdx) {
			panic(fmt.Sprintf("ceremony: %s: private data must include a message to self", s.Name()))
		}
		return s.readiness()
	}
	return s.recordOwn(own)
}

func (s *BroadcastStage[Out, M]) recordOwn(own M) ProcessResult {
	if !s.participants.Contains(s.common.OwnIdx) {
		return s.readiness()
	}
	return s.ProcessMessage(s.common.OwnIdx, own)
}

func (s *BroadcastStage[Out, M]) ProcessMessage(sender AuthorityIndex, msg Message) ProcessResult {
	c := s.common
	c.Metrics.ProcessedMessage()

	m, ok := msg.(M)
	if !ok {
		s.reject(sender, "incorrect_type", zap.Stringer("message", msg))
		return NotReady
	}
	if !s.participants.Contains(sender) {
		s.reject(sender, "message_from_non_participant")
		return NotReady
	}
	if _, dup := s.messages[sender]; dup {
		s.reject(sender, "redundant_message")
		return NotReady
	}
	s.messages[sender] = m
	return s.readiness()
}

func (s *BroadcastStage[Out, M]) reject(sender AuthorityIndex, reason string, fields ...zap.Field) {
	c := s.common
	c.Metrics.BadMessage(fmt.Sprintf("%s (%s)", reason, s.Name()))
	if c.Logger != nil {
		c.Logger.Debug("ignoring message",
			append(fields,
				zap.Uint32("sender", sender),
				zap.String("stage", s.Name()),
				zap.String("reason", reason),
			)...)
	}
}

func (s *BroadcastStage[Out, M]) readiness() ProcessResult {
	if len(s.messages) == s.participants.Len() {
		return Ready
	}
	return NotReady
}

func (s *BroadcastStage[Out, M]) Finalize() StageResult[Out] {
	c := s.common
	msgs := make(map[AuthorityIndex]optional.Option[M], s.participants.Len())
	missing := 0
	for idx := range s.participants {
		if m, ok := s.messages[idx]; ok {
			msgs[idx] = optional.Some(m)
		} else {
			msgs[idx] = optional.None[M]()
			missing++
		}
	}
	s.messages = nil
	c.Metrics.MissingMessages(s.Name(), missing)

	result := s.processor.Process(msgs)
	if !s.started.IsZero() {
		c.Metrics.ObserveStageDuration(s.Name(), time.Since(s.started))
	}
	return result
}

func (s *BroadcastStage[Out, M]) AwaitedParties() []AuthorityIndex {
	var awaited []AuthorityIndex
	for _, idx := range s.participants.Sorted() {
		if _, ok := s.messages[idx]; !ok {
			awaited = append(awaited, idx)
		}
	}
	return awaited
}

func (s *BroadcastStage[Out, M]) Abort() {
	if a, ok := s.processor.(Aborter); ok {
		a.Abort()
	}
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[AuthorityIndex]V) []AuthorityIndex {
	out := make([]AuthorityIndex, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return NewIndexSet(out...).Sorted()
}
