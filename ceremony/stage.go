package ceremony

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/f3rmion/multisig/metrics"
	"github.com/f3rmion/multisig/wire"
)

// Message is a stage message of some ceremony kind.
type Message interface {
	wire.Payload
	fmt.Stringer
	// StageOrdinal is the number of the stage that consumes the message.
	StageOrdinal() int
	// InitialStage reports whether the message may arrive before the
	// local node has been asked to join the ceremony.
	InitialStage() bool
	// SizeValid checks collection sizes against the ceremony's party and
	// payload counts before the message is processed.
	SizeValid(numParties, numPayloads int) bool
}

// Sink delivers serialized stage messages to other participants.
type Sink interface {
	SendBroadcast(msg wire.VersionedMessage, recipients []AccountID)
	SendPrivate(msgs map[AccountID]wire.VersionedMessage)
}

// Common is the per-ceremony context shared by all of its stages.
type Common struct {
	CeremonyID uint64
	OwnIdx     AuthorityIndex
	// AllIdxs are the ceremony's participants.
	AllIdxs IndexSet
	Mapping *PartyIdxMapping
	// Rng is owned by this ceremony alone.
	Rng      io.Reader
	Outgoing Sink
	Version  wire.Version
	// NumPayloads is the number of payloads a signing ceremony signs.
	NumPayloads int
	Logger      *zap.Logger
	Metrics     *metrics.CeremonyMetrics
}

// AccountID resolves idx, panicking on an index outside the mapping.
func (c *Common) AccountID(idx AuthorityIndex) AccountID {
	id, ok := c.Mapping.AccountID(idx)
	if !ok {
		panic(fmt.Sprintf("ceremony: index %d not in mapping", idx))
	}
	return id
}

func (c *Common) serialize(m Message) wire.VersionedMessage {
	return wire.Serialize(c.Version, wire.Message{CeremonyID: c.CeremonyID, Data: m})
}

// ProcessResult tells the runner whether a stage can be finalized.
type ProcessResult int

const (
	NotReady ProcessResult = iota
	Ready
)

// Stage is one round of a ceremony.
type Stage[Out any] interface {
	// Init sends this stage's data and records our own message.
	Init() ProcessResult
	ProcessMessage(sender AuthorityIndex, m Message) ProcessResult
	// Finalize consumes the stage. Missing messages are treated as absent.
	Finalize() StageResult[Out]
	// AwaitedParties lists the participants we have not heard from.
	AwaitedParties() []AuthorityIndex
	Name() string
	// Ordinal is the StageOrdinal of the messages this stage consumes.
	Ordinal() int
	Common() *Common
	// Abort releases secrets held by a stage that will never finalize.
	Abort()
}

// FailureReason is a typed, loggable cause of a failed ceremony.
type FailureReason interface {
	fmt.Stringer
}

// Failure is a terminal stage error with the parties held responsible.
type Failure struct {
	Offenders []AuthorityIndex
	Reason    FailureReason
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (offenders %v)", f.Reason, f.Offenders)
}

// StageResult is what Finalize returns: the next stage, the ceremony
// output, or a failure.
type StageResult[Out any] struct {
	next    Stage[Out]
	out     Out
	failure *Failure
}

// NextStage continues the ceremony with s.
func NextStage[Out any](s Stage[Out]) StageResult[Out] {
	return StageResult[Out]{next: s}
}

// Done ends the ceremony with out.
func Done[Out any](out Out) StageResult[Out] {
	return StageResult[Out]{out: out}
}

// Fail ends the ceremony, blaming offenders.
func Fail[Out any](offenders IndexSet, reason FailureReason) StageResult[Out] {
	return StageResult[Out]{failure: &Failure{Offenders: offenders.Sorted(), Reason: reason}}
}

// Next returns the next stage, if any.
func (r StageResult[Out]) Next() (Stage[Out], bool) {
	return r.next, r.next != nil
}

// Output returns the ceremony output if the ceremony is done.
func (r StageResult[Out]) Output() (Out, bool) {
	return r.out, r.next == nil && r.failure == nil
}

// Failure returns the failure, or nil.
func (r StageResult[Out]) Failure() *Failure {
	return r.failure
}

// BroadcastFailureReason covers failures detected by the consistency
// rounds.
type BroadcastFailureReason int

const (
	// Inconsistency: a sender broadcast different values to different
	// parties.
	Inconsistency BroadcastFailureReason = iota
	// InsufficientMessages: too few parties sent the stage's data.
	InsufficientMessages
	// InsufficientVerificationMessages: fewer reports than a quorum
	// arrived in a verification round.
	InsufficientVerificationMessages
)

func (r BroadcastFailureReason) String() string {
	switch r {
	case Inconsistency:
		return "Inconsistency"
	case InsufficientMessages:
		return "InsufficientMessages"
	case InsufficientVerificationMessages:
		return "InsufficientVerificationMessages"
	}
	return fmt.Sprintf("BroadcastFailureReason(%d)", int(r))
}
