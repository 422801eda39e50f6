package signing

import (
	"fmt"

	"github.com/f3rmion/multisig/ceremony"
)

// StageName identifies a signing stage.
type StageName int

const (
	StageAwaitCommitments1 StageName = iota + 1
	StageVerifyCommitmentsBroadcast2
	StageLocalSig3
	StageVerifyLocalSigsBroadcast4
)

func (s StageName) String() string {
	switch s {
	case StageAwaitCommitments1:
		return "AwaitCommitments1"
	case StageVerifyCommitmentsBroadcast2:
		return "VerifyCommitmentsBroadcast2"
	case StageLocalSig3:
		return "LocalSigStage3"
	case StageVerifyLocalSigsBroadcast4:
		return "VerifyLocalSigsBroadcastStage4"
	}
	return fmt.Sprintf("SigningStage(%d)", int(s))
}

// FailureReason is why a signing ceremony failed.
type FailureReason int

const (
	// NotEnoughSigners: fewer signers than the key's threshold, either in
	// the request or after absent signers were dropped.
	NotEnoughSigners FailureReason = iota
	InvalidSigShare
	InvalidNumberOfPayloads
	UnknownKey
	InvalidParticipants
	NotParticipatingInUnauthorisedCeremony
)

func (r FailureReason) String() string {
	switch r {
	case NotEnoughSigners:
		return "NotEnoughSigners"
	case InvalidSigShare:
		return "InvalidSigShare"
	case InvalidNumberOfPayloads:
		return "InvalidNumberOfPayloads"
	case UnknownKey:
		return "UnknownKey"
	case InvalidParticipants:
		return "InvalidParticipants"
	case NotParticipatingInUnauthorisedCeremony:
		return "NotParticipatingInUnauthorisedCeremony"
	}
	return fmt.Sprintf("SigningFailureReason(%d)", int(r))
}

// BroadcastFailure is a broadcast consistency or liveness failure at a
// given stage.
type BroadcastFailure struct {
	Reason ceremony.BroadcastFailureReason
	Stage  StageName
}

func (f BroadcastFailure) String() string {
	return fmt.Sprintf("BroadcastFailure(%s, %s)", f.Reason, f.Stage)
}
