package keygen

import (
	"fmt"

	"github.com/f3rmion/multisig/ceremony"
)

// StageName identifies a keygen stage. Its value is the stage number.
type StageName int

const (
	StagePubkeyShares0 StageName = iota
	StageHashCommitments1
	StageVerifyHashCommitmentsBroadcast2
	StageCoefficientCommitments3
	StageVerifyCommitmentsBroadcast4
	StageSecretShares5
	StageComplaints6
	StageVerifyComplaintsBroadcast7
	StageBlameResponses8
	StageVerifyBlameResponsesBroadcast9
)

var stageNames = [...]string{
	"PubkeyShares0",
	"HashCommitments1",
	"VerifyHashCommitmentsBroadcast2",
	"CoefficientCommitments3",
	"VerifyCommitmentsBroadcast4",
	"SecretShares5",
	"Complaints6",
	"VerifyComplaintsBroadcast7",
	"BlameResponses8",
	"VerifyBlameResponsesBroadcast9",
}

func (s StageName) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("KeygenStage(%d)", int(s))
	}
	return stageNames[s]
}

// FailureReason is why a keygen or handover ceremony failed.
type FailureReason int

const (
	InvalidParticipants FailureReason = iota
	NotParticipatingInUnauthorisedCeremony
	// InvalidCommitment: a coefficient commitment does not match its hash
	// commitment, its proof or the expected public key share.
	InvalidCommitment
	InvalidComplaint
	InvalidBlameResponse
)

func (r FailureReason) String() string {
	switch r {
	case InvalidParticipants:
		return "InvalidParticipants"
	case NotParticipatingInUnauthorisedCeremony:
		return "NotParticipatingInUnauthorisedCeremony"
	case InvalidCommitment:
		return "InvalidCommitment"
	case InvalidComplaint:
		return "InvalidComplaint"
	case InvalidBlameResponse:
		return "InvalidBlameResponse"
	}
	return fmt.Sprintf("KeygenFailureReason(%d)", int(r))
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
