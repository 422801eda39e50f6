package manager

import (
	"errors"
	"fmt"

	"github.com/f3rmion/multisig/ceremony"
)

var (
	ErrClosed               = errors.New("manager: closed")
	ErrUnexpectedCeremonyID = errors.New("manager: ceremony id out of sequence")
	ErrKeyParametersDiffer  = errors.New("manager: keys were issued to different parties")
)

// CeremonyFailure is how a failed ceremony reaches the caller. Offenders
// is empty when the request itself was rejected.
type CeremonyFailure struct {
	CeremonyID uint64
	Offenders  []ceremony.AccountID
	Reason     ceremony.FailureReason
}

func (f *CeremonyFailure) Error() string {
	if len(f.Offenders) == 0 {
		return fmt.Sprintf("ceremony %d failed: %s", f.CeremonyID, f.Reason)
	}
	return fmt.Sprintf("ceremony %d failed: %s (offenders %v)", f.CeremonyID, f.Reason, f.Offenders)
}
