// Package manager runs threshold ceremonies for one account.
//
// A Manager receives ceremony requests from its caller (StartKeygen,
// StartHandover, StartSigning) and stage messages from other parties
// (HandleMessage, or Run over a transport inbox). Each ceremony runs on its
// own goroutine, which owns the ceremony's current stage, its delayed
// messages and its deadline.
//
// Messages may arrive before the local request. Such a ceremony is
// unauthorised: it keeps one initial stage message per sender, drops
// everything else and never times out. When the request arrives the kept
// messages are replayed into the first stage.
//
// Ceremony ids are issued in sequence. Every request must carry the id
// after the latest one, and ceremonies this node does not take part in are
// skipped with UpdateLatestCeremonyID. Messages for ids at or below the
// latest, or too far above it, are dropped.
//
// Outcomes are returned as promises:
//
//	out, err := m.StartSigning(req).Await(ctx)
//	var failure *manager.CeremonyFailure
//	if errors.As(err, &failure) {
//		// failure.Offenders are to be reported
//	}
package manager
