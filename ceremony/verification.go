package ceremony

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/f3rmion/multisig/codec"
)

// Encodable values are compared by their encoding when reports are
// cross-checked.
type Encodable interface {
	EncodePayload(w *codec.Writer)
}

func encode[T Encodable](v T) []byte {
	w := codec.NewWriter()
	v.EncodePayload(w)
	return w.Bytes()
}

// Report is what one party says every sender broadcast in the previous
// round. A missing key means the same as None.
type Report[T any] map[AuthorityIndex]optional.Option[T]

// EncodeReport writes a report as a map of optional values.
func EncodeReport[T Encodable](w *codec.Writer, rep Report[T]) {
	codec.PutMap(w, map[AuthorityIndex]optional.Option[T](rep), func(w *codec.Writer, o optional.Option[T]) {
		if o.IsNone() {
			w.PutU8(0)
			return
		}
		w.PutU8(1)
		o.Unwrap().EncodePayload(w)
	})
}

// DecodeReport reads a report written by EncodeReport.
func DecodeReport[T any](r *codec.Reader, get func(*codec.Reader) T) Report[T] {
	m := codec.ReadMap(r, func(r *codec.Reader) optional.Option[T] {
		switch r.U8() {
		case 0:
			return optional.None[T]()
		case 1:
			return optional.Some(get(r))
		}
		r.Fail(codec.ErrBadTag)
		return optional.None[T]()
	})
	return Report[T](m)
}

// BroadcastFailure is a failed consistency check.
type BroadcastFailure struct {
	Reason  BroadcastFailureReason
	Parties IndexSet
}

func (f *BroadcastFailure) Error() string {
	return fmt.Sprintf("broadcast verification failed: %s, parties %v", f.Reason, f.Parties.Sorted())
}

// Verified holds the value agreed for each sender, and the senders agreed
// to have sent nothing.
type Verified[T any] struct {
	Agreed map[AuthorityIndex]T
	Absent IndexSet
}

// Quorum is the number of matching reports needed to settle what a
// sender broadcast among n reporters: two thirds, rounded up.
func Quorum(n int) int {
	return DefaultThreshold(n)
}

// VerifyBroadcasts cross-checks the reports received from other parties
// about what each sender broadcast. The senders are also the expected
// reporters, and reports from anyone else are ignored.
//
// Every report votes for one candidate per sender: the encoded value, or
// None when the reporter saw nothing. The candidate with a quorum of votes
// is accepted, so a sender is Agreed on a value or Absent. A sender with
// no such candidate is blamed with Inconsistency. When fewer reports than
// a quorum arrived nothing can be settled, and the silent reporters are
// named with InsufficientVerificationMessages.
func VerifyBroadcasts[T Encodable](senders IndexSet, reports map[AuthorityIndex]Report[T]) (*Verified[T], error) {
	quorum := Quorum(senders.Len())
	var reporters []AuthorityIndex
	for _, r := range SortedKeys(reports) {
		if senders.Contains(r) {
			reporters = append(reporters, r)
		}
	}
	if len(reporters) < quorum {
		return nil, &BroadcastFailure{
			Reason:  InsufficientVerificationMessages,
			Parties: senders.Difference(NewIndexSet(reporters...)),
		}
	}

	v := &Verified[T]{
		Agreed: make(map[AuthorityIndex]T, senders.Len()),
		Absent: make(IndexSet),
	}
	blamed := make(IndexSet)

	for _, sender := range senders.Sorted() {
		none := 0
		votes := make(map[string]int)
		values := make(map[string]T)
		for _, reporter := range reporters {
			o, ok := reports[reporter][sender]
			if !ok || o.IsNone() {
				none++
				continue
			}
			enc := string(encode(o.Unwrap()))
			if _, seen := values[enc]; !seen {
				values[enc] = o.Unwrap()
			}
			votes[enc]++
		}
		if none >= quorum {
			v.Absent.Add(sender)
			continue
		}
		agreed := false
		for enc, n := range votes {
			if n >= quorum {
				v.Agreed[sender] = values[enc]
				agreed = true
				break
			}
		}
		if !agreed {
			blamed.Add(sender)
		}
	}

	if blamed.Len() > 0 {
		return nil, &BroadcastFailure{Reason: Inconsistency, Parties: blamed}
	}
	return v, nil
}

// VerifyBroadcastsBlocking is VerifyBroadcasts for rounds that cannot
// proceed without data from every sender. Senders agreed to be absent
// fail the round with InsufficientMessages.
func VerifyBroadcastsBlocking[T Encodable](senders IndexSet, reports map[AuthorityIndex]Report[T]) (map[AuthorityIndex]T, error) {
	v, err := VerifyBroadcasts(senders, reports)
	if err != nil {
		return nil, err
	}
	if v.Absent.Len() > 0 {
		return nil, &BroadcastFailure{Reason: InsufficientMessages, Parties: v.Absent}
	}
	return v.Agreed, nil
}

// CollectReports extracts the reports from the messages of a
// verification round, skipping reporters that sent nothing.
func CollectReports[M any, T any](msgs map[AuthorityIndex]optional.Option[M], report func(M) Report[T]) map[AuthorityIndex]Report[T] {
	out := make(map[AuthorityIndex]Report[T], len(msgs))
	for idx, o := range msgs {
		if o.IsSome() {
			out[idx] = report(o.Unwrap())
		}
	}
	return out
}

// ReportOf turns the messages a party collected in a broadcast round
// into the report it sends in the following verification round. The
// report has an entry for every index in all, None for parties that were
// not heard from or did not take part in the round.
func ReportOf[M any](msgs map[AuthorityIndex]optional.Option[M], all IndexSet) Report[M] {
	rep := make(Report[M], all.Len())
	for idx := range all {
		if o, ok := msgs[idx]; ok {
			rep[idx] = o
		} else {
			rep[idx] = optional.None[M]()
		}
	}
	return rep
}
