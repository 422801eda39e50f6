package manager

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/f3rmion/multisig/ceremony"
	"github.com/f3rmion/multisig/metrics"
)

type incoming struct {
	from ceremony.AccountID
	msg  ceremony.Message
}

type result[Out any] struct {
	out Out
	err error
}

// handle is the manager's side of one running ceremony.
type handle[Out any] struct {
	messages chan incoming
	request  chan ceremony.Stage[Out]
	result   chan result[Out]
	// done is closed when the runner has returned. A result, if any, is
	// sent before.
	done   chan struct{}
	cancel context.CancelFunc

	authorised bool
}

func newHandle[Out any]() *handle[Out] {
	return &handle[Out]{
		messages: make(chan incoming, 64),
		request:  make(chan ceremony.Stage[Out], 1),
		result:   make(chan result[Out], 1),
		done:     make(chan struct{}),
	}
}

// send delivers a message unless the runner has already stopped.
func (h *handle[Out]) send(in incoming) bool {
	select {
	case h.messages <- in:
		return true
	case <-h.done:
		return false
	}
}

// wait blocks until the ceremony produced a result or its runner stopped
// without one.
func (h *handle[Out]) wait() result[Out] {
	select {
	case r := <-h.result:
		return r
	case <-h.done:
		select {
		case r := <-h.result:
			return r
		default:
			return result[Out]{err: ErrClosed}
		}
	}
}

// runner owns the stages of one ceremony. A ceremony is unauthorised
// until its local request arrives; until then it only collects initial
// stage messages and never times out.
type runner[Out any] struct {
	ceremonyID uint64
	clock      clock.Clock
	maxStage   time.Duration
	logger     *zap.Logger
	metrics    *metrics.CeremonyMetrics

	stage ceremony.Stage[Out]
	// delayed holds at most one message per sender for the next stage.
	delayed  map[ceremony.AccountID]ceremony.Message
	deadline time.Time
	timer    *clock.Timer
	started  time.Time
}

func (r *runner[Out]) run(ctx context.Context, h *handle[Out]) {
	defer close(h.done)
	defer func() {
		if r.timer != nil {
			r.timer.Stop()
		}
	}()

	var timeout <-chan time.Time
	for {
		var res *result[Out]
		select {
		case <-ctx.Done():
			if r.stage == nil {
				select {
				case stage := <-h.request:
					r.stage = stage
				default:
				}
			}
			if r.stage != nil {
				r.stage.Abort()
				h.result <- result[Out]{err: ErrClosed}
			}
			return
		case stage := <-h.request:
			r.started = r.clock.Now()
			r.deadline = r.started.Add(r.maxStage)
			r.timer = r.clock.Timer(r.maxStage)
			timeout = r.timer.C
			res = r.authorise(stage)
		case in := <-h.messages:
			res = r.processOrDelay(in.from, in.msg)
		case <-timeout:
			res = r.onTimeout()
		}
		if res != nil {
			ok := res.err == nil
			r.metrics.CeremonyFinished(ok, r.clock.Since(r.started))
			if ok {
				r.logger.Info("ceremony finished", zap.Duration("took", r.clock.Since(r.started)))
			}
			h.result <- *res
			return
		}
	}
}

func (r *runner[Out]) authorise(stage ceremony.Stage[Out]) *result[Out] {
	r.stage = stage
	if stage.Init() == ceremony.Ready {
		return r.finalize()
	}
	return r.processDelayed()
}

// finalize runs the current stage to completion, and then every stage
// after it that is ready straight away.
func (r *runner[Out]) finalize() *result[Out] {
	for {
		name := r.stage.Name()
		common := r.stage.Common()
		res := r.stage.Finalize()

		if f := res.Failure(); f != nil {
			r.metrics.StageFailed(name, f.Reason.String())
			failure := &CeremonyFailure{
				CeremonyID: r.ceremonyID,
				Offenders:  common.Mapping.AccountIDs(ceremony.NewIndexSet(f.Offenders...)),
				Reason:     f.Reason,
			}
			r.logger.Warn("ceremony failed",
				zap.String("stage", name),
				zap.Stringer("reason", f.Reason),
				zap.Strings("offenders", accountStrings(failure.Offenders)),
			)
			r.stage = nil
			return &result[Out]{err: failure}
		}
		r.metrics.StageCompleted(name)

		next, ok := res.Next()
		if !ok {
			out, _ := res.Output()
			r.stage = nil
			return &result[Out]{out: out}
		}
		r.logger.Debug("ceremony transitions", zap.String("from", name), zap.String("to", next.Name()))
		r.stage = next
		// The remaining time carries over so that other parties cannot
		// move our deadlines by timing their messages.
		r.deadline = r.deadline.Add(r.maxStage)
		r.resetTimer()

		if next.Init() != ceremony.Ready {
			return r.processDelayed()
		}
	}
}

func (r *runner[Out]) resetTimer() {
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	r.timer.Reset(r.deadline.Sub(r.clock.Now()))
}

func (r *runner[Out]) processOrDelay(from ceremony.AccountID, msg ceremony.Message) *result[Out] {
	if r.stage == nil {
		if !msg.InitialStage() {
			r.metrics.BadMessage("non_initial_stage")
			r.logger.Debug("ignoring non-initial stage data for unauthorised ceremony", zap.String("from", string(from)))
			return nil
		}
		r.addDelayed(from, msg)
		return nil
	}

	common := r.stage.Common()
	idx, ok := common.Mapping.IdxOf(from)
	if !ok {
		r.metrics.BadMessage("not_valid_participant")
		r.logger.Debug("ignoring data from non-participant", zap.String("from", string(from)))
		return nil
	}
	if !msg.SizeValid(common.AllIdxs.Len(), common.NumPayloads) {
		r.metrics.BadMessage("incorrect_number_of_elements")
		r.logger.Debug("ignoring data with incorrect number of elements", zap.String("from", string(from)), zap.Stringer("message", msg))
		return nil
	}
	if msg.StageOrdinal() == r.stage.Ordinal()+1 {
		r.addDelayed(from, msg)
		return nil
	}
	if r.stage.ProcessMessage(idx, msg) == ceremony.Ready {
		return r.finalize()
	}
	return nil
}

func (r *runner[Out]) addDelayed(from ceremony.AccountID, msg ceremony.Message) {
	if r.delayed == nil {
		r.delayed = make(map[ceremony.AccountID]ceremony.Message)
	}
	if _, ok := r.delayed[from]; ok {
		r.metrics.BadMessage("redundant_delayed_msg")
		r.logger.Warn("ignoring a redundant delayed message", zap.String("from", string(from)), zap.Stringer("message", msg))
		return
	}
	r.delayed[from] = msg
	r.logger.Debug("delaying message", zap.String("from", string(from)), zap.Stringer("message", msg), zap.Int("total", len(r.delayed)))
}

// processDelayed replays messages that arrived one stage early.
func (r *runner[Out]) processDelayed() *result[Out] {
	delayed := r.delayed
	r.delayed = nil
	senders := make([]ceremony.AccountID, 0, len(delayed))
	for id := range delayed {
		senders = append(senders, id)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })
	for _, id := range senders {
		if res := r.processOrDelay(id, delayed[id]); res != nil {
			return res
		}
	}
	return nil
}

// onTimeout finalizes the current stage with whatever has arrived. The
// stage decides whether it can continue without the missing parties.
func (r *runner[Out]) onTimeout() *result[Out] {
	common := r.stage.Common()
	missing := common.Mapping.AccountIDs(ceremony.NewIndexSet(r.stage.AwaitedParties()...))
	r.logger.Warn("stage timed out before all messages were collected, finalizing anyway",
		zap.String("stage", r.stage.Name()),
		zap.Strings("missing", accountStrings(missing)),
	)
	return r.finalize()
}

func accountStrings(ids []ceremony.AccountID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
