package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"txpilot/internal/backend"
	"txpilot/internal/logger"
	"txpilot/internal/pkg/circuit"
)

var log = logger.Component("executor")

// Outcome is the structured verdict of one Execute call.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeFailure     Outcome = "FAILURE"
	OutcomeTimeout     Outcome = "TIMEOUT"
	OutcomeUnknown     Outcome = "UNKNOWN"
	OutcomeCircuitOpen Outcome = "CIRCUIT_OPEN"
)

// AttemptRecord is the per-backend try detail handed to the metrics layer.
type AttemptRecord struct {
	Backend   string
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   Outcome
	ErrorKind backend.ErrorKind
}

// Result is what every Execute call resolves into; raw I/O errors never
// escape past it.
type Result struct {
	Outcome      Outcome
	Backend      string
	Signature    string
	Confirmation backend.ConfirmationLevel
	ErrKind      backend.ErrorKind
	Err          error
	Attempts     []AttemptRecord
}

// Options bounds one execution attempt.
type Options struct {
	ExecutionTimeout time.Duration
	ConfirmBudget    time.Duration
	PollInitial      time.Duration
	PollMax          time.Duration
	Preflight        bool
}

// Executor drives one payload through the backend chain in priority order,
// skipping open circuits, polling for confirmation and classifying every
// failure mode into the structured taxonomy.
type Executor struct {
	chainFn func() []backend.Backend
	opts    Options

	breakerThreshold int
	breakerReset     time.Duration

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New builds an Executor over a chain provider, usually Registry.Chain so a
// registry hot reload takes effect on the next execution.
func New(chainFn func() []backend.Backend, opts Options, breakerThreshold int, breakerReset time.Duration) *Executor {
	if breakerThreshold <= 0 {
		breakerThreshold = 5
	}
	if breakerReset <= 0 {
		breakerReset = time.Minute
	}
	return &Executor{
		chainFn:          chainFn,
		opts:             opts,
		breakerThreshold: breakerThreshold,
		breakerReset:     breakerReset,
		breakers:         make(map[string]*circuit.Breaker),
		nowFn:            time.Now,
		sleepFn:          sleepCtx,
	}
}

// SetClock injects time sources for tests.
func (e *Executor) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		e.nowFn = now
	}
	if sleep != nil {
		e.sleepFn = sleep
	}
}

// Execute tries each eligible backend once, in order. Transient failures
// fall through to the next backend; fatal and ambiguous outcomes stop the
// chain immediately.
func (e *Executor) Execute(ctx context.Context, payload backend.SignedPayload) Result {
	chain := e.chainFn()
	if len(chain) == 0 {
		return Result{
			Outcome: OutcomeFailure,
			ErrKind: backend.KindFatal,
			Err:     errors.New("no backends configured"),
		}
	}

	var attempts []AttemptRecord
	var last Result
	eligible := 0
	skippedOpen := 0

	for _, b := range chain {
		if !backend.SupportsAtomic(b, payload) {
			log.Debugf("backend %s skipped: no atomic bundle support", b.Name())
			continue
		}
		eligible++
		br := e.breaker(b.Name())
		if !br.Allow() {
			skippedOpen++
			continue
		}

		res := e.tryBackend(ctx, b, br, payload)
		attempts = append(attempts, res.Attempts...)
		res.Attempts = attempts
		last = res

		switch res.Outcome {
		case OutcomeSuccess, OutcomeUnknown:
			return res
		case OutcomeFailure:
			if res.ErrKind == backend.KindFatal {
				return res
			}
		}
		// transient or timeout: fall through to the next backend
	}

	if eligible == 0 {
		return Result{
			Outcome:  OutcomeFailure,
			ErrKind:  backend.KindFatal,
			Err:      errors.New("no backend can carry this payload"),
			Attempts: attempts,
		}
	}
	if skippedOpen == eligible {
		return Result{
			Outcome:  OutcomeCircuitOpen,
			ErrKind:  backend.KindCircuitOpen,
			Err:      errors.New("all backend circuits open"),
			Attempts: attempts,
		}
	}
	return last
}

// BreakerSnapshots exposes per-backend circuit state for the status surface.
func (e *Executor) BreakerSnapshots() []circuit.Snapshot {
	chain := e.chainFn()
	out := make([]circuit.Snapshot, 0, len(chain))
	for _, b := range chain {
		out = append(out, e.breaker(b.Name()).Snapshot())
	}
	return out
}

// breaker returns the per-backend gate, keyed by name so breaker state
// survives registry hot reloads.
func (e *Executor) breaker(name string) *circuit.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	br, ok := e.breakers[name]
	if !ok {
		br = circuit.NewBreaker(name, e.breakerThreshold, e.breakerReset)
		e.breakers[name] = br
	}
	return br
}

func (e *Executor) tryBackend(ctx context.Context, b backend.Backend, br *circuit.Breaker, payload backend.SignedPayload) Result {
	started := e.nowFn()
	name := b.Name()

	record := func(outcome Outcome, kind backend.ErrorKind) []AttemptRecord {
		return []AttemptRecord{{
			Backend:   name,
			StartedAt: started,
			EndedAt:   e.nowFn(),
			Outcome:   outcome,
			ErrorKind: kind,
		}}
	}

	// Pre-flight: a deterministic dry-run rejection aborts before a real
	// attempt is spent, without counting against the breaker.
	if e.opts.Preflight {
		if sim, ok := b.(backend.Simulator); ok {
			simCtx, cancel := context.WithTimeout(ctx, e.opts.ExecutionTimeout)
			err := sim.Simulate(simCtx, payload)
			cancel()
			if err != nil && backend.KindOf(err) == backend.KindFatal {
				return Result{
					Outcome:  OutcomeFailure,
					Backend:  name,
					ErrKind:  backend.KindFatal,
					Err:      err,
					Attempts: record(OutcomeFailure, backend.KindFatal),
				}
			}
			// transient simulation trouble is not conclusive; proceed
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.opts.ExecutionTimeout)
	receipt, err := b.Submit(submitCtx, payload)
	timedOut := errors.Is(submitCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		kind := backend.KindOf(err)
		outcome := OutcomeFailure
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			// a timed-out broadcast with no signature cannot be reconciled;
			// it stays transient and the next backend gets its turn
			outcome = OutcomeTimeout
			kind = backend.KindTransient
		}
		br.RecordFailure()
		return Result{
			Outcome:  outcome,
			Backend:  name,
			ErrKind:  kind,
			Err:      err,
			Attempts: record(outcome, kind),
		}
	}

	return e.awaitConfirmation(ctx, b, br, receipt, started, record)
}

// awaitConfirmation polls with progressively increasing intervals until the
// confirmation budget is spent. Observed levels only ever advance: a stale
// poll can never regress a more advanced state.
func (e *Executor) awaitConfirmation(
	ctx context.Context,
	b backend.Backend,
	br *circuit.Breaker,
	receipt backend.SubmitReceipt,
	started time.Time,
	record func(Outcome, backend.ErrorKind) []AttemptRecord,
) Result {
	name := b.Name()
	level := backend.ConfirmSubmitted
	deadline := e.nowFn().Add(e.opts.ConfirmBudget)
	interval := e.opts.PollInitial
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	success := func() Result {
		br.RecordSuccess()
		return Result{
			Outcome:      OutcomeSuccess,
			Backend:      name,
			Signature:    receipt.Signature,
			Confirmation: level,
			Attempts:     record(OutcomeSuccess, backend.KindNone),
		}
	}
	rejected := func(reason string) Result {
		br.RecordFailure()
		err := backend.NewFatal(name, reason, nil)
		return Result{
			Outcome:      OutcomeFailure,
			Backend:      name,
			Signature:    receipt.Signature,
			Confirmation: level,
			ErrKind:      backend.KindFatal,
			Err:          err,
			Attempts:     record(OutcomeFailure, backend.KindFatal),
		}
	}

	for e.nowFn().Before(deadline) {
		if err := e.sleepFn(ctx, interval); err != nil {
			break
		}
		status, err := e.confirmOnce(ctx, b, receipt.Signature)
		if err == nil {
			if status.Rejected {
				return rejected(status.Reason)
			}
			level = level.Merge(status.Level)
			if level.Terminal() {
				return success()
			}
		}
		if interval < e.opts.PollMax {
			interval *= 2
			if interval > e.opts.PollMax {
				interval = e.opts.PollMax
			}
		}
	}

	// final reconciliation: the transaction may have landed even though the
	// polling budget ran out
	if status, err := e.confirmOnce(ctx, b, receipt.Signature); err == nil {
		if status.Rejected {
			return rejected(status.Reason)
		}
		level = level.Merge(status.Level)
		if level.Terminal() {
			return success()
		}
	}

	// broadcast landed somewhere between submitted and confirmed: ambiguous.
	// The breaker records nothing; ambiguity says little about backend health.
	err := &backend.Error{Kind: backend.KindUnknown, Backend: name, Msg: "confirmation budget exhausted without terminal signal"}
	return Result{
		Outcome:      OutcomeUnknown,
		Backend:      name,
		Signature:    receipt.Signature,
		Confirmation: level,
		ErrKind:      backend.KindUnknown,
		Err:          err,
		Attempts:     record(OutcomeUnknown, backend.KindUnknown),
	}
}

func (e *Executor) confirmOnce(ctx context.Context, b backend.Backend, signature string) (backend.ConfirmationStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.opts.ExecutionTimeout)
	defer cancel()
	return b.Confirm(pollCtx, signature)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
