package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txpilot/internal/backend"
	"txpilot/internal/pkg/circuit"
)

type fakeBackend struct {
	name      string
	submitFn  func(ctx context.Context, p backend.SignedPayload) (backend.SubmitReceipt, error)
	confirmFn func(ctx context.Context, sig string) (backend.ConfirmationStatus, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Submit(ctx context.Context, p backend.SignedPayload) (backend.SubmitReceipt, error) {
	return f.submitFn(ctx, p)
}

func (f *fakeBackend) Confirm(ctx context.Context, sig string) (backend.ConfirmationStatus, error) {
	if f.confirmFn == nil {
		return backend.ConfirmationStatus{Level: backend.ConfirmFinalized}, nil
	}
	return f.confirmFn(ctx, sig)
}

type bundleBackend struct {
	fakeBackend
}

func (b *bundleBackend) SupportsBundles() bool { return true }

type simulatingBackend struct {
	fakeBackend
	simulateFn func(ctx context.Context, p backend.SignedPayload) error
}

func (s *simulatingBackend) Simulate(ctx context.Context, p backend.SignedPayload) error {
	return s.simulateFn(ctx, p)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func chainOf(backends ...backend.Backend) func() []backend.Backend {
	return func() []backend.Backend { return backends }
}

func testOptions() Options {
	return Options{
		ExecutionTimeout: 5 * time.Second,
		ConfirmBudget:    10 * time.Second,
		PollInitial:      time.Second,
		PollMax:          4 * time.Second,
	}
}

func newTestExecutor(opts Options, backends ...backend.Backend) (*Executor, *fakeClock) {
	e := New(chainOf(backends...), opts, 3, time.Minute)
	clk := newFakeClock()
	e.SetClock(clk.Now, clk.Sleep)
	return e, clk
}

func okSubmit(sig string) func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
	return func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
		return backend.SubmitReceipt{Signature: sig}, nil
	}
}

func payload() backend.SignedPayload {
	return backend.SignedPayload{OrderID: "ord-1", Market: "SOL-USDC", Transactions: [][]byte{{0x01}}}
}

func TestExecuteSuccessFirstBackend(t *testing.T) {
	b := &fakeBackend{name: "primary", submitFn: okSubmit("sig-1")}
	e, _ := newTestExecutor(testOptions(), b)

	res := e.Execute(context.Background(), payload())

	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "primary", res.Backend)
	assert.Equal(t, "sig-1", res.Signature)
	assert.True(t, res.Confirmation.Terminal())
	assert.Len(t, res.Attempts, 1)
}

func TestExecuteFallsBackOnTransientFailure(t *testing.T) {
	primary := &fakeBackend{name: "primary", submitFn: func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
		return backend.SubmitReceipt{}, backend.NewTransient("primary", "connection refused", nil)
	}}
	secondary := &fakeBackend{name: "secondary", submitFn: okSubmit("sig-2")}
	e, _ := newTestExecutor(testOptions(), primary, secondary)

	res := e.Execute(context.Background(), payload())

	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "secondary", res.Backend)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "primary", res.Attempts[0].Backend)
	assert.Equal(t, backend.KindTransient, res.Attempts[0].ErrorKind)
}

func TestExecuteFatalStopsChain(t *testing.T) {
	calls := 0
	primary := &fakeBackend{name: "primary", submitFn: func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
		return backend.SubmitReceipt{}, backend.NewFatal("primary", "insufficient funds", nil)
	}}
	secondary := &fakeBackend{name: "secondary", submitFn: func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
		calls++
		return backend.SubmitReceipt{Signature: "x"}, nil
	}}
	e, _ := newTestExecutor(testOptions(), primary, secondary)

	res := e.Execute(context.Background(), payload())

	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, backend.KindFatal, res.ErrKind)
	assert.Zero(t, calls, "fatal rejection must not fall through")
}

func TestExecuteAllCircuitsOpen(t *testing.T) {
	failing := &fakeBackend{name: "only", submitFn: func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
		return backend.SubmitReceipt{}, backend.NewTransient("only", "down", nil)
	}}
	e, _ := newTestExecutor(testOptions(), failing)

	// trip the breaker (threshold 3)
	for i := 0; i < 3; i++ {
		e.Execute(context.Background(), payload())
	}

	res := e.Execute(context.Background(), payload())
	require.Equal(t, OutcomeCircuitOpen, res.Outcome)
	assert.Equal(t, backend.KindCircuitOpen, res.ErrKind)
	assert.Empty(t, res.Attempts)
}

func TestExecuteUnknownAfterBudgetExhausted(t *testing.T) {
	polls := 0
	b := &fakeBackend{
		name:     "slow",
		submitFn: okSubmit("sig-slow"),
		confirmFn: func(context.Context, string) (backend.ConfirmationStatus, error) {
			polls++
			return backend.ConfirmationStatus{Level: backend.ConfirmSubmitted}, nil
		},
	}
	e, _ := newTestExecutor(testOptions(), b)

	res := e.Execute(context.Background(), payload())

	require.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, backend.KindUnknown, res.ErrKind)
	assert.Equal(t, "sig-slow", res.Signature)
	assert.Greater(t, polls, 1, "expected repeated polling plus a final reconciliation query")
	assert.Equal(t, backend.ConfirmSubmitted, res.Confirmation)
}

func TestExecuteFinalReconciliationRescuesLateConfirmation(t *testing.T) {
	polls := 0
	b := &fakeBackend{
		name:     "late",
		submitFn: okSubmit("sig-late"),
		confirmFn: func(context.Context, string) (backend.ConfirmationStatus, error) {
			polls++
			if polls >= 5 {
				return backend.ConfirmationStatus{Level: backend.ConfirmFinalized}, nil
			}
			return backend.ConfirmationStatus{Level: backend.ConfirmSubmitted}, nil
		},
	}
	e, _ := newTestExecutor(testOptions(), b)

	res := e.Execute(context.Background(), payload())
	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, backend.ConfirmFinalized, res.Confirmation)
}

func TestExecuteRejectionDuringPollingIsFatal(t *testing.T) {
	b := &fakeBackend{
		name:     "reject",
		submitFn: okSubmit("sig-r"),
		confirmFn: func(context.Context, string) (backend.ConfirmationStatus, error) {
			return backend.ConfirmationStatus{Rejected: true, Reason: "program failed"}, nil
		},
	}
	e, _ := newTestExecutor(testOptions(), b)

	res := e.Execute(context.Background(), payload())
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, backend.KindFatal, res.ErrKind)
	assert.ErrorContains(t, res.Err, "program failed")
}

func TestExecuteConfirmationNeverRegresses(t *testing.T) {
	polls := 0
	b := &fakeBackend{
		name:     "jitter",
		submitFn: okSubmit("sig-j"),
		confirmFn: func(context.Context, string) (backend.ConfirmationStatus, error) {
			polls++
			// a stale replica reports an earlier level after progress was seen
			switch polls {
			case 1:
				return backend.ConfirmationStatus{Level: backend.ConfirmConfirmed}, nil
			default:
				return backend.ConfirmationStatus{Level: backend.ConfirmPending}, nil
			}
		},
	}
	e, _ := newTestExecutor(testOptions(), b)

	res := e.Execute(context.Background(), payload())
	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, backend.ConfirmConfirmed, res.Confirmation)
	assert.Equal(t, 1, polls)
}

func TestExecutePreflightFatalAbortsWithoutTrippingBreaker(t *testing.T) {
	submits := 0
	b := &simulatingBackend{
		fakeBackend: fakeBackend{name: "sim", submitFn: func(context.Context, backend.SignedPayload) (backend.SubmitReceipt, error) {
			submits++
			return backend.SubmitReceipt{Signature: "x"}, nil
		}},
		simulateFn: func(context.Context, backend.SignedPayload) error {
			return backend.NewFatal("sim", "would revert", nil)
		},
	}
	opts := testOptions()
	opts.Preflight = true
	e, _ := newTestExecutor(opts, b)

	res := e.Execute(context.Background(), payload())

	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, backend.KindFatal, res.ErrKind)
	assert.Zero(t, submits)
	snaps := e.BreakerSnapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, circuit.StateClosed.String(), snaps[0].State)
	assert.Zero(t, snaps[0].Failures)
}

func TestExecutePreflightTransientErrorProceeds(t *testing.T) {
	b := &simulatingBackend{
		fakeBackend: fakeBackend{name: "sim", submitFn: okSubmit("sig-s")},
		simulateFn: func(context.Context, backend.SignedPayload) error {
			return backend.NewTransient("sim", "simulation node busy", nil)
		},
	}
	opts := testOptions()
	opts.Preflight = true
	e, _ := newTestExecutor(opts, b)

	res := e.Execute(context.Background(), payload())
	require.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestExecuteAtomicPayloadSkipsIncapableBackend(t *testing.T) {
	plain := &fakeBackend{name: "rpc", submitFn: okSubmit("nope")}
	capable := &bundleBackend{fakeBackend{name: "relay", submitFn: okSubmit("sig-b")}}
	e, _ := newTestExecutor(testOptions(), plain, capable)

	p := payload()
	p.Atomic = true
	p.Transactions = [][]byte{{0x01}, {0x02}}

	res := e.Execute(context.Background(), p)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "relay", res.Backend)
}

func TestExecuteAtomicPayloadNoCapableBackend(t *testing.T) {
	plain := &fakeBackend{name: "rpc", submitFn: okSubmit("nope")}
	e, _ := newTestExecutor(testOptions(), plain)

	p := payload()
	p.Atomic = true
	p.Transactions = [][]byte{{0x01}, {0x02}}

	res := e.Execute(context.Background(), p)
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, backend.KindFatal, res.ErrKind)
}

func TestExecuteEmptyChain(t *testing.T) {
	e := New(chainOf(), testOptions(), 3, time.Minute)
	res := e.Execute(context.Background(), payload())
	require.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, backend.KindFatal, res.ErrKind)
}
