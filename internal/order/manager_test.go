package order

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"txpilot/internal/store"
	"txpilot/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, maxRetries int) (*Manager, store.Store) {
	t.Helper()
	s, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s, maxRetries), s
}

func sellIntent() Intent {
	return Intent{
		Action:     ActionSell,
		Market:     "SOL-USDC",
		Size:       decimal.RequireFromString("0.1"),
		Confidence: 0.8,
	}
}

func TestSubmitCreatesPendingOrder(t *testing.T) {
	m, _ := newTestManager(t, 3)

	o, err := m.Submit(context.Background(), sellIntent(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, 3, o.MaxRetries)
	assert.Equal(t, 0, o.AttemptCount)

	got, err := m.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, got.Intent.Size.Equal(decimal.RequireFromString("0.1")))
}

func TestSubmitRejectsMalformedIntent(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"empty market", func(i *Intent) { i.Market = "" }},
		{"zero size", func(i *Intent) { i.Size = decimal.Zero }},
		{"negative size", func(i *Intent) { i.Size = decimal.RequireFromString("-1") }},
		{"bad action", func(i *Intent) { i.Action = "HOLD" }},
		{"confidence out of range", func(i *Intent) { i.Confidence = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := sellIntent()
			tc.mutate(&intent)
			_, err := m.Submit(ctx, intent, "")
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestSubmitIdempotencyKeyReturnsExisting(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()

	first, err := m.Submit(ctx, sellIntent(), "client-key-1")
	require.NoError(t, err)
	second, err := m.Submit(ctx, sellIntent(), "client-key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	third, err := m.Submit(ctx, sellIntent(), "client-key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestGetUnknownOrder(t *testing.T) {
	m, _ := newTestManager(t, 3)
	_, err := m.Get(context.Background(), "nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGetStatusIdempotent(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)

	a, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	b, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransitionEnforcesTable(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)

	// PENDING cannot jump straight to CONFIRMED
	_, err = m.Transition(ctx, o.ID, StatusConfirmed, TransitionMeta{})
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)

	for _, to := range []Status{StatusQueued, StatusExecuting, StatusSubmitted, StatusConfirmed} {
		_, err = m.Transition(ctx, o.ID, to, TransitionMeta{})
		require.NoError(t, err, "to %s", to)
	}

	// CONFIRMED is terminal
	_, err = m.Transition(ctx, o.ID, StatusQueued, TransitionMeta{})
	require.ErrorAs(t, err, &ite)
}

func TestTransitionRecordsMetadata(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)

	_, err = m.Transition(ctx, o.ID, StatusQueued, TransitionMeta{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusExecuting, TransitionMeta{IncrementAttempt: true})
	require.NoError(t, err)
	got, err := m.Transition(ctx, o.ID, StatusFailed, TransitionMeta{
		ErrorKind:    "FatalSubmissionError",
		ErrorMessage: "insufficient funds",
		Method:       "RelayA",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "RelayA", got.ExecutionMethod)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "FatalSubmissionError", got.LastError.Kind)
}

func TestConfirmedResultReferenceStable(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)

	_, err = m.Transition(ctx, o.ID, StatusQueued, TransitionMeta{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusExecuting, TransitionMeta{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusSubmitted, TransitionMeta{ResultReference: "sig-1", Method: "DirectRPC"})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusConfirmed, TransitionMeta{})
	require.NoError(t, err)

	first, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	second, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", first.ResultReference)
	assert.Equal(t, first.ResultReference, second.ResultReference)
}

func TestCancelBeforeExecutionIsAuthoritative(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)

	res, err := m.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	got, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestCancelDuringExecutionIsBestEffort(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)

	_, err = m.Transition(ctx, o.ID, StatusQueued, TransitionMeta{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusExecuting, TransitionMeta{})
	require.NoError(t, err)

	res, err := m.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	got, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)
	assert.True(t, got.CancelRequested)
}

func TestCancelTerminalOrderRefused(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()
	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)
	_, err = m.Cancel(ctx, o.ID)
	require.NoError(t, err)

	res, err := m.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestRecoverRequeuesInterruptedOrders(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()

	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusQueued, TransitionMeta{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusExecuting, TransitionMeta{IncrementAttempt: true})
	require.NoError(t, err)

	requeued, failed, err := m.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Empty(t, failed)

	got, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	// the claim already counted the interrupted attempt
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "interrupted", got.LastError.Kind)
}

func TestRecoverFailsExhaustedOrders(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusQueued, TransitionMeta{})
	require.NoError(t, err)
	_, err = m.Transition(ctx, o.ID, StatusExecuting, TransitionMeta{IncrementAttempt: true})
	require.NoError(t, err)

	requeued, failed, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, requeued)
	require.Len(t, failed, 1)

	got, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.LastError.Kind)
}

func TestCleanupHonorsRetention(t *testing.T) {
	m, s := newTestManager(t, 3)
	ctx := context.Background()

	o, err := m.Submit(ctx, sellIntent(), "")
	require.NoError(t, err)
	_, err = m.Cancel(ctx, o.ID)
	require.NoError(t, err)

	// age the row past retention
	require.NoError(t, s.Orders().Update(ctx, o.ID, map[string]any{
		"updated_at": time.Now().Add(-48 * time.Hour).Unix(),
	}))

	n, err := m.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = m.Get(ctx, o.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestAttemptsRemainBudget(t *testing.T) {
	// max_retries bounds retries, not total attempts: max_retries+1 claims
	// are allowed and max_retries=0 yields exactly one
	o := &Order{MaxRetries: 0, AttemptCount: 1}
	assert.False(t, o.AttemptsRemain())

	o = &Order{MaxRetries: 1, AttemptCount: 1}
	assert.True(t, o.AttemptsRemain(), "one retry must remain after the first attempt")
	o.AttemptCount = 2
	assert.False(t, o.AttemptsRemain())

	o = &Order{MaxRetries: 2, AttemptCount: 3}
	assert.False(t, o.AttemptsRemain())
}
