package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"txpilot/internal/backend"
	"txpilot/internal/builder"
	"txpilot/internal/config"
	"txpilot/internal/executor"
	"txpilot/internal/logger"
	"txpilot/internal/metrics"
	"txpilot/internal/notifier"
	"txpilot/internal/order"
)

var log = logger.Component("engine")

// Engine owns the bounded worker pool that drains the priority queue and
// drives each order through build, execute and the resulting state
// transition. One order is processed by at most one worker at a time; the
// guarded QUEUED to EXECUTING transition is the claim.
type Engine struct {
	cfg     config.EngineConfig
	manager *order.Manager
	builder builder.PayloadBuilder
	exec    *executor.Executor
	metrics *metrics.Collector
	notify  notifier.EventNotifier

	queue *Queue

	mu          sync.Mutex
	cancel      context.CancelFunc
	retryCancel context.CancelFunc
	stopCh      chan struct{}
	retryCtx    context.Context
	started     bool

	wg      sync.WaitGroup
	retryWG sync.WaitGroup

	sleepFn func(ctx context.Context, d time.Duration) error
}

func New(
	cfg config.EngineConfig,
	manager *order.Manager,
	payloadBuilder builder.PayloadBuilder,
	exec *executor.Executor,
	collector *metrics.Collector,
	notify notifier.EventNotifier,
) *Engine {
	if notify == nil {
		notify = notifier.LogNotifier{}
	}
	return &Engine{
		cfg:     cfg,
		manager: manager,
		builder: payloadBuilder,
		exec:    exec,
		metrics: collector,
		notify:  notify,
		queue:   NewQueue(cfg.QueueSize),
		sleepFn: sleepCtx,
	}
}

// SetSleep injects the retry delay function for tests.
func (e *Engine) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	if fn != nil {
		e.sleepFn = fn
	}
}

// QueueDepth exposes the current backlog for the status surface.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// SubmitTradingSignal validates and persists the intent, then schedules it.
// A duplicate idempotency key returns the existing order without scheduling
// a second execution.
func (e *Engine) SubmitTradingSignal(ctx context.Context, intent order.Intent, idempotencyKey string) (*order.Order, error) {
	ord, err := e.manager.Submit(ctx, intent, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if ord.Status != order.StatusPending {
		// idempotent replay of an order already in flight or settled
		return ord, nil
	}
	queued, err := e.schedule(ctx, ord)
	if err != nil {
		return nil, err
	}
	e.emit(notifier.EvtOrderSubmitted, queued.ID, fmt.Sprintf("accepted %s %s %s", intent.Action, intent.Size, intent.Market))
	return queued, nil
}

// schedule moves a PENDING order into the queue. On a full queue the order
// is left PENDING so a later recovery sweep or retry can pick it up.
func (e *Engine) schedule(ctx context.Context, ord *order.Order) (*order.Order, error) {
	queued, err := e.manager.Transition(ctx, ord.ID, order.StatusQueued, order.TransitionMeta{})
	if err != nil {
		return nil, err
	}
	if err := e.queue.Push(queued.ID, queued.Intent.Confidence); err != nil {
		if _, revertErr := e.manager.Transition(ctx, queued.ID, order.StatusPending, order.TransitionMeta{}); revertErr != nil {
			log.Warnf("order %s stuck QUEUED after full queue: %v", queued.ID, revertErr)
		}
		return nil, fmt.Errorf("schedule order %s: %w", queued.ID, err)
	}
	return queued, nil
}

// Start runs crash recovery, re-enqueues all pending work and launches the
// worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	retryCtx, retryCancel := context.WithCancel(runCtx)
	e.cancel = cancel
	e.retryCancel = retryCancel
	e.retryCtx = retryCtx
	e.stopCh = make(chan struct{})
	e.started = true
	e.mu.Unlock()

	requeued, failed, err := e.manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	if len(requeued) > 0 || len(failed) > 0 {
		log.Infof("crash recovery: %d orders requeued, %d failed with retries exhausted", len(requeued), len(failed))
	}

	work, err := e.manager.ListPendingWork(ctx)
	if err != nil {
		return fmt.Errorf("load pending work: %w", err)
	}
	for _, ord := range work {
		switch ord.Status {
		case order.StatusPending:
			if _, err := e.schedule(ctx, ord); err != nil {
				log.Warnf("enqueue recovered order %s: %v", ord.ID, err)
			}
		case order.StatusQueued:
			if err := e.queue.Push(ord.ID, ord.Intent.Confidence); err != nil {
				log.Warnf("enqueue recovered order %s: %v", ord.ID, err)
			}
		}
	}

	workers := e.cfg.MaxConcurrentExecutions
	if workers <= 0 {
		workers = 3
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(runCtx, i)
	}
	log.Infof("engine started with %d workers, queue depth %d", workers, e.queue.Len())
	return nil
}

// Stop first closes the intake so workers finish their in-flight order, then
// waits up to the drain timeout before force-cancelling what remains. Orders
// still running after the force-cancel are left EXECUTING for the next
// startup's recovery sweep.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	retryCancel := e.retryCancel
	stopCh := e.stopCh
	e.mu.Unlock()

	close(stopCh)
	// pending backoff waits are abandoned, the orders stay QUEUED for the
	// next start; in-flight attempts keep their context until the deadline
	retryCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.retryWG.Wait()
		close(done)
	}()

	drain := e.cfg.DrainTimeout()
	if drain <= 0 {
		drain = 30 * time.Second
	}
	select {
	case <-done:
		cancel()
		log.Infof("engine drained cleanly")
		return nil
	case <-time.After(drain):
		cancel()
		return fmt.Errorf("engine drain timed out after %s, in-flight work cancelled", drain)
	}
}

func (e *Engine) workerLoop(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-e.queue.Ready():
		}
		for {
			orderID, ok := e.queue.Pop()
			if !ok {
				break
			}
			e.process(ctx, orderID)
			select {
			case <-e.stopCh:
				return
			default:
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// process claims one queued order and runs it end to end. A panic in the
// build or backend path fails the order instead of killing the worker.
func (e *Engine) process(ctx context.Context, orderID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker panic on order %s: %v", orderID, r)
			e.failOrder(ctx, orderID, string(backend.KindFatal), fmt.Sprintf("internal panic: %v", r))
		}
	}()

	ord, err := e.manager.Transition(ctx, orderID, order.StatusExecuting, order.TransitionMeta{IncrementAttempt: true})
	if err != nil {
		// claimed by another worker, cancelled, or already terminal
		log.Debugf("skip order %s: %v", orderID, err)
		return
	}

	if ord.CancelRequested {
		if _, err := e.manager.Transition(ctx, ord.ID, order.StatusCancelled, order.TransitionMeta{}); err == nil {
			log.Infof("order %s cancelled before execution", ord.ID)
		}
		return
	}

	payload, err := e.builder.Build(ctx, ord.ID, ord.Intent)
	if err != nil {
		kind := backend.KindOf(err)
		log.Warnf("payload build for order %s failed (%s): %v", ord.ID, kind, err)
		if kind == backend.KindTransient && ord.AttemptsRemain() {
			e.requeueLater(ctx, ord, order.TransitionMeta{})
			return
		}
		e.failOrder(ctx, ord.ID, string(kind), err.Error())
		return
	}

	res := e.exec.Execute(ctx, payload)
	e.recordAttempts(ctx, ord.ID, res)
	e.settle(ctx, ord, res)
}

// settle translates the executor verdict into the order's next state.
func (e *Engine) settle(ctx context.Context, ord *order.Order, res executor.Result) {
	switch res.Outcome {
	case executor.OutcomeSuccess:
		meta := order.TransitionMeta{Method: res.Backend, ResultReference: res.Signature}
		if _, err := e.manager.Transition(ctx, ord.ID, order.StatusSubmitted, meta); err != nil {
			log.Errorf("order %s confirmed on-chain but state update failed: %v", ord.ID, err)
			return
		}
		if _, err := e.manager.Transition(ctx, ord.ID, order.StatusConfirmed, order.TransitionMeta{}); err != nil {
			log.Errorf("order %s confirmed on-chain but state update failed: %v", ord.ID, err)
			return
		}
		log.Infof("order %s confirmed via %s (%s)", ord.ID, res.Backend, res.Signature)
		e.emit(notifier.EvtOrderConfirmed, ord.ID, fmt.Sprintf("confirmed via %s: %s", res.Backend, res.Signature))

	case executor.OutcomeUnknown:
		meta := order.TransitionMeta{
			Method:          res.Backend,
			ResultReference: res.Signature,
			ErrorKind:       string(res.ErrKind),
			ErrorMessage:    errText(res.Err),
		}
		if _, err := e.manager.Transition(ctx, ord.ID, order.StatusUnknown, meta); err != nil {
			log.Errorf("order %s: record unknown outcome: %v", ord.ID, err)
			return
		}
		log.Warnf("order %s outcome unknown, signature %s needs manual reconciliation", ord.ID, res.Signature)
		e.emit(notifier.EvtOrderUnknown, ord.ID, fmt.Sprintf("ambiguous outcome, signature %s", res.Signature))

	case executor.OutcomeCircuitOpen:
		// backend unhealth, not order failure: hand the claim back and wait
		// for a circuit to close. The order never terminalizes on this path
		// and the claimed attempt is refunded.
		fresh, err := e.manager.Get(ctx, ord.ID)
		if err != nil {
			log.Errorf("order %s: reload after circuit-open verdict: %v", ord.ID, err)
			return
		}
		if fresh.CancelRequested {
			if _, err := e.manager.Transition(ctx, ord.ID, order.StatusCancelled, order.TransitionMeta{}); err == nil {
				log.Infof("order %s cancelled at retry boundary", ord.ID)
			}
			return
		}
		log.Warnf("order %s held back, all backend circuits open", ord.ID)
		e.requeueLater(ctx, fresh, order.TransitionMeta{DecrementAttempt: true})

	default:
		if res.ErrKind == backend.KindFatal || res.ErrKind == backend.KindValidation {
			e.failOrder(ctx, ord.ID, string(res.ErrKind), errText(res.Err))
			return
		}
		// transient or timeout
		fresh, err := e.manager.Get(ctx, ord.ID)
		if err != nil {
			log.Errorf("order %s: reload after transient failure: %v", ord.ID, err)
			return
		}
		if fresh.CancelRequested {
			if _, err := e.manager.Transition(ctx, ord.ID, order.StatusCancelled, order.TransitionMeta{}); err == nil {
				log.Infof("order %s cancelled at retry boundary", ord.ID)
			}
			return
		}
		if fresh.AttemptsRemain() {
			e.requeueLater(ctx, fresh, order.TransitionMeta{})
			return
		}
		meta := order.TransitionMeta{ErrorKind: string(res.ErrKind), ErrorMessage: errText(res.Err)}
		if res.Outcome == executor.OutcomeTimeout {
			// TIMED_OUT is a waypoint, not a resting place: with no retries
			// left it resolves to FAILED so the order stays queryable as a
			// terminal state
			if _, err := e.manager.Transition(ctx, ord.ID, order.StatusTimedOut, meta); err != nil {
				log.Errorf("order %s: mark %s: %v", ord.ID, order.StatusTimedOut, err)
				return
			}
		}
		if _, err := e.manager.Transition(ctx, ord.ID, order.StatusFailed, meta); err != nil {
			log.Errorf("order %s: mark %s: %v", ord.ID, order.StatusFailed, err)
			return
		}
		log.Warnf("order %s exhausted retries: %s", ord.ID, errText(res.Err))
		e.emit(notifier.EvtOrderFailed, ord.ID, fmt.Sprintf("retries exhausted: %s", errText(res.Err)))
	}
}

// requeueLater re-enqueues an EXECUTING order after an exponential backoff
// delay. The delay runs off-worker so the pool is not blocked, and it aborts
// on shutdown leaving the order QUEUED for the next start.
func (e *Engine) requeueLater(ctx context.Context, ord *order.Order, meta order.TransitionMeta) {
	updated, err := e.manager.Transition(ctx, ord.ID, order.StatusQueued, meta)
	if err != nil {
		log.Errorf("order %s: requeue transition: %v", ord.ID, err)
		return
	}
	b := &backoff.Backoff{
		Min:    e.cfg.RetryBaseDelay(),
		Max:    e.cfg.RetryMaxDelay(),
		Factor: e.cfg.RetryFactor,
		Jitter: true,
	}
	delay := b.ForAttempt(float64(updated.AttemptCount))
	log.Infof("order %s attempt %d scheduled for retry in %s", updated.ID, updated.AttemptCount, delay.Round(time.Millisecond))

	waitCtx := e.retryCtx
	if waitCtx == nil {
		waitCtx = ctx
	}
	e.retryWG.Add(1)
	go func() {
		defer e.retryWG.Done()
		if err := e.sleepFn(waitCtx, delay); err != nil {
			return
		}
		if err := e.queue.Push(updated.ID, updated.Intent.Confidence); err != nil {
			log.Warnf("order %s: retry enqueue: %v", updated.ID, err)
		}
	}()
}

func (e *Engine) failOrder(ctx context.Context, orderID, kind, msg string) {
	meta := order.TransitionMeta{ErrorKind: kind, ErrorMessage: msg}
	if _, err := e.manager.Transition(ctx, orderID, order.StatusFailed, meta); err != nil {
		log.Errorf("order %s: mark FAILED: %v", orderID, err)
		return
	}
	e.emit(notifier.EvtOrderFailed, orderID, msg)
}

// recordAttempts feeds the rolling metrics windows and the durable audit
// trail from the executor's per-backend attempt records.
func (e *Engine) recordAttempts(ctx context.Context, orderID string, res executor.Result) {
	for _, a := range res.Attempts {
		if e.metrics != nil {
			e.metrics.Record(metrics.Attempt{
				OrderID:   orderID,
				Backend:   a.Backend,
				StartedAt: a.StartedAt,
				EndedAt:   a.EndedAt,
				Outcome:   metrics.Outcome(a.Outcome),
				ErrorKind: string(a.ErrorKind),
			})
		}
		if err := e.manager.RecordAttempt(ctx, orderID, order.AttemptRecord{
			Backend:   a.Backend,
			StartedAt: a.StartedAt,
			EndedAt:   a.EndedAt,
			Outcome:   string(a.Outcome),
			ErrorKind: string(a.ErrorKind),
		}); err != nil {
			log.Warnf("order %s: persist attempt record: %v", orderID, err)
		}
	}
}

func (e *Engine) emit(t notifier.EventType, orderID, summary string) {
	if err := e.notify.Notify(notifier.Event{
		Type:      t,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Summary:   summary,
	}); err != nil {
		log.Warnf("notify %s for order %s: %v", t, orderID, err)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
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
