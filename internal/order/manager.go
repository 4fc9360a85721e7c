package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"txpilot/internal/logger"
	"txpilot/internal/store"
	"txpilot/internal/store/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Manager owns the durable order arena and its state machine. All mutations
// flow through Transition so the legal-transition table is enforced in one
// place.
type Manager struct {
	store      store.Store
	maxRetries int
}

func NewManager(s store.Store, maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{store: s, maxRetries: maxRetries}
}

// Submit validates the intent and persists a new PENDING order. When the
// caller supplies an idempotency key that matches an existing order, that
// order is returned instead of creating a duplicate.
func (m *Manager) Submit(ctx context.Context, intent Intent, idempotencyKey string) (*Order, error) {
	if err := validateIntent(intent); err != nil {
		return nil, err
	}

	if key := strings.TrimSpace(idempotencyKey); key != "" {
		existing, err := m.store.Orders().FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if existing != nil {
			return fromModel(existing)
		}
	}

	now := time.Now()
	o := &Order{
		ID:         uuid.New().String(),
		Intent:     intent,
		Status:     StatusPending,
		MaxRetries: m.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	rec, err := toModel(o, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := m.store.Orders().Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist order failed: %w", err)
	}
	logger.Infof("order %s submitted: %s %s %s", o.ID, intent.Action, intent.Size, intent.Market)
	return o, nil
}

// Get returns a snapshot of the order.
func (m *Manager) Get(ctx context.Context, id string) (*Order, error) {
	rec, err := m.store.Orders().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{ID: id}
	}
	return fromModel(rec)
}

// TransitionMeta carries the optional fields written alongside a transition.
// DecrementAttempt hands back a claim that never reached a backend, such as
// a requeue while every circuit is open.
type TransitionMeta struct {
	IncrementAttempt bool
	DecrementAttempt bool
	Method           string
	ResultReference  string
	ErrorKind        string
	ErrorMessage     string
}

// Transition moves an order to a new state under the legal-transition table.
// The underlying update is a single guarded row write, so two workers racing
// on the same order resolve to one winner; the loser gets an
// IllegalTransitionError.
func (m *Manager) Transition(ctx context.Context, id string, to Status, meta TransitionMeta) (*Order, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, &IllegalTransitionError{OrderID: id, From: current.Status, To: to}
	}

	fields := map[string]any{"status": string(to)}
	if meta.IncrementAttempt {
		fields["attempt_count"] = current.AttemptCount + 1
	}
	if meta.DecrementAttempt && current.AttemptCount > 0 {
		fields["attempt_count"] = current.AttemptCount - 1
	}
	if meta.Method != "" {
		fields["execution_method"] = meta.Method
	}
	if meta.ResultReference != "" {
		fields["result_reference"] = meta.ResultReference
	}
	if meta.ErrorKind != "" {
		fields["last_error_kind"] = meta.ErrorKind
		fields["last_error_msg"] = meta.ErrorMessage
	}

	ok, err := m.store.Orders().UpdateWhereStatus(ctx, id, string(current.Status), fields)
	if err != nil {
		return nil, fmt.Errorf("transition update failed: %w", err)
	}
	if !ok {
		// lost the race: reread so the error names the true current state
		latest, rerr := m.Get(ctx, id)
		if rerr != nil {
			return nil, rerr
		}
		return nil, &IllegalTransitionError{OrderID: id, From: latest.Status, To: to}
	}
	logger.Debugf("order %s: %s -> %s", id, current.Status, to)
	return m.Get(ctx, id)
}

// CancelResult mirrors the inbound cancel API.
type CancelResult struct {
	Accepted bool   `json:"accepted"`
	Note     string `json:"note"`
}

// Cancel is authoritative before EXECUTING and best-effort afterwards: a
// broadcast transaction cannot be unsent, so late cancellation only
// suppresses further retries.
func (m *Manager) Cancel(ctx context.Context, id string) (CancelResult, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if current.Status.Terminal() {
		return CancelResult{Accepted: false, Note: fmt.Sprintf("order already %s", current.Status)}, nil
	}

	switch current.Status {
	case StatusPending, StatusQueued, StatusTimedOut:
		ok, err := m.store.Orders().UpdateWhereStatus(ctx, id, string(current.Status), map[string]any{
			"status":           string(StatusCancelled),
			"cancel_requested": true,
		})
		if err != nil {
			return CancelResult{}, err
		}
		if ok {
			return CancelResult{Accepted: true, Note: "cancelled before execution"}, nil
		}
		// a worker grabbed it first; fall through to the best-effort path
		fallthrough
	default:
		if err := m.store.Orders().Update(ctx, id, map[string]any{"cancel_requested": true}); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{
			Accepted: false,
			Note:     "cancellation requested: no further retries, but an in-flight submission may still land",
		}, nil
	}
}

// AttemptRecord is one historical execution try, kept as an audit trail
// beside the order itself.
type AttemptRecord struct {
	AttemptID string    `json:"attempt_id"`
	OrderID   string    `json:"order_id"`
	Backend   string    `json:"backend"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// RecordAttempt appends one immutable execution attempt for the order.
func (m *Manager) RecordAttempt(ctx context.Context, orderID string, rec AttemptRecord) error {
	if rec.AttemptID == "" {
		rec.AttemptID = uuid.New().String()
	}
	return m.store.Attempts().Append(ctx, &model.AttemptModel{
		AttemptID:     rec.AttemptID,
		OrderID:       orderID,
		Backend:       rec.Backend,
		StartedAtUnix: rec.StartedAt.UnixMilli(),
		EndedAtUnix:   rec.EndedAt.UnixMilli(),
		Outcome:       rec.Outcome,
		ErrorKind:     rec.ErrorKind,
	})
}

// Attempts returns the execution history of one order, oldest first.
func (m *Manager) Attempts(ctx context.Context, orderID string) ([]AttemptRecord, error) {
	recs, err := m.store.Attempts().ListByOrder(ctx, orderID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, AttemptRecord{
			AttemptID: rec.AttemptID,
			OrderID:   rec.OrderID,
			Backend:   rec.Backend,
			StartedAt: time.UnixMilli(rec.StartedAtUnix),
			EndedAt:   time.UnixMilli(rec.EndedAtUnix),
			Outcome:   rec.Outcome,
			ErrorKind: rec.ErrorKind,
		})
	}
	return out, nil
}

// Cleanup deletes terminal orders whose last update is older than retention.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	terminal := []string{
		string(StatusConfirmed),
		string(StatusFailed),
		string(StatusCancelled),
		string(StatusUnknown),
	}
	n, err := m.store.Orders().DeleteTerminalBefore(ctx, terminal, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infof("cleanup removed %d terminal orders older than %s", n, retention)
	}
	return n, nil
}

// Recover scans for orders stranded in EXECUTING by a crash. The interrupted
// attempt was already counted when the claim incremented attempt_count, so
// orders with attempts remaining are requeued as PENDING without a second
// increment; exhausted ones move to FAILED. Runs single-threaded before the
// engine starts.
func (m *Manager) Recover(ctx context.Context) (requeued, failed []*Order, err error) {
	stranded, err := m.store.Orders().ListByStatus(ctx, []string{string(StatusExecuting)})
	if err != nil {
		return nil, nil, fmt.Errorf("recovery scan failed: %w", err)
	}
	for i := range stranded {
		o, convErr := fromModel(&stranded[i])
		if convErr != nil {
			logger.Errorf("recovery: order %s unreadable: %v", stranded[i].ID, convErr)
			continue
		}
		if o.AttemptsRemain() {
			updated, terr := m.Transition(ctx, o.ID, StatusPending, TransitionMeta{
				ErrorKind:    "interrupted",
				ErrorMessage: "execution interrupted by restart",
			})
			if terr != nil {
				logger.Errorf("recovery: requeue %s failed: %v", o.ID, terr)
				continue
			}
			requeued = append(requeued, updated)
		} else {
			updated, terr := m.Transition(ctx, o.ID, StatusFailed, TransitionMeta{
				ErrorKind:    "interrupted",
				ErrorMessage: "execution interrupted by restart, attempts exhausted",
			})
			if terr != nil {
				logger.Errorf("recovery: fail %s failed: %v", o.ID, terr)
				continue
			}
			failed = append(failed, updated)
		}
	}
	if len(stranded) > 0 {
		logger.Infof("recovery: %d stranded orders (%d requeued, %d failed)", len(stranded), len(requeued), len(failed))
	}
	return requeued, failed, nil
}

// ListPendingWork returns PENDING and QUEUED orders in arrival order, used by
// the engine to rebuild its queue on startup.
func (m *Manager) ListPendingWork(ctx context.Context) ([]*Order, error) {
	recs, err := m.store.Orders().ListByStatus(ctx, []string{string(StatusPending), string(StatusQueued)})
	if err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(recs))
	for i := range recs {
		o, err := fromModel(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// CountByStatus supports the system status surface.
func (m *Manager) CountByStatus(ctx context.Context, statuses ...Status) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return m.store.Orders().CountByStatus(ctx, names)
}

func validateIntent(intent Intent) error {
	if intent.Action != ActionBuy && intent.Action != ActionSell {
		return &ValidationError{Field: "action", Reason: "must be BUY or SELL"}
	}
	if strings.TrimSpace(intent.Market) == "" {
		return &ValidationError{Field: "market", Reason: "cannot be empty"}
	}
	if !intent.Size.IsPositive() {
		return &ValidationError{Field: "size", Reason: "must be positive"}
	}
	if intent.PriceLimit != nil && !intent.PriceLimit.IsPositive() {
		return &ValidationError{Field: "price_limit", Reason: "must be positive when set"}
	}
	if intent.Confidence < 0 || intent.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be within [0, 1]"}
	}
	return nil
}

func toModel(o *Order, idempotencyKey string) (*model.OrderModel, error) {
	intentJSON, err := json.Marshal(o.Intent)
	if err != nil {
		return nil, fmt.Errorf("encode intent: %w", err)
	}
	rec := &model.OrderModel{
		ID:              o.ID,
		IdempotencyKey:  strings.TrimSpace(idempotencyKey),
		Market:          o.Intent.Market,
		Action:          string(o.Intent.Action),
		Size:            o.Intent.Size.String(),
		Confidence:      o.Intent.Confidence,
		IntentJSON:      intentJSON,
		Status:          string(o.Status),
		AttemptCount:    o.AttemptCount,
		MaxRetries:      o.MaxRetries,
		CancelRequested: o.CancelRequested,
		ExecutionMethod: o.ExecutionMethod,
		ResultReference: o.ResultReference,
		CreatedAtUnix:   o.CreatedAt.Unix(),
		UpdatedAtUnix:   o.UpdatedAt.Unix(),
	}
	if o.Intent.PriceLimit != nil {
		rec.PriceLimit = o.Intent.PriceLimit.String()
	}
	if o.LastError != nil {
		rec.LastErrorKind = o.LastError.Kind
		rec.LastErrorMsg = o.LastError.Message
	}
	return rec, nil
}

func fromModel(rec *model.OrderModel) (*Order, error) {
	var intent Intent
	if len(rec.IntentJSON) > 0 {
		if err := json.Unmarshal(rec.IntentJSON, &intent); err != nil {
			return nil, fmt.Errorf("decode intent for order %s: %w", rec.ID, err)
		}
	} else {
		size, err := decimal.NewFromString(rec.Size)
		if err != nil {
			size = decimal.Zero
		}
		intent = Intent{
			Action:     Action(rec.Action),
			Market:     rec.Market,
			Size:       size,
			Confidence: rec.Confidence,
		}
	}
	o := &Order{
		ID:              rec.ID,
		Intent:          intent,
		Status:          Status(rec.Status),
		AttemptCount:    rec.AttemptCount,
		MaxRetries:      rec.MaxRetries,
		CancelRequested: rec.CancelRequested,
		ExecutionMethod: rec.ExecutionMethod,
		ResultReference: rec.ResultReference,
		CreatedAt:       time.Unix(rec.CreatedAtUnix, 0),
		UpdatedAt:       time.Unix(rec.UpdatedAtUnix, 0),
	}
	if rec.LastErrorKind != "" {
		o.LastError = &ErrorInfo{Kind: rec.LastErrorKind, Message: rec.LastErrorMsg}
	}
	return o, nil
}
