package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Intent is one trading instruction handed in by the strategy layer.
type Intent struct {
	Action     Action           `json:"action"`
	Market     string           `json:"market"`
	Size       decimal.Decimal  `json:"size"`
	PriceLimit *decimal.Decimal `json:"price_limit,omitempty"`
	Confidence float64          `json:"confidence"`
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusExecuting Status = "EXECUTING"
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusCancelled Status = "CANCELLED"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal reports whether no further transitions may occur. UNKNOWN is
// terminal pending external reconciliation.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled, StatusUnknown:
		return true
	default:
		return false
	}
}

// legalTransitions is the full transition table. EXECUTING -> PENDING covers
// the crash-recovery requeue, QUEUED -> PENDING the backpressure revert, and
// TIMED_OUT -> QUEUED retry.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusExecuting, StatusPending, StatusCancelled},
	StatusExecuting: {StatusSubmitted, StatusFailed, StatusTimedOut, StatusUnknown, StatusQueued, StatusPending, StatusCancelled},
	StatusSubmitted: {StatusConfirmed, StatusFailed, StatusTimedOut, StatusUnknown, StatusCancelled},
	StatusTimedOut:  {StatusQueued, StatusFailed, StatusCancelled},
}

// CanTransition checks the legal-transition table.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ErrorInfo is the user-visible last error on an order.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Order is the tracked unit of work for one trading intent.
type Order struct {
	ID              string     `json:"id"`
	Intent          Intent     `json:"intent"`
	Status          Status     `json:"status"`
	AttemptCount    int        `json:"attempt_count"`
	MaxRetries      int        `json:"max_retries"`
	CancelRequested bool       `json:"cancel_requested"`
	ExecutionMethod string     `json:"execution_method,omitempty"`
	ResultReference string     `json:"result_reference,omitempty"`
	LastError       *ErrorInfo `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AttemptsRemain reports whether another retry may be scheduled. The first
// execution is not a retry, so an order is allowed max_retries+1 attempts in
// total and max_retries = 0 yields exactly one.
func (o *Order) AttemptsRemain() bool {
	return o.AttemptCount <= o.MaxRetries
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intent: %s %s", e.Field, e.Reason)
}

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.ID)
}

type IllegalTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}
