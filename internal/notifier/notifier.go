package notifier

import (
	"time"

	"txpilot/internal/logger"
)

type EventType string

const (
	EvtOrderSubmitted EventType = "order_submitted"
	EvtOrderConfirmed EventType = "order_confirmed"
	EvtOrderFailed    EventType = "order_failed"
	EvtOrderUnknown   EventType = "order_unknown"
)

// Event is one order lifecycle notification for external delivery.
type Event struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// EventNotifier is intentionally small so components can depend on it
// without importing concrete implementations.
type EventNotifier interface {
	Notify(evt Event) error
}

// LogNotifier writes events to the application log. It is the default sink
// when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(evt Event) error {
	logger.Infof("event %s: order=%s %s", evt.Type, evt.OrderID, evt.Summary)
	return nil
}

// Multi fans one event out to several sinks; delivery is best-effort and a
// failing sink never blocks the others.
type Multi []EventNotifier

func (m Multi) Notify(evt Event) error {
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(evt); err != nil {
			logger.Warnf("notifier delivery failed: %v", err)
		}
	}
	return nil
}
