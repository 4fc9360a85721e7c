package backend

import "context"

// SignedPayload is an opaque, already-signed unit of work produced by the
// external transaction builder. More than one transaction with Atomic set
// means the group must land together or not at all.
type SignedPayload struct {
	OrderID      string
	Market       string
	Transactions [][]byte
	Atomic       bool
}

// SubmitReceipt carries the confirmation handle returned by a broadcast.
type SubmitReceipt struct {
	Signature string
}

// Backend is one interchangeable submission channel.
type Backend interface {
	Name() string
	Submit(ctx context.Context, payload SignedPayload) (SubmitReceipt, error)
	Confirm(ctx context.Context, signature string) (ConfirmationStatus, error)
}

// Simulator is implemented by backends that can dry-run a payload before a
// real attempt is spent.
type Simulator interface {
	Simulate(ctx context.Context, payload SignedPayload) error
}

// BundleCapable is implemented by backends that deliver multi-transaction
// groups atomically. Backends without it are skipped for atomic payloads.
type BundleCapable interface {
	SupportsBundles() bool
}

// SupportsAtomic reports whether b can carry the given payload.
func SupportsAtomic(b Backend, payload SignedPayload) bool {
	if !payload.Atomic || len(payload.Transactions) <= 1 {
		return true
	}
	bc, ok := b.(BundleCapable)
	return ok && bc.SupportsBundles()
}
