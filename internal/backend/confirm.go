package backend

// ConfirmationLevel orders confirmation states as a lattice:
// PENDING < SUBMITTED < CONFIRMED < FINALIZED. Polling may observe stale
// data, so callers merge levels and never report a regression.
type ConfirmationLevel int

const (
	ConfirmPending ConfirmationLevel = iota
	ConfirmSubmitted
	ConfirmConfirmed
	ConfirmFinalized
)

func (l ConfirmationLevel) String() string {
	switch l {
	case ConfirmPending:
		return "PENDING"
	case ConfirmSubmitted:
		return "SUBMITTED"
	case ConfirmConfirmed:
		return "CONFIRMED"
	case ConfirmFinalized:
		return "FINALIZED"
	default:
		return "PENDING"
	}
}

// Merge is the lattice join: the more advanced level wins.
func (l ConfirmationLevel) Merge(other ConfirmationLevel) ConfirmationLevel {
	if other > l {
		return other
	}
	return l
}

// Terminal reports whether polling can stop with a positive result.
func (l ConfirmationLevel) Terminal() bool {
	return l >= ConfirmConfirmed
}

// ConfirmationStatus is one poll observation for a submitted signature.
type ConfirmationStatus struct {
	Level    ConfirmationLevel
	Rejected bool
	Reason   string
}
