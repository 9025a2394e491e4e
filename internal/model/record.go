package model

import "time"

// ProcessingStatus is the ledger state of one document.
type ProcessingStatus string

// Ledger statuses. Transitions are monotonic:
// unprocessed -> processing -> complete.
const (
	StatusUnprocessed ProcessingStatus = "unprocessed"
	StatusProcessing  ProcessingStatus = "processing"
	StatusComplete    ProcessingStatus = "complete"
)

// rank orders statuses for the monotonicity check.
func (s ProcessingStatus) rank() int {
	switch s {
	case StatusUnprocessed:
		return 0
	case StatusProcessing:
		return 1
	case StatusComplete:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s ProcessingStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransition reports whether moving from s to next is allowed.
// Re-asserting the current status is permitted; downgrades are not.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// ProcessingRecord is one ledger entry.
type ProcessingRecord struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Status     ProcessingStatus
	DocumentID int
}
