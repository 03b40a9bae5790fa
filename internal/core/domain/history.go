package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionHistory is an append-only record of a single state transition.
// The sequence of NewStatus values, ordered by ChangedAt, must reproduce
// the transaction's observed status history.
type TransactionHistory struct {
	ID            int64
	TransactionID uuid.UUID
	PreviousStatus *TransactionStatus // nil only for the initial entry
	NewStatus     TransactionStatus
	ChangedAt     time.Time
	Reason        string
	ChangedBy     string
	Context       map[string]any
	AttemptNumber int
	IsAutomatic   bool
}
