package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the lifecycle state of a tracked transaction.
type TransactionStatus string

const (
	StatusPending          TransactionStatus = "Pending"
	StatusProcessing       TransactionStatus = "Processing"
	StatusCompleted        TransactionStatus = "Completed"
	StatusFailed           TransactionStatus = "Failed"
	StatusTimeout          TransactionStatus = "Timeout"
	StatusInconsistent     TransactionStatus = "Inconsistent"
	StatusPermanentlyFailed TransactionStatus = "PermanentlyFailed"
)

// IsTerminal reports whether no automatic transition can leave this status.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPermanentlyFailed:
		return true
	default:
		return false
	}
}

// IsTransient reports whether the status represents work still in flight.
func (s TransactionStatus) IsTransient() bool {
	return s == StatusPending || s == StatusProcessing
}

// IsProblematic reports whether the status requires reconciliation.
func (s TransactionStatus) IsProblematic() bool {
	return s == StatusTimeout || s == StatusInconsistent
}

// Transaction is the unit of work tracked by the state manager. The id is
// caller-chosen, not generated, so that resubmission of the same id is
// recognizable as a retry rather than a new row.
type Transaction struct {
	ID                   uuid.UUID
	OriginSystem         string
	Status               TransactionStatus
	Payload              map[string]any
	Response             map[string]any
	ErrorDetails         map[string]any
	AttemptCount         int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LastAttemptAt        *time.Time
	CompletionAt         *time.Time
	WebhookURL           string
	WebhookSecurityToken string
	IsReconciled         bool
	Notes                string
	Version              int64
}

// HasWebhook reports whether the transaction carries an inline webhook
// target distinct from subscription-based routing.
func (t *Transaction) HasWebhook() bool {
	return t.WebhookURL != ""
}
