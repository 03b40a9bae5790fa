package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed enumeration of notifications a subscription can
// filter on.
type EventType string

const (
	EventTransactionCreated             EventType = "TransactionCreated"
	EventTransactionStatusChanged       EventType = "TransactionStatusChanged"
	EventTransactionCompleted           EventType = "TransactionCompleted"
	EventTransactionFailed              EventType = "TransactionFailed"
	EventTransactionTimeout             EventType = "TransactionTimeout"
	EventTransactionRetry               EventType = "TransactionRetry"
	EventTransactionManualResolution    EventType = "TransactionManualResolution"
	EventTransactionReconciled          EventType = "TransactionReconciled"
	EventTransactionInconsistent        EventType = "TransactionInconsistent"
	EventSystemAlert                    EventType = "SystemAlert"
	EventSystemReconciliationStart      EventType = "SystemReconciliationStart"
	EventSystemReconciliationComplete   EventType = "SystemReconciliationComplete"
	EventTest                           EventType = "Test"
)

// ValidEventTypes is the closed set accepted by the subscription registry.
var ValidEventTypes = map[EventType]bool{
	EventTransactionCreated:           true,
	EventTransactionStatusChanged:     true,
	EventTransactionCompleted:         true,
	EventTransactionFailed:            true,
	EventTransactionTimeout:           true,
	EventTransactionRetry:             true,
	EventTransactionManualResolution:  true,
	EventTransactionReconciled:        true,
	EventTransactionInconsistent:      true,
	EventSystemAlert:                  true,
	EventSystemReconciliationStart:    true,
	EventSystemReconciliationComplete: true,
	EventTest:                         true,
}

// WebhookSubscription is a registered callback endpoint plus event filter.
// The Secret field is populated only transiently (at registration, to hand
// the plaintext back once) or during signing; persisted rows carry only
// SecretHash.
type WebhookSubscription struct {
	ID             uuid.UUID
	OriginSystem   string
	CallbackURL    string
	Events         map[EventType]bool
	SecretHash     string
	Secret         string // plaintext, transient — never persisted
	IsActive       bool
	MaxRetries     *int // nil means use the configured default
	Description    string
	ContactEmail   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
	SuccessCount   int64
	FailureCount   int64
	Version        int64
}

// MatchesEvent reports whether this subscription is active and filters in
// the given event type.
func (s *WebhookSubscription) MatchesEvent(t EventType) bool {
	return s.IsActive && s.Events[t]
}
