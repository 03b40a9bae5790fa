package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventMessage is the in-flight transport envelope for a state change. It
// is never persisted as an entity in its own right — only as the Payload
// of whatever WebhookDelivery rows it fans out into.
type EventMessage struct {
	EventID          uuid.UUID
	EventType        EventType
	TransactionID    *uuid.UUID
	OriginSystem     string
	CurrentStatus    *TransactionStatus
	PreviousStatus   *TransactionStatus
	Timestamp        time.Time
	Payload          map[string]any
	HighPriority     bool

	// Webhook-delivery variant fields, set only on messages enqueued on
	// the webhook-events topic.
	WebhookID    *uuid.UUID
	AttemptCount int
}

// PartitionKey returns the key used to route this message to a single
// partition, preserving per-subject ordering. Transaction events key by
// transaction id; webhook delivery events key by subscription id.
func (e *EventMessage) PartitionKey() string {
	if e.WebhookID != nil {
		return e.WebhookID.String()
	}
	if e.TransactionID != nil {
		return e.TransactionID.String()
	}
	return e.OriginSystem
}
