package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the lifecycle state of a single webhook delivery
// attempt-stream.
type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "Pending"
	DeliveryProcessing      DeliveryStatus = "Processing"
	DeliveryDelivered       DeliveryStatus = "Delivered"
	DeliveryFailed          DeliveryStatus = "Failed"
	DeliveryRetryScheduled  DeliveryStatus = "RetryScheduled"
	DeliveryPermanentlyFailed DeliveryStatus = "PermanentlyFailed"
	DeliveryCanceled        DeliveryStatus = "Canceled"
)

// IsTerminal reports whether the delivery status is absorbing.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryPermanentlyFailed, DeliveryCanceled:
		return true
	default:
		return false
	}
}

// WebhookDelivery is a single attempt-stream for one event to one
// subscriber. The ID doubles as the idempotency key for the consumer that
// expands an event into per-subscription deliveries.
type WebhookDelivery struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	TransactionID  *uuid.UUID
	EventType      EventType
	Status         DeliveryStatus
	Payload        map[string]any
	AttemptCount   int
	LastAttemptAt  *time.Time
	ResponseCode   *int
	ResponseBody   string // bounded excerpt, <= 4000 chars
	ErrorDetails   map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsAcknowledged bool
	AcknowledgedAt *time.Time
	AckStatus      string
	NextRetryAt    *time.Time
}

// ResponseBodyMaxLen bounds the stored excerpt of a subscriber's response.
const ResponseBodyMaxLen = 4000

// TruncateResponseBody clips a response body to the bounded excerpt length.
func TruncateResponseBody(body string) string {
	if len(body) <= ResponseBodyMaxLen {
		return body
	}
	return body[:ResponseBodyMaxLen]
}
