package ports

import (
	"context"

	"txrelay/internal/core/domain"
)

const (
	TopicTransactionEvents = "transaction-events"
	TopicWebhookEvents     = "webhook-events"
)

// EventBus is a partitioned, at-least-once publish/subscribe transport.
// Producers use idempotent send with send-side retry; consumers must
// commit only after the handler returns nil, and redelivery on an
// uncommitted message is expected, not exceptional.
type EventBus interface {
	Publish(ctx context.Context, topic string, msg *domain.EventMessage) error
	// Subscribe registers handler for topic and blocks until ctx is
	// canceled or an unrecoverable transport error occurs. handler
	// returning a non-nil error skips the commit, causing redelivery.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// EventHandler processes one EventMessage. A non-nil return blocks commit
// of that message's offset.
type EventHandler func(ctx context.Context, msg *domain.EventMessage) error
