package ports

import (
	"context"
	"time"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DBTransactor provides database transaction management. Services run a
// unit of work (entity update + history insert) inside a single pgx.Tx.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Update(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error
	ListNonTerminal(ctx context.Context, limit int) ([]domain.Transaction, error)
	ListByStatus(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error)
	ListUnreconciled(ctx context.Context, limit int) ([]domain.Transaction, error)
}

// HistoryRepository defines persistence operations for transaction history.
type HistoryRepository interface {
	Append(ctx context.Context, tx pgx.Tx, h *domain.TransactionHistory) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.TransactionHistory, error)
}

// SubscriptionRepository defines persistence operations for webhook
// subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, s *domain.WebhookSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error)
	GetByOriginAndURL(ctx context.Context, originSystem, callbackURL string) (*domain.WebhookSubscription, error)
	Update(ctx context.Context, s *domain.WebhookSubscription) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListActiveByEventType(ctx context.Context, originSystem string, eventType domain.EventType) ([]domain.WebhookSubscription, error)
	List(ctx context.Context, limit, offset int) ([]domain.WebhookSubscription, error)
}

// DeliveryRepository defines persistence operations for webhook deliveries.
type DeliveryRepository interface {
	// CreateIfAbsent inserts a delivery row idempotently, keyed by the
	// delivery id (which doubles as the producing event's id). Returns
	// false if a row already existed in a non-initial state.
	CreateIfAbsent(ctx context.Context, d *domain.WebhookDelivery) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error)
	Update(ctx context.Context, d *domain.WebhookDelivery) error
	ListDueForRetry(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookDelivery, error)
	ListTerminalOlderThan(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookDelivery, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]domain.WebhookDelivery, error)
	// PurgeTerminalOlderThan deletes terminal deliveries older than
	// olderThan, capped at limit rows, returning the count removed.
	PurgeTerminalOlderThan(ctx context.Context, olderThan time.Time, limit int) (int64, error)
}
