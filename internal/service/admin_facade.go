package service

import (
	"context"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransactionListParams filters the paginated transaction listing exposed
// to the admin surface.
type TransactionListParams struct {
	Status *domain.TransactionStatus
	Limit  int
	Offset int
}

// AdminMetrics summarizes system state for the operator dashboard.
type AdminMetrics struct {
	NonTerminalCount  int
	UnreconciledCount int
}

// AdminFacade is the single entry point the HTTP admin surface calls
// through, composing the already-wired transaction, subscription,
// delivery, and monitor services rather than touching repositories
// directly. Grounded on the teacher's reporting_service.go, which plays
// the same "compose, translate errors, never own state" role over
// txRepo/walletRepo.
type AdminFacade struct {
	txRepo      ports.TransactionRepository
	historyRepo ports.HistoryRepository
	deliveries  ports.DeliveryRepository

	transactions *TransactionServiceImpl
	subscriptions *SubscriptionService
	delivery      *DeliveryService
	monitor       *MonitorService

	log zerolog.Logger
}

// NewAdminFacade creates an AdminFacade.
func NewAdminFacade(
	txRepo ports.TransactionRepository,
	historyRepo ports.HistoryRepository,
	deliveries ports.DeliveryRepository,
	transactions *TransactionServiceImpl,
	subscriptions *SubscriptionService,
	delivery *DeliveryService,
	monitor *MonitorService,
	log zerolog.Logger,
) *AdminFacade {
	return &AdminFacade{
		txRepo:        txRepo,
		historyRepo:   historyRepo,
		deliveries:    deliveries,
		transactions:  transactions,
		subscriptions: subscriptions,
		delivery:      delivery,
		monitor:       monitor,
		log:           log,
	}
}

// SubmitTransaction accepts a new (or idempotently-repeated) transaction
// submission.
func (f *AdminFacade) SubmitTransaction(ctx context.Context, id uuid.UUID, originSystem string, payload map[string]any) (*domain.Transaction, error) {
	return f.transactions.Process(ctx, id, originSystem, payload, false)
}

// GetTransaction fetches a single transaction by id.
func (f *AdminFacade) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := f.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// ListTransactions returns a bounded, optionally status-filtered page of
// transactions. Without a status filter this composes ListNonTerminal,
// since the repository exposes no unfiltered paginated scan and the
// admin surface has no legitimate reason to page through completed rows
// wholesale. params.Offset is not applied: every call returns the first
// Limit matching rows.
func (f *AdminFacade) ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Status == nil {
		txns, err := f.txRepo.ListNonTerminal(ctx, params.Limit)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		return txns, nil
	}
	txns, err := f.txRepo.ListByStatus(ctx, *params.Status, time.Now(), params.Limit)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return txns, nil
}

// GetTransactionHistory returns the ordered audit trail for a transaction.
func (f *AdminFacade) GetTransactionHistory(ctx context.Context, id uuid.UUID) ([]domain.TransactionHistory, error) {
	history, err := f.historyRepo.ListByTransaction(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return history, nil
}

// UpdateTransactionStatus applies an operator-driven status transition.
func (f *AdminFacade) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, newStatus domain.TransactionStatus, reason, actor string) (*domain.Transaction, error) {
	return f.transactions.UpdateStatus(ctx, id, newStatus, reason, actor)
}

// RetryTransaction re-drives a failed or timed-out transaction through
// its processing pipeline.
func (f *AdminFacade) RetryTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return f.transactions.Retry(ctx, id)
}

// ResolveTransaction records a manual operator resolution outside the
// normal state machine, per spec's ManuallyHandle escape hatch.
func (f *AdminFacade) ResolveTransaction(ctx context.Context, id uuid.UUID, targetStatus domain.TransactionStatus, notes, adminUser string) (*domain.Transaction, error) {
	return f.transactions.ManuallyHandle(ctx, id, targetStatus, notes, adminUser)
}

// RegisterSubscription onboards a new webhook subscriber.
func (f *AdminFacade) RegisterSubscription(ctx context.Context, req SubscriptionRegistration) (*domain.WebhookSubscription, error) {
	return f.subscriptions.Register(ctx, req)
}

// UpdateSubscription applies a partial update to an existing subscriber.
func (f *AdminFacade) UpdateSubscription(ctx context.Context, id uuid.UUID, req SubscriptionUpdate) (*domain.WebhookSubscription, error) {
	return f.subscriptions.Update(ctx, id, req)
}

// DeleteSubscription removes a webhook subscriber.
func (f *AdminFacade) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	return f.subscriptions.Delete(ctx, id)
}

// GetSubscription fetches a single webhook subscriber.
func (f *AdminFacade) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	return f.subscriptions.Get(ctx, id)
}

// ListSubscriptions returns a page of webhook subscribers.
func (f *AdminFacade) ListSubscriptions(ctx context.Context, limit, offset int) ([]domain.WebhookSubscription, error) {
	return f.subscriptions.List(ctx, limit, offset)
}

// ListDeliveries returns a page of deliveries for a subscription.
func (f *AdminFacade) ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]domain.WebhookDelivery, error) {
	deliveries, err := f.deliveries.ListBySubscription(ctx, subscriptionID, limit, offset)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return deliveries, nil
}

// GetDelivery fetches a single delivery attempt by id.
func (f *AdminFacade) GetDelivery(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	d, err := f.deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if d == nil {
		return nil, apperror.ErrNotFound("delivery")
	}
	return d, nil
}

// RetryDelivery forces an immediate redrive of a delivery that is not
// already terminal, bypassing the scheduled backoff.
func (f *AdminFacade) RetryDelivery(ctx context.Context, id uuid.UUID) error {
	d, err := f.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == domain.DeliveryPermanentlyFailed || d.Status == domain.DeliveryCanceled {
		return apperror.ErrDeliveryPermanentlyFailed()
	}
	return f.delivery.RequeueDelivery(ctx, d)
}

// SendTestDelivery dispatches a Test-typed delivery to the named
// subscription so an operator can verify its signing secret and callback
// respond correctly before relying on it for real events.
func (f *AdminFacade) SendTestDelivery(ctx context.Context, subscriptionID uuid.UUID) (*domain.WebhookDelivery, error) {
	sub, err := f.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	d, err := f.delivery.SendTestDelivery(ctx, sub)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return d, nil
}

// TriggerReconciliation runs a monitor sweep on demand, outside its
// regular schedule.
func (f *AdminFacade) TriggerReconciliation(ctx context.Context) (ReconciliationSummary, error) {
	return f.monitor.ReconciliationPass(ctx)
}

// GetMetrics assembles the operator dashboard snapshot.
func (f *AdminFacade) GetMetrics(ctx context.Context) (AdminMetrics, error) {
	nonTerminal, err := f.txRepo.ListNonTerminal(ctx, 10000)
	if err != nil {
		return AdminMetrics{}, apperror.InternalError(err)
	}
	unreconciled, err := f.txRepo.ListUnreconciled(ctx, 10000)
	if err != nil {
		return AdminMetrics{}, apperror.InternalError(err)
	}
	return AdminMetrics{
		NonTerminalCount:  len(nonTerminal),
		UnreconciledCount: len(unreconciled),
	}, nil
}
