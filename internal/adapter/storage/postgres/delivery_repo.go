package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeliveryRepo implements ports.DeliveryRepository, grounded on the
// teacher's webhookRepo (webhook_repo.go) query/scan shape generalized to
// the subscription-fan-out delivery schema.
type DeliveryRepo struct {
	pool Pool
}

func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

const deliveryColumns = `id, subscription_id, transaction_id, event_type, status, payload,
	attempt_count, last_attempt_at, response_code, response_body, error_details,
	created_at, updated_at, is_acknowledged, acknowledged_at, ack_status, next_retry_at`

// CreateIfAbsent inserts a delivery row keyed by id, tolerating the
// redelivery of the same event-bus message per spec.md §4.5's duplicate
// handling clause.
func (r *DeliveryRepo) CreateIfAbsent(ctx context.Context, d *domain.WebhookDelivery) (bool, error) {
	query := `INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		d.ID, d.SubscriptionID, d.TransactionID, d.EventType, d.Status, d.Payload,
		d.AttemptCount, d.LastAttemptAt, d.ResponseCode, d.ResponseBody, d.ErrorDetails,
		d.CreatedAt, d.UpdatedAt, d.IsAcknowledged, d.AcknowledgedAt, d.AckStatus, d.NextRetryAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *DeliveryRepo) Update(ctx context.Context, d *domain.WebhookDelivery) error {
	query := `UPDATE webhook_deliveries SET status=$1, attempt_count=$2, last_attempt_at=$3,
		response_code=$4, response_body=$5, error_details=$6, updated_at=$7,
		is_acknowledged=$8, acknowledged_at=$9, ack_status=$10, next_retry_at=$11
		WHERE id=$12`

	tag, err := r.pool.Exec(ctx, query,
		d.Status, d.AttemptCount, d.LastAttemptAt,
		d.ResponseCode, d.ResponseBody, d.ErrorDetails, d.UpdatedAt,
		d.IsAcknowledged, d.AcknowledgedAt, d.AckStatus, d.NextRetryAt,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook delivery %s: not found", d.ID)
	}
	return nil
}

// ListDueForRetry returns deliveries scheduled for retry at or before
// `before`, the set the retry scheduler's sweep claims.
func (r *DeliveryRepo) ListDueForRetry(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status = 'RetryScheduled' AND next_retry_at <= $1 ORDER BY next_retry_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries due for retry: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListStaleProcessing returns deliveries stuck in Processing past
// olderThan, a crash-recovery sweep.
func (r *DeliveryRepo) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status = 'Processing' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale processing deliveries: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListTerminalOlderThan returns terminal deliveries older than olderThan,
// the cleanup sweep's purge candidates.
func (r *DeliveryRepo) ListTerminalOlderThan(ctx context.Context, olderThan time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status IN ('Delivered','PermanentlyFailed','Canceled') AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list terminal deliveries: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// PurgeTerminalOlderThan deletes terminal deliveries older than olderThan,
// the cleanup sweep's actual removal step following ListTerminalOlderThan.
func (r *DeliveryRepo) PurgeTerminalOlderThan(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	query := `DELETE FROM webhook_deliveries WHERE id IN (
		SELECT id FROM webhook_deliveries
		WHERE status IN ('Delivered','PermanentlyFailed','Canceled') AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2
	)`
	tag, err := r.pool.Exec(ctx, query, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("purge terminal deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *DeliveryRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, subscriptionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list deliveries by subscription: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *DeliveryRepo) scanOne(row pgx.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.SubscriptionID, &d.TransactionID, &d.EventType, &d.Status, &d.Payload,
		&d.AttemptCount, &d.LastAttemptAt, &d.ResponseCode, &d.ResponseBody, &d.ErrorDetails,
		&d.CreatedAt, &d.UpdatedAt, &d.IsAcknowledged, &d.AcknowledgedAt, &d.AckStatus, &d.NextRetryAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook delivery: %w", err)
	}
	return d, nil
}

func (r *DeliveryRepo) scanAll(rows pgx.Rows) ([]domain.WebhookDelivery, error) {
	var out []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		if err := rows.Scan(
			&d.ID, &d.SubscriptionID, &d.TransactionID, &d.EventType, &d.Status, &d.Payload,
			&d.AttemptCount, &d.LastAttemptAt, &d.ResponseCode, &d.ResponseBody, &d.ErrorDetails,
			&d.CreatedAt, &d.UpdatedAt, &d.IsAcknowledged, &d.AcknowledgedAt, &d.AckStatus, &d.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook delivery row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook delivery rows: %w", err)
	}
	return out, nil
}
