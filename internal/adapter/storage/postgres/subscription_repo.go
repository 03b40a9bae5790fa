package postgres

import (
	"context"
	"errors"
	"fmt"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo implements ports.SubscriptionRepository, grounded on the
// teacher's MerchantRepo CRUD shape.
type SubscriptionRepo struct {
	pool Pool
}

func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, origin_system, callback_url, events, secret_hash, is_active,
	max_retries, description, contact_email, created_at, updated_at,
	last_success_at, last_failure_at, success_count, failure_count, version`

func (r *SubscriptionRepo) Create(ctx context.Context, s *domain.WebhookSubscription) error {
	query := `INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.OriginSystem, s.CallbackURL, eventsToSlice(s.Events), s.SecretHash, s.IsActive,
		s.MaxRetries, s.Description, s.ContactEmail, s.CreatedAt, s.UpdatedAt,
		s.LastSuccessAt, s.LastFailureAt, s.SuccessCount, s.FailureCount, s.Version,
	)
	if err != nil {
		return fmt.Errorf("insert webhook subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *SubscriptionRepo) GetByOriginAndURL(ctx context.Context, originSystem, callbackURL string) (*domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE origin_system = $1 AND callback_url = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, originSystem, callbackURL))
}

func (r *SubscriptionRepo) Update(ctx context.Context, s *domain.WebhookSubscription) error {
	query := `UPDATE webhook_subscriptions SET callback_url=$1, events=$2, secret_hash=$3, is_active=$4,
		max_retries=$5, description=$6, contact_email=$7, updated_at=$8,
		last_success_at=$9, last_failure_at=$10, success_count=$11, failure_count=$12, version=version+1
		WHERE id=$13 AND version=$14`

	tag, err := r.pool.Exec(ctx, query,
		s.CallbackURL, eventsToSlice(s.Events), s.SecretHash, s.IsActive,
		s.MaxRetries, s.Description, s.ContactEmail, s.UpdatedAt,
		s.LastSuccessAt, s.LastFailureAt, s.SuccessCount, s.FailureCount,
		s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("update webhook subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: stale version or not found", s.ID)
	}
	s.Version++
	return nil
}

func (r *SubscriptionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: not found", id)
	}
	return nil
}

// ListActiveByEventType returns active subscriptions for an origin system
// that match eventType, the set the delivery engine fans an event out to.
func (r *SubscriptionRepo) ListActiveByEventType(ctx context.Context, originSystem string, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE origin_system = $1 AND is_active = true AND $2 = ANY(events)`
	rows, err := r.pool.Query(ctx, query, originSystem, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions by event type: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *SubscriptionRepo) List(ctx context.Context, limit, offset int) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *SubscriptionRepo) scanOne(row pgx.Row) (*domain.WebhookSubscription, error) {
	s := &domain.WebhookSubscription{}
	var events []string
	err := row.Scan(
		&s.ID, &s.OriginSystem, &s.CallbackURL, &events, &s.SecretHash, &s.IsActive,
		&s.MaxRetries, &s.Description, &s.ContactEmail, &s.CreatedAt, &s.UpdatedAt,
		&s.LastSuccessAt, &s.LastFailureAt, &s.SuccessCount, &s.FailureCount, &s.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook subscription: %w", err)
	}
	s.Events = sliceToEvents(events)
	return s, nil
}

func (r *SubscriptionRepo) scanAll(rows pgx.Rows) ([]domain.WebhookSubscription, error) {
	var out []domain.WebhookSubscription
	for rows.Next() {
		var s domain.WebhookSubscription
		var events []string
		if err := rows.Scan(
			&s.ID, &s.OriginSystem, &s.CallbackURL, &events, &s.SecretHash, &s.IsActive,
			&s.MaxRetries, &s.Description, &s.ContactEmail, &s.CreatedAt, &s.UpdatedAt,
			&s.LastSuccessAt, &s.LastFailureAt, &s.SuccessCount, &s.FailureCount, &s.Version,
		); err != nil {
			return nil, fmt.Errorf("scan webhook subscription row: %w", err)
		}
		s.Events = sliceToEvents(events)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook subscription rows: %w", err)
	}
	return out, nil
}

func eventsToSlice(events map[domain.EventType]bool) []string {
	out := make([]string, 0, len(events))
	for e, on := range events {
		if on {
			out = append(out, string(e))
		}
	}
	return out
}

func sliceToEvents(events []string) map[domain.EventType]bool {
	out := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		out[domain.EventType(e)] = true
	}
	return out
}
