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

// TransactionRepo implements ports.TransactionRepository, grounded on the
// teacher's pool-backed query/scan shape generalized from the wallet-ledger
// schema to the transaction-lifecycle schema.
type TransactionRepo struct {
	pool Pool
}

func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, origin_system, status, payload, response, error_details,
	attempt_count, created_at, updated_at, last_attempt_at, completion_at,
	webhook_url, webhook_security_token, is_reconciled, notes, version`

// Create inserts a new transaction row within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.OriginSystem, t.Status, t.Payload, t.Response, t.ErrorDetails,
		t.AttemptCount, t.CreatedAt, t.UpdatedAt, t.LastAttemptAt, t.CompletionAt,
		t.WebhookURL, t.WebhookSecurityToken, t.IsReconciled, t.Notes, t.Version,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by id.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// Update writes the transaction's mutable fields within a database
// transaction, bumping the optimistic-concurrency version and failing if
// the row's version has moved since it was loaded.
func (r *TransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `UPDATE transactions SET status=$1, payload=$2, response=$3, error_details=$4,
		attempt_count=$5, updated_at=$6, last_attempt_at=$7, completion_at=$8,
		webhook_url=$9, webhook_security_token=$10, is_reconciled=$11, notes=$12, version=version+1
		WHERE id=$13 AND version=$14`

	tag, err := tx.Exec(ctx, query,
		t.Status, t.Payload, t.Response, t.ErrorDetails,
		t.AttemptCount, t.UpdatedAt, t.LastAttemptAt, t.CompletionAt,
		t.WebhookURL, t.WebhookSecurityToken, t.IsReconciled, t.Notes,
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: stale version or not found", t.ID)
	}
	t.Version++
	return nil
}

// ListNonTerminal returns transactions still in Pending/Processing/Timeout,
// used by the monitor's sweep.
func (r *TransactionRepo) ListNonTerminal(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status IN ('Pending','Processing','Timeout','Inconsistent') ORDER BY created_at ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal transactions: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListByStatus returns transactions in a given status older than olderThan,
// used by timeout/hang sweeps.
func (r *TransactionRepo) ListByStatus(ctx context.Context, status domain.TransactionStatus, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions by status: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListUnreconciled returns Inconsistent transactions not yet reconciled.
func (r *TransactionRepo) ListUnreconciled(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'Inconsistent' AND is_reconciled = false ORDER BY updated_at ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled transactions: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *TransactionRepo) scanOne(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.OriginSystem, &t.Status, &t.Payload, &t.Response, &t.ErrorDetails,
		&t.AttemptCount, &t.CreatedAt, &t.UpdatedAt, &t.LastAttemptAt, &t.CompletionAt,
		&t.WebhookURL, &t.WebhookSecurityToken, &t.IsReconciled, &t.Notes, &t.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepo) scanAll(rows pgx.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.OriginSystem, &t.Status, &t.Payload, &t.Response, &t.ErrorDetails,
			&t.AttemptCount, &t.CreatedAt, &t.UpdatedAt, &t.LastAttemptAt, &t.CompletionAt,
			&t.WebhookURL, &t.WebhookSecurityToken, &t.IsReconciled, &t.Notes, &t.Version,
		); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return out, nil
}
