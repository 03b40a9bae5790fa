package postgres

import (
	"context"
	"fmt"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// HistoryRepo implements ports.HistoryRepository, grounded on the teacher's
// append-only audit_repo.go shape.
type HistoryRepo struct {
	pool Pool
}

func NewHistoryRepo(pool Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

// Append inserts one history row within the same database transaction as
// the status change it records.
func (r *HistoryRepo) Append(ctx context.Context, tx pgx.Tx, h *domain.TransactionHistory) error {
	query := `INSERT INTO transaction_history
		(transaction_id, previous_status, new_status, changed_at, reason, changed_by, context, attempt_number, is_automatic)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`

	err := tx.QueryRow(ctx, query,
		h.TransactionID, h.PreviousStatus, h.NewStatus, h.ChangedAt,
		h.Reason, h.ChangedBy, h.Context, h.AttemptNumber, h.IsAutomatic,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("insert transaction history: %w", err)
	}
	return nil
}

// ListByTransaction returns a transaction's history ordered oldest-first,
// the shape the reconciliation heuristic consumes.
func (r *HistoryRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.TransactionHistory, error) {
	query := `SELECT id, transaction_id, previous_status, new_status, changed_at, reason, changed_by, context, attempt_number, is_automatic
		FROM transaction_history WHERE transaction_id = $1 ORDER BY changed_at ASC`

	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list transaction history: %w", err)
	}
	defer rows.Close()

	var out []domain.TransactionHistory
	for rows.Next() {
		var h domain.TransactionHistory
		if err := rows.Scan(
			&h.ID, &h.TransactionID, &h.PreviousStatus, &h.NewStatus, &h.ChangedAt,
			&h.Reason, &h.ChangedBy, &h.Context, &h.AttemptNumber, &h.IsAutomatic,
		); err != nil {
			return nil, fmt.Errorf("scan transaction history row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction history rows: %w", err)
	}
	return out, nil
}
