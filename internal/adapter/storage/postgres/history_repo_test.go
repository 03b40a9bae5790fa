package postgres

import (
	"context"
	"testing"
	"time"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewHistoryRepo(mock)
	prev := domain.StatusPending
	h := &domain.TransactionHistory{
		TransactionID:   uuid.New(),
		PreviousStatus:  &prev,
		NewStatus:       domain.StatusProcessing,
		ChangedAt:       time.Now().UTC().Truncate(time.Microsecond),
		Reason:          "picked up by worker",
		ChangedBy:       "system",
		AttemptNumber:   1,
		IsAutomatic:     true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO transaction_history").
		WithArgs(h.TransactionID, h.PreviousStatus, h.NewStatus, h.ChangedAt, h.Reason, h.ChangedBy, h.Context, h.AttemptNumber, h.IsAutomatic).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Append(context.Background(), tx, h)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), h.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_ListByTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewHistoryRepo(mock)
	txID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM transaction_history WHERE transaction_id").
		WithArgs(txID).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "transaction_id", "previous_status", "new_status", "changed_at", "reason", "changed_by", "context", "attempt_number", "is_automatic"},
		).AddRow(int64(1), txID, nil, domain.StatusPending, now, "created", "system", nil, 0, true))

	result, err := repo.ListByTransaction(context.Background(), txID)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, domain.StatusPending, result[0].NewStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
