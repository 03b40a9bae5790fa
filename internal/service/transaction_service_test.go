package service

import (
	"context"
	"testing"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/internal/core/ports/mocks"
	"txrelay/pkg/apperror"
	"txrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing, embedding the interface so only
// the two methods the service calls need real bodies.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type txnTestDeps struct {
	svc         *TransactionServiceImpl
	txRepo      *mocks.MockTransactionRepository
	historyRepo *mocks.MockHistoryRepository
	transactor  *mocks.MockDBTransactor
	bus         *mocks.MockEventBus
	ctrl        *gomock.Controller
}

func setupTransactionService(t *testing.T, now time.Time) *txnTestDeps {
	ctrl := gomock.NewController(t)
	d := &txnTestDeps{
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		historyRepo: mocks.NewMockHistoryRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		bus:         mocks.NewMockEventBus(ctrl),
		ctrl:        ctrl,
	}
	resolver := NewFieldIdempotencyResolver(
		[]string{"amount", "accountNumber", "description", "reference"},
		[]string{"timestamp", "clientIp", "deviceId"},
		80,
	)
	stateMgr := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)
	d.svc = NewTransactionService(d.txRepo, d.historyRepo, d.transactor, resolver, stateMgr, d.bus, clock.Fixed{T: now}, 3, zerolog.Nop())
	return d
}

func TestTransactionService_Process_CreatesNewTransaction(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	tx := &mockTx{}
	payload := map[string]any{"amount": 100.0, "reference": "r1"}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.StatusPending, txn.Status)
			assert.Equal(t, 1, txn.AttemptCount)
			return nil
		})
	d.historyRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.bus.EXPECT().Publish(ctx, ports.TopicTransactionEvents, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, msg *domain.EventMessage) error {
			assert.Equal(t, domain.EventTransactionCreated, msg.EventType)
			return nil
		})

	got, err := d.svc.Process(ctx, id, "A", payload, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestTransactionService_Process_TerminalReturnsAsIs(t *testing.T) {
	now := time.Now().UTC()
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	existing := &domain.Transaction{ID: id, OriginSystem: "A", Status: domain.StatusCompleted}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(existing, nil)

	got, err := d.svc.Process(ctx, id, "A", map[string]any{}, false)
	require.NoError(t, err)
	assert.Same(t, existing, got)
}

func TestTransactionService_Process_SamePayload_ReturnsExisting(t *testing.T) {
	now := time.Now().UTC()
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	existing := &domain.Transaction{
		ID: id, OriginSystem: "A", Status: domain.StatusPending,
		Payload: map[string]any{"amount": 100.0, "reference": "r1"},
	}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(existing, nil)

	got, err := d.svc.Process(ctx, id, "A", map[string]any{"amount": 100.0, "reference": "r1"}, false)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
}

func TestTransactionService_Process_ConflictingAmount_ReturnsError(t *testing.T) {
	now := time.Now().UTC()
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	existing := &domain.Transaction{
		ID: id, OriginSystem: "A", Status: domain.StatusPending,
		Payload: map[string]any{"amount": 100.0, "reference": "r1"},
	}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(existing, nil)

	_, err := d.svc.Process(ctx, id, "A", map[string]any{"amount": 200.0, "reference": "r1"}, false)
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "IDEMP_001", appErr.Code)
}

func TestTransactionService_UpdateStatus_IllegalTransition(t *testing.T) {
	now := time.Now().UTC()
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	existing := &domain.Transaction{ID: id, OriginSystem: "A", Status: domain.StatusCompleted}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(existing, nil)

	_, err := d.svc.UpdateStatus(ctx, id, domain.StatusProcessing, "x", "actor")
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "STATE_001", appErr.Code)
}

func TestTransactionService_Complete_SetsResponseAndCompletionTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	tx := &mockTx{}
	existing := &domain.Transaction{ID: id, OriginSystem: "A", Status: domain.StatusProcessing}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(existing, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Update(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.StatusCompleted, txn.Status)
			assert.NotNil(t, txn.CompletionAt)
			return nil
		})
	d.historyRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.bus.EXPECT().Publish(ctx, ports.TopicTransactionEvents, gomock.Any()).Return(nil)

	got, err := d.svc.Complete(ctx, id, map[string]any{"status": "success"}, "SYSTEM")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletionAt)
}

func TestTransactionService_Retry_ExceedsMaxAttempts_TransitionsToFailed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	tx := &mockTx{}
	existing := &domain.Transaction{ID: id, OriginSystem: "A", Status: domain.StatusPending, AttemptCount: 3}

	// Retry calls GetByID once, sees AttemptCount>=max, delegates to
	// UpdateStatus which calls GetByID again.
	d.txRepo.EXPECT().GetByID(ctx, id).Return(existing, nil).Times(2)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)
	d.historyRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.bus.EXPECT().Publish(ctx, ports.TopicTransactionEvents, gomock.Any()).Return(nil)

	got, err := d.svc.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestTransactionService_PublishFailure_DoesNotFailTheCall(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := setupTransactionService(t, now)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()
	tx := &mockTx{}

	d.txRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.historyRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.bus.EXPECT().Publish(ctx, ports.TopicTransactionEvents, gomock.Any()).Return(assertPublishErr)

	got, err := d.svc.Process(ctx, id, "A", map[string]any{}, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

var assertPublishErr = &apperror.AppError{Code: "SYS_002", Message: "event bus unavailable"}
