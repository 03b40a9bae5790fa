package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports/mocks"
	"txrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeTransactionService is a hand-rolled recording stub, mirroring the
// teacher's mockHTTPClient pattern for ports simpler than a generated mock
// earns its keep for.
type fakeTransactionService struct {
	mu            sync.Mutex
	retryCalls    []uuid.UUID
	reconcileCalls []uuid.UUID
	updateCalls   []struct {
		id     uuid.UUID
		status domain.TransactionStatus
	}
}

func (f *fakeTransactionService) Process(context.Context, uuid.UUID, string, map[string]any, bool) (*domain.Transaction, error) {
	return nil, nil
}

func (f *fakeTransactionService) Retry(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCalls = append(f.retryCalls, id)
	return &domain.Transaction{ID: id}, nil
}

func (f *fakeTransactionService) Recover(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return &domain.Transaction{ID: id}, nil
}

func (f *fakeTransactionService) UpdateStatus(_ context.Context, id uuid.UUID, status domain.TransactionStatus, _, _ string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, struct {
		id     uuid.UUID
		status domain.TransactionStatus
	}{id, status})
	return &domain.Transaction{ID: id, Status: status}, nil
}

func (f *fakeTransactionService) Complete(_ context.Context, id uuid.UUID, _ map[string]any, _ string) (*domain.Transaction, error) {
	return &domain.Transaction{ID: id}, nil
}

func (f *fakeTransactionService) Fail(_ context.Context, id uuid.UUID, _ map[string]any, _, _ string) (*domain.Transaction, error) {
	return &domain.Transaction{ID: id}, nil
}

func (f *fakeTransactionService) Reconcile(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileCalls = append(f.reconcileCalls, id)
	return &domain.Transaction{ID: id, IsReconciled: true}, nil
}

func (f *fakeTransactionService) ManuallyHandle(_ context.Context, id uuid.UUID, status domain.TransactionStatus, _, _ string) (*domain.Transaction, error) {
	return &domain.Transaction{ID: id, Status: status}, nil
}

type fakeAlertChannel struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeAlertChannel) Send(_ context.Context, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func defaultThresholds() AnomalyThresholds {
	return AnomalyThresholds{
		PendingThreshold:     30 * time.Minute,
		ProcessingThreshold:  60 * time.Minute,
		RetryThreshold:       5,
		StateChangeThreshold: 10,
	}
}

func setupMonitorService(t *testing.T, now time.Time) (*MonitorService, *mocks.MockTransactionRepository, *mocks.MockHistoryRepository, *fakeTransactionService, *fakeAlertChannel) {
	ctrl := gomock.NewController(t)
	txRepo := mocks.NewMockTransactionRepository(ctrl)
	historyRepo := mocks.NewMockHistoryRepository(ctrl)
	txSvc := &fakeTransactionService{}
	alerts := &fakeAlertChannel{}
	stateMgr := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	m := NewMonitorService(txRepo, historyRepo, txSvc, stateMgr, alerts, clock.Fixed{T: now}, defaultThresholds(), 3, 100, time.Minute, zerolog.Nop())
	return m, txRepo, historyRepo, txSvc, alerts
}

func TestMonitorService_ReconciliationPass_TimesOutStalePending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, txRepo, historyRepo, txSvc, _ := setupMonitorService(t, now)

	stale := domain.Transaction{
		ID: uuid.New(), OriginSystem: "A", Status: domain.StatusPending,
		CreatedAt: now.Add(-10 * time.Minute), UpdatedAt: now.Add(-10 * time.Minute),
	}
	txRepo.EXPECT().ListNonTerminal(gomock.Any(), 100).Return([]domain.Transaction{stale}, nil)
	historyRepo.EXPECT().ListByTransaction(gomock.Any(), stale.ID).Return(nil, nil)

	summary, err := m.ReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, txSvc.updateCalls, 1)
	assert.Equal(t, domain.StatusTimeout, txSvc.updateCalls[0].status)
}

func TestMonitorService_ReconciliationPass_RetriesEligiblePending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, txRepo, historyRepo, txSvc, _ := setupMonitorService(t, now)

	eligible := domain.Transaction{
		ID: uuid.New(), OriginSystem: "A", Status: domain.StatusPending,
		AttemptCount: 1, CreatedAt: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute),
	}
	txRepo.EXPECT().ListNonTerminal(gomock.Any(), 100).Return([]domain.Transaction{eligible}, nil)
	historyRepo.EXPECT().ListByTransaction(gomock.Any(), eligible.ID).Return(nil, nil)

	_, err := m.ReconciliationPass(context.Background())
	require.NoError(t, err)
	require.Len(t, txSvc.retryCalls, 1)
	assert.Equal(t, eligible.ID, txSvc.retryCalls[0])
}

func TestMonitorService_ReconciliationPass_ReconcilesUnreconciledTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, txRepo, historyRepo, txSvc, _ := setupMonitorService(t, now)

	unreconciled := domain.Transaction{
		ID: uuid.New(), OriginSystem: "A", Status: domain.StatusTimeout,
		AttemptCount: 1, CreatedAt: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute),
		IsReconciled: false,
	}
	txRepo.EXPECT().ListNonTerminal(gomock.Any(), 100).Return([]domain.Transaction{unreconciled}, nil)
	historyRepo.EXPECT().ListByTransaction(gomock.Any(), unreconciled.ID).Return(nil, nil)

	summary, err := m.ReconciliationPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reconciled)
	require.Len(t, txSvc.reconcileCalls, 1)
}

func TestMonitorService_ReconciliationPass_RoutesAnomaliesSortedByHitCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, txRepo, historyRepo, _, alerts := setupMonitorService(t, now)

	single := domain.Transaction{
		ID: uuid.New(), OriginSystem: "A", Status: domain.StatusCompleted,
		CreatedAt: now, UpdatedAt: now, IsReconciled: true,
	} // terminal-missing-payload: Completed with no Response
	multi := domain.Transaction{
		ID: uuid.New(), OriginSystem: "A", Status: domain.StatusPending,
		AttemptCount: 5, CreatedAt: now.Add(-40 * time.Minute), UpdatedAt: now.Add(-40 * time.Minute),
	} // pending-stale AND attempt-count-high

	txRepo.EXPECT().ListNonTerminal(gomock.Any(), 100).Return([]domain.Transaction{single, multi}, nil)
	historyRepo.EXPECT().ListByTransaction(gomock.Any(), single.ID).Return(nil, nil)
	historyRepo.EXPECT().ListByTransaction(gomock.Any(), multi.ID).Return(nil, nil)

	_, err := m.ReconciliationPass(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts.subjects, 2)
	assert.Contains(t, alerts.subjects[0], multi.ID.String())
}

func TestMonitorService_Detect_OscillationRequiresMoreThanTwoRepeats(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, _, _, _, _ := setupMonitorService(t, now)

	pending := domain.StatusPending
	processing := domain.StatusProcessing
	history := []domain.TransactionHistory{
		{PreviousStatus: &pending, NewStatus: processing},
		{PreviousStatus: &pending, NewStatus: processing},
		{PreviousStatus: &pending, NewStatus: processing},
	}
	txn := &domain.Transaction{ID: uuid.New(), Status: domain.StatusProcessing, UpdatedAt: now}

	hits := m.detect(txn, history, now)
	assert.Contains(t, hits, "oscillation")
}
