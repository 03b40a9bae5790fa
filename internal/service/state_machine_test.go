package service

import (
	"testing"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsLegalAutomaticTransition(t *testing.T) {
	assert.True(t, IsLegalAutomaticTransition(domain.StatusPending, domain.StatusProcessing))
	assert.True(t, IsLegalAutomaticTransition(domain.StatusPending, domain.StatusTimeout))
	assert.True(t, IsLegalAutomaticTransition(domain.StatusTimeout, domain.StatusPending))
	assert.True(t, IsLegalAutomaticTransition(domain.StatusInconsistent, domain.StatusPermanentlyFailed))
	assert.False(t, IsLegalAutomaticTransition(domain.StatusCompleted, domain.StatusPending))
	assert.False(t, IsLegalAutomaticTransition(domain.StatusFailed, domain.StatusProcessing))
	assert.True(t, IsLegalAutomaticTransition(domain.StatusPending, domain.StatusPending))
}

func TestIsTimedOut_Pending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	txn := &domain.Transaction{
		Status:    domain.StatusPending,
		CreatedAt: now.Add(-10 * time.Minute),
	}
	assert.True(t, IsTimedOut(txn, now, 5*time.Minute, 10*time.Minute))
}

func TestIsTimedOut_Processing_UsesLastAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	lastAttempt := now.Add(-15 * time.Minute)
	txn := &domain.Transaction{
		Status:        domain.StatusProcessing,
		CreatedAt:     now.Add(-2 * time.Hour),
		LastAttemptAt: &lastAttempt,
	}
	assert.True(t, IsTimedOut(txn, now, 5*time.Minute, 10*time.Minute))
}

func TestIsRetryEligible_TerminalNeverEligible(t *testing.T) {
	txn := &domain.Transaction{Status: domain.StatusCompleted, AttemptCount: 1}
	assert.False(t, IsRetryEligible(txn, time.Now(), 3, 5*time.Minute, 10*time.Minute))
}

func TestIsRetryEligible_MaxAttemptsReached(t *testing.T) {
	txn := &domain.Transaction{Status: domain.StatusPending, AttemptCount: 3}
	assert.False(t, IsRetryEligible(txn, time.Now(), 3, 5*time.Minute, 10*time.Minute))
}

func TestIsRetryEligible_Inconsistent_NeverAutomatic(t *testing.T) {
	txn := &domain.Transaction{Status: domain.StatusInconsistent, AttemptCount: 0}
	assert.False(t, IsRetryEligible(txn, time.Now(), 3, 5*time.Minute, 10*time.Minute))
}

func TestIsRetryEligible_Pending_AlwaysEligible(t *testing.T) {
	txn := &domain.Transaction{Status: domain.StatusPending, AttemptCount: 0}
	assert.True(t, IsRetryEligible(txn, time.Now(), 3, 5*time.Minute, 10*time.Minute))
}

func newTestTxn(status domain.TransactionStatus, updatedAt time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Status:    status,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func newTestTxnDiverged(status domain.TransactionStatus, createdAt, updatedAt time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

func TestStateManager_DetermineActualStatus_AlreadyTerminal(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusCompleted, now)
	assert.Equal(t, domain.StatusCompleted, sm.DetermineActualStatus(txn, nil))
}

func TestStateManager_DetermineActualStatus_TimedOut(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusPending, now.Add(-10*time.Minute))
	assert.Equal(t, domain.StatusTimeout, sm.DetermineActualStatus(txn, nil))
}

func TestStateManager_DetermineActualStatus_HistoryCompletedSubstring(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusInconsistent, now)
	history := []domain.TransactionHistory{
		{NewStatus: domain.StatusProcessing, Reason: "downstream reported Completion"},
	}
	assert.Equal(t, domain.StatusCompleted, sm.DetermineActualStatus(txn, history))
}

func TestStateManager_DetermineActualStatus_HistoryFailedSubstring(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusInconsistent, now)
	history := []domain.TransactionHistory{
		{NewStatus: domain.StatusProcessing, Reason: "an error occurred upstream"},
	}
	assert.Equal(t, domain.StatusFailed, sm.DetermineActualStatus(txn, history))
}

func TestStateManager_DetermineActualStatus_Inconsistent_ResponsePresent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusInconsistent, now.Add(-2*time.Minute))
	txn.Response = map[string]any{"status": "ok"}
	assert.Equal(t, domain.StatusCompleted, sm.DetermineActualStatus(txn, nil))
}

func TestStateManager_DetermineActualStatus_Inconsistent_RecentFallsBackPending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusInconsistent, now.Add(-30*time.Second))
	assert.Equal(t, domain.StatusPending, sm.DetermineActualStatus(txn, nil))
}

func TestStateManager_DetermineActualStatus_Inconsistent_OldRemainsInconsistent(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	txn := newTestTxn(domain.StatusInconsistent, now.Add(-40*time.Minute))
	assert.Equal(t, domain.StatusInconsistent, sm.DetermineActualStatus(txn, nil))
}

func TestStateManager_DetermineActualStatus_Inconsistent_UsesCreatedAtNotUpdatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	// CreatedAt is old (>30min ago) but UpdatedAt was just touched; the age
	// heuristic must key off CreatedAt, so this stays Inconsistent rather
	// than falling into the <1min "just transitioned" Pending branch.
	txn := newTestTxnDiverged(domain.StatusInconsistent, now.Add(-40*time.Minute), now.Add(-10*time.Second))
	assert.Equal(t, domain.StatusInconsistent, sm.DetermineActualStatus(txn, nil))
}

func TestStateManager_DetermineActualStatus_Inconsistent_RecentCreatedAtFallsBackPendingDespiteStaleUpdatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	// CreatedAt is recent (<1min ago) but UpdatedAt is stale (>30min ago);
	// the age heuristic must key off CreatedAt, so this resolves to Pending.
	txn := newTestTxnDiverged(domain.StatusInconsistent, now.Add(-30*time.Second), now.Add(-40*time.Minute))
	assert.Equal(t, domain.StatusPending, sm.DetermineActualStatus(txn, nil))
}

func TestIsRetryEligible_Timeout_UsesCreatedAtNotUpdatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)

	// CreatedAt within the 30min stale-timeout window but UpdatedAt stale;
	// eligibility must key off CreatedAt, so this stays eligible.
	fresh := newTestTxnDiverged(domain.StatusTimeout, now.Add(-10*time.Minute), now.Add(-40*time.Minute))
	assert.True(t, IsRetryEligible(fresh, now, 3, 5*time.Minute, 10*time.Minute))

	// CreatedAt beyond the 30min window but UpdatedAt recent; eligibility
	// must key off CreatedAt, so this is no longer eligible.
	stale := newTestTxnDiverged(domain.StatusTimeout, now.Add(-40*time.Minute), now.Add(-10*time.Second))
	assert.False(t, IsRetryEligible(stale, now, 3, 5*time.Minute, 10*time.Minute))
}

func TestStateManager_WithReconciliationRules_Override(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sm := NewStateManager(clock.Fixed{T: now}, 5*time.Minute, 10*time.Minute, 3)

	sm.WithReconciliationRules([]ReconciliationRule{
		func(t *domain.Transaction, _ []domain.TransactionHistory, _ time.Time) (domain.TransactionStatus, bool) {
			return domain.StatusFailed, true
		},
	})

	txn := newTestTxn(domain.StatusPending, now)
	assert.Equal(t, domain.StatusFailed, sm.DetermineActualStatus(txn, nil))
}
