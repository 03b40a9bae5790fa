package service

import (
	"context"
	"fmt"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/pkg/apperror"
	"txrelay/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransactionServiceImpl implements ports.TransactionService. Each
// mutating operation runs its entity update and history insert inside a
// single pgx.Tx (the teacher's wallet-ledger unit-of-work shape,
// generalized from balance mutation to lifecycle mutation) and publishes
// the resulting EventMessage only after commit succeeds — at-least-once,
// never exactly-once; consumers tolerate redelivery.
type TransactionServiceImpl struct {
	txRepo      ports.TransactionRepository
	historyRepo ports.HistoryRepository
	transactor  ports.DBTransactor
	resolver    ports.IdempotencyResolver
	stateMgr    *StateManager
	bus         ports.EventBus
	clock       clock.Clock
	maxAttempts int
	log         zerolog.Logger
}

func NewTransactionService(
	txRepo ports.TransactionRepository,
	historyRepo ports.HistoryRepository,
	transactor ports.DBTransactor,
	resolver ports.IdempotencyResolver,
	stateMgr *StateManager,
	bus ports.EventBus,
	c clock.Clock,
	maxAttempts int,
	log zerolog.Logger,
) *TransactionServiceImpl {
	return &TransactionServiceImpl{
		txRepo:      txRepo,
		historyRepo: historyRepo,
		transactor:  transactor,
		resolver:    resolver,
		stateMgr:    stateMgr,
		bus:         bus,
		clock:       c,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Process implements the submission algorithm: create on first sight,
// otherwise branch on the existing row's status.
func (s *TransactionServiceImpl) Process(ctx context.Context, id uuid.UUID, originSystem string, payload map[string]any, retry bool) (*domain.Transaction, error) {
	existing, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if existing == nil {
		return s.create(ctx, id, originSystem, payload)
	}

	switch {
	case existing.Status.IsTerminal():
		return existing, nil
	case existing.Status.IsTransient():
		if retry {
			return s.Retry(ctx, id)
		}
		verdict := s.resolver.Classify(existing, originSystem, payload)
		if verdict == ports.VerdictConflict {
			return nil, apperror.ErrIdempotencyConflict(existing.ID.String(), string(existing.Status))
		}
		return existing, nil
	case existing.Status.IsProblematic():
		return s.Recover(ctx, id)
	default:
		return existing, nil
	}
}

func (s *TransactionServiceImpl) create(ctx context.Context, id uuid.UUID, originSystem string, payload map[string]any) (*domain.Transaction, error) {
	now := s.clock.Now()
	txn := &domain.Transaction{
		ID:           id,
		OriginSystem: originSystem,
		Status:       domain.StatusPending,
		Payload:      payload,
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      0,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create transaction: %w", err))
	}
	history := &domain.TransactionHistory{
		TransactionID: txn.ID,
		NewStatus:     domain.StatusPending,
		ChangedAt:     now,
		Reason:        "Transaction created",
		ChangedBy:     "SYSTEM",
		AttemptNumber: 1,
		IsAutomatic:   true,
	}
	if err := s.historyRepo.Append(ctx, dbTx, history); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("append history: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.publishBestEffort(ctx, ports.TopicTransactionEvents, &domain.EventMessage{
		EventID:       uuid.New(),
		EventType:     domain.EventTransactionCreated,
		TransactionID: &txn.ID,
		OriginSystem:  originSystem,
		CurrentStatus: &txn.Status,
		Timestamp:     now,
		Payload:       payload,
	})

	s.log.Info().Str("transaction_id", txn.ID.String()).Str("origin_system", originSystem).Msg("transaction created")
	return txn, nil
}

// Retry increments the attempt count or transitions to Failed once the
// configured max-attempts is reached.
func (s *TransactionServiceImpl) Retry(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if txn.AttemptCount >= s.maxAttempts {
		return s.UpdateStatus(ctx, id, domain.StatusFailed, "max retries reached", "SYSTEM")
	}

	now := s.clock.Now()
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn.AttemptCount++
	txn.LastAttemptAt = &now
	txn.UpdatedAt = now
	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update transaction: %w", err))
	}
	prevStatus := txn.Status
	if err := s.historyRepo.Append(ctx, dbTx, &domain.TransactionHistory{
		TransactionID:  txn.ID,
		PreviousStatus: &prevStatus,
		NewStatus:      txn.Status,
		ChangedAt:      now,
		Reason:         "Retry attempt",
		ChangedBy:      "SYSTEM",
		AttemptNumber:  txn.AttemptCount,
		IsAutomatic:    true,
	}); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("append history: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.publishBestEffort(ctx, ports.TopicTransactionEvents, &domain.EventMessage{
		EventID:       uuid.New(),
		EventType:     domain.EventTransactionRetry,
		TransactionID: &txn.ID,
		OriginSystem:  txn.OriginSystem,
		CurrentStatus: &txn.Status,
		Timestamp:     now,
		Payload:       txn.Payload,
	})

	return txn, nil
}

// Recover resets a Timeout/Inconsistent transaction back to Pending so it
// re-enters the ordinary lifecycle.
func (s *TransactionServiceImpl) Recover(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	now := s.clock.Now()
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	prevStatus := txn.Status
	txn.Status = domain.StatusPending
	txn.AttemptCount++
	txn.UpdatedAt = now
	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update transaction: %w", err))
	}
	if err := s.historyRepo.Append(ctx, dbTx, &domain.TransactionHistory{
		TransactionID:  txn.ID,
		PreviousStatus: &prevStatus,
		NewStatus:      domain.StatusPending,
		ChangedAt:      now,
		Reason:         "Automatic recovery",
		ChangedBy:      "SYSTEM",
		AttemptNumber:  txn.AttemptCount,
		IsAutomatic:    true,
	}); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("append history: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.publishBestEffort(ctx, ports.TopicTransactionEvents, &domain.EventMessage{
		EventID:        uuid.New(),
		EventType:      domain.EventTransactionStatusChanged,
		TransactionID:  &txn.ID,
		OriginSystem:   txn.OriginSystem,
		CurrentStatus:  &txn.Status,
		PreviousStatus: &prevStatus,
		Timestamp:      now,
		Payload:        txn.Payload,
	})

	return txn, nil
}

// UpdateStatus validates the transition, persists it, and emits
// TransactionStatusChanged. A no-op if the status is already newStatus.
func (s *TransactionServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus domain.TransactionStatus, reason, actor string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if txn.Status == newStatus {
		return txn, nil
	}
	if !IsLegalAutomaticTransition(txn.Status, newStatus) {
		return nil, apperror.ErrIllegalTransition(string(txn.Status), string(newStatus))
	}

	return s.applyStatusChange(ctx, txn, newStatus, reason, actor, true)
}

func (s *TransactionServiceImpl) applyStatusChange(ctx context.Context, txn *domain.Transaction, newStatus domain.TransactionStatus, reason, actor string, automatic bool) (*domain.Transaction, error) {
	now := s.clock.Now()
	prevStatus := txn.Status

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn.Status = newStatus
	txn.UpdatedAt = now
	if newStatus.IsTerminal() {
		txn.CompletionAt = &now
	}
	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update transaction: %w", err))
	}
	if err := s.historyRepo.Append(ctx, dbTx, &domain.TransactionHistory{
		TransactionID:  txn.ID,
		PreviousStatus: &prevStatus,
		NewStatus:      newStatus,
		ChangedAt:      now,
		Reason:         reason,
		ChangedBy:      actor,
		AttemptNumber:  txn.AttemptCount,
		IsAutomatic:    automatic,
	}); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("append history: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.publishBestEffort(ctx, ports.TopicTransactionEvents, &domain.EventMessage{
		EventID:        uuid.New(),
		EventType:      eventTypeForStatus(newStatus),
		TransactionID:  &txn.ID,
		OriginSystem:   txn.OriginSystem,
		CurrentStatus:  &txn.Status,
		PreviousStatus: &prevStatus,
		Timestamp:      now,
		Payload:        txn.Payload,
	})

	return txn, nil
}

func eventTypeForStatus(status domain.TransactionStatus) domain.EventType {
	switch status {
	case domain.StatusCompleted:
		return domain.EventTransactionCompleted
	case domain.StatusFailed, domain.StatusPermanentlyFailed:
		return domain.EventTransactionFailed
	case domain.StatusTimeout:
		return domain.EventTransactionTimeout
	default:
		return domain.EventTransactionStatusChanged
	}
}

// Complete sets the response payload and completion time, then transitions
// to Completed.
func (s *TransactionServiceImpl) Complete(ctx context.Context, id uuid.UUID, response map[string]any, actor string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !IsLegalAutomaticTransition(txn.Status, domain.StatusCompleted) {
		return nil, apperror.ErrIllegalTransition(string(txn.Status), string(domain.StatusCompleted))
	}
	txn.Response = response
	return s.applyStatusChange(ctx, txn, domain.StatusCompleted, "Transaction completed", actor, true)
}

// Fail sets the error detail, then transitions to Failed.
func (s *TransactionServiceImpl) Fail(ctx context.Context, id uuid.UUID, errorDetails map[string]any, reason, actor string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !IsLegalAutomaticTransition(txn.Status, domain.StatusFailed) {
		return nil, apperror.ErrIllegalTransition(string(txn.Status), string(domain.StatusFailed))
	}
	txn.ErrorDetails = errorDetails
	return s.applyStatusChange(ctx, txn, domain.StatusFailed, reason, actor, true)
}

// Reconcile asks the state manager for the likely actual status and
// applies it if it differs from the transaction's current status.
func (s *TransactionServiceImpl) Reconcile(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	history, err := s.historyRepo.ListByTransaction(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	determined := s.stateMgr.DetermineActualStatus(txn, history)
	if determined == txn.Status {
		txn.IsReconciled = true
		return txn, s.markReconciled(ctx, txn)
	}

	updated, err := s.applyStatusChange(ctx, txn, determined, "Automatic reconciliation", "SYSTEM_RECONCILIATION", true)
	if err != nil {
		return nil, err
	}
	updated.IsReconciled = true
	if err := s.markReconciled(ctx, updated); err != nil {
		return nil, err
	}

	s.publishBestEffort(ctx, ports.TopicTransactionEvents, &domain.EventMessage{
		EventID:       uuid.New(),
		EventType:     domain.EventTransactionReconciled,
		TransactionID: &updated.ID,
		OriginSystem:  updated.OriginSystem,
		CurrentStatus: &updated.Status,
		Timestamp:     s.clock.Now(),
		Payload:       updated.Payload,
	})

	return updated, nil
}

func (s *TransactionServiceImpl) markReconciled(ctx context.Context, txn *domain.Transaction) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck
	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// ManuallyHandle applies an operator-driven transition, bypassing the
// automatic-transition check, and records the move as non-automatic.
func (s *TransactionServiceImpl) ManuallyHandle(ctx context.Context, id uuid.UUID, targetStatus domain.TransactionStatus, notes, adminUser string) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	txn.Notes = notes

	updated, err := s.applyStatusChange(ctx, txn, targetStatus, "Manual resolution: "+notes, adminUser, false)
	if err != nil {
		return nil, err
	}

	s.publishBestEffort(ctx, ports.TopicTransactionEvents, &domain.EventMessage{
		EventID:       uuid.New(),
		EventType:     domain.EventTransactionManualResolution,
		TransactionID: &updated.ID,
		OriginSystem:  updated.OriginSystem,
		CurrentStatus: &updated.Status,
		Timestamp:     s.clock.Now(),
		Payload:       updated.Payload,
	})

	return updated, nil
}

// publishBestEffort publishes msg, logging but swallowing any transport
// error — event publication happens after commit and is at-least-once,
// never exactly-once, per the unclear transactional-outbox coverage this
// repo resolves in favor of post-commit publish plus idempotent consumers.
func (s *TransactionServiceImpl) publishBestEffort(ctx context.Context, topic string, msg *domain.EventMessage) {
	if err := s.bus.Publish(ctx, topic, msg); err != nil {
		s.log.Error().Err(err).Str("event_type", string(msg.EventType)).Msg("event publish failed")
	}
}
