package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"
	"txrelay/pkg/clock"

	"github.com/rs/zerolog"
)

// anomalyDetector is an independent predicate over a transaction and its
// history. Detectors never mutate state; they only report a match.
type anomalyDetector struct {
	name  string
	check func(t *domain.Transaction, history []domain.TransactionHistory, now time.Time, cfg AnomalyThresholds) bool
}

// AnomalyThresholds bundles the configured anomaly-detection cutoffs so
// detectors stay pure functions rather than closing over config directly.
type AnomalyThresholds struct {
	PendingThreshold    time.Duration
	ProcessingThreshold time.Duration
	RetryThreshold      int
	StateChangeThreshold int
}

var anomalyDetectors = []anomalyDetector{
	{"pending-stale", func(t *domain.Transaction, _ []domain.TransactionHistory, now time.Time, cfg AnomalyThresholds) bool {
		return t.Status == domain.StatusPending && now.Sub(t.CreatedAt) > cfg.PendingThreshold
	}},
	{"processing-idle", func(t *domain.Transaction, _ []domain.TransactionHistory, now time.Time, cfg AnomalyThresholds) bool {
		return t.Status == domain.StatusProcessing && now.Sub(t.UpdatedAt) > cfg.ProcessingThreshold
	}},
	{"attempt-count-high", func(t *domain.Transaction, _ []domain.TransactionHistory, _ time.Time, cfg AnomalyThresholds) bool {
		return !t.Status.IsTerminal() && t.AttemptCount >= cfg.RetryThreshold
	}},
	{"history-length-high", func(_ *domain.Transaction, history []domain.TransactionHistory, _ time.Time, cfg AnomalyThresholds) bool {
		return len(history) >= cfg.StateChangeThreshold
	}},
	{"oscillation", func(_ *domain.Transaction, history []domain.TransactionHistory, _ time.Time, _ AnomalyThresholds) bool {
		counts := map[string]int{}
		for _, h := range history {
			if h.PreviousStatus == nil {
				continue
			}
			key := string(*h.PreviousStatus) + "->" + string(h.NewStatus)
			counts[key]++
			if counts[key] > 2 {
				return true
			}
		}
		return false
	}},
	{"terminal-missing-payload", func(t *domain.Transaction, _ []domain.TransactionHistory, _ time.Time, _ AnomalyThresholds) bool {
		if t.Status == domain.StatusCompleted && len(t.Response) == 0 {
			return true
		}
		if t.Status == domain.StatusFailed && len(t.ErrorDetails) == 0 {
			return true
		}
		return false
	}},
	{"unreconciled-problematic", func(t *domain.Transaction, _ []domain.TransactionHistory, _ time.Time, _ AnomalyThresholds) bool {
		return t.Status.IsProblematic() && !t.IsReconciled
	}},
}

// AnomalyHit is a transaction flagged by one or more detectors.
type AnomalyHit struct {
	Transaction     domain.Transaction
	DetectorsHit    []string
}

// ReconciliationSummary is the outcome of a full non-terminal-rows sweep.
type ReconciliationSummary struct {
	Processed                 int
	Reconciled                int
	ManualInterventionRequired int
}

// MonitorService runs the periodic sweep described in the component design:
// timeout transitions, reconciliation of problematic rows, eligible
// retries, and anomaly detection. Anomaly alerts go straight to the
// AlertChannel passed to NewMonitorService, sent synchronously on the
// sweep goroutine; they do not pass through AlertDispatcher. Grounded
// on the teacher's polling worker idea, generalized via BaseWorker's
// ticker/single-flight shape (itself adapted from overtonx-outbox's
// dispatcher).
type MonitorService struct {
	txRepo      ports.TransactionRepository
	historyRepo ports.HistoryRepository
	txService   ports.TransactionService
	stateMgr    *StateManager
	alerts      ports.AlertChannel
	clock       clock.Clock
	thresholds  AnomalyThresholds
	maxAutoRetryAttempts int
	sweepLimit  int
	log         zerolog.Logger

	worker *BaseWorker
}

// NewMonitorService wires a MonitorService and its BaseWorker sweep loop.
func NewMonitorService(
	txRepo ports.TransactionRepository,
	historyRepo ports.HistoryRepository,
	txService ports.TransactionService,
	stateMgr *StateManager,
	alerts ports.AlertChannel,
	c clock.Clock,
	thresholds AnomalyThresholds,
	maxAutoRetryAttempts int,
	sweepLimit int,
	interval time.Duration,
	log zerolog.Logger,
) *MonitorService {
	m := &MonitorService{
		txRepo:               txRepo,
		historyRepo:          historyRepo,
		txService:            txService,
		stateMgr:             stateMgr,
		alerts:               alerts,
		clock:                c,
		thresholds:           thresholds,
		maxAutoRetryAttempts: maxAutoRetryAttempts,
		sweepLimit:           sweepLimit,
		log:                  log,
	}
	m.worker = NewBaseWorker("monitor", interval, log, func(ctx context.Context) error {
		_, err := m.ReconciliationPass(ctx)
		return err
	})
	return m
}

// Start runs the sweep loop until ctx is canceled.
func (m *MonitorService) Start(ctx context.Context) {
	m.worker.Start(ctx)
}

// Stop signals the sweep loop to exit and waits for any in-flight pass.
func (m *MonitorService) Stop() {
	m.worker.Stop()
}

// ReconciliationPass performs the full scan over non-terminal rows named
// in the component design: timeout transitions, reconciliation,
// retry-eligible bumps, and anomaly detection.
func (m *MonitorService) ReconciliationPass(ctx context.Context) (ReconciliationSummary, error) {
	summary := ReconciliationSummary{}

	rows, err := m.txRepo.ListNonTerminal(ctx, m.sweepLimit)
	if err != nil {
		return summary, fmt.Errorf("list non-terminal transactions: %w", err)
	}

	var hits []AnomalyHit
	now := m.clock.Now()

	for i := range rows {
		txn := rows[i]
		summary.Processed++

		history, err := m.historyRepo.ListByTransaction(ctx, txn.ID)
		if err != nil {
			m.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("list history failed during sweep")
			continue
		}

		if m.stateMgr.IsTimedOut(&txn) {
			m.handleTimeout(ctx, &txn)
		} else if m.stateMgr.IsRetryEligible(&txn) {
			if _, err := m.txService.Retry(ctx, txn.ID); err != nil {
				m.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("automatic retry failed")
			}
		}

		if txn.Status.IsProblematic() && !txn.IsReconciled {
			if _, err := m.txService.Reconcile(ctx, txn.ID); err != nil {
				m.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("reconciliation failed")
				summary.ManualInterventionRequired++
			} else {
				summary.Reconciled++
			}
		}

		if detected := m.detect(&txn, history, now); len(detected) > 0 {
			hits = append(hits, AnomalyHit{Transaction: txn, DetectorsHit: detected})
		}
	}

	m.routeAnomalies(ctx, hits)
	return summary, nil
}

func (m *MonitorService) handleTimeout(ctx context.Context, txn *domain.Transaction) {
	if txn.Status == domain.StatusProcessing {
		history, err := m.historyRepo.ListByTransaction(ctx, txn.ID)
		if err != nil {
			m.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("list history failed resolving processing timeout")
			return
		}
		determined := m.stateMgr.DetermineActualStatus(txn, history)
		if determined != domain.StatusProcessing {
			if _, err := m.txService.UpdateStatus(ctx, txn.ID, determined, "resolved from stalled processing", "SYSTEM_MONITOR"); err != nil {
				m.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("stalled-processing resolution failed")
			}
			return
		}
	}
	if _, err := m.txService.UpdateStatus(ctx, txn.ID, domain.StatusTimeout, "stalled beyond configured timeout", "SYSTEM_MONITOR"); err != nil {
		m.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("timeout transition failed")
	}
}

func (m *MonitorService) detect(t *domain.Transaction, history []domain.TransactionHistory, now time.Time) []string {
	var hit []string
	for _, d := range anomalyDetectors {
		if d.check(t, history, now, m.thresholds) {
			hit = append(hit, d.name)
		}
	}
	return hit
}

// routeAnomalies sorts hits by detector count (descending) then recency of
// last update, and sends each through m.alerts one at a time, logging (not
// returning) any send error.
func (m *MonitorService) routeAnomalies(ctx context.Context, hits []AnomalyHit) {
	if len(hits) == 0 {
		return
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if len(hits[i].DetectorsHit) != len(hits[j].DetectorsHit) {
			return len(hits[i].DetectorsHit) > len(hits[j].DetectorsHit)
		}
		return hits[i].Transaction.UpdatedAt.After(hits[j].Transaction.UpdatedAt)
	})

	for _, hit := range hits {
		subject := fmt.Sprintf("anomaly: transaction %s", hit.Transaction.ID)
		message := fmt.Sprintf("transaction %s (origin %s, status %s) matched detectors: %v",
			hit.Transaction.ID, hit.Transaction.OriginSystem, hit.Transaction.Status, hit.DetectorsHit)
		if err := m.alerts.Send(ctx, subject, message); err != nil {
			m.log.Error().Err(err).Str("transaction_id", hit.Transaction.ID.String()).Msg("anomaly alert dispatch failed")
		}
	}
}
