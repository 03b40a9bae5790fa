package service

import (
	"strings"
	"time"

	"txrelay/internal/core/domain"
	"txrelay/pkg/clock"
)

// legalAutomaticTransitions enumerates the state machine's automatic edges.
// Manual override bypasses this table entirely (see TransactionService.ManuallyHandle).
var legalAutomaticTransitions = map[domain.TransactionStatus]map[domain.TransactionStatus]bool{
	domain.StatusPending: {
		domain.StatusProcessing:   true,
		domain.StatusCompleted:    true,
		domain.StatusFailed:       true,
		domain.StatusTimeout:      true,
		domain.StatusInconsistent: true,
	},
	domain.StatusProcessing: {
		domain.StatusCompleted:    true,
		domain.StatusFailed:       true,
		domain.StatusTimeout:      true,
		domain.StatusInconsistent: true,
	},
	domain.StatusTimeout: {
		domain.StatusPending:           true,
		domain.StatusCompleted:         true,
		domain.StatusFailed:            true,
		domain.StatusInconsistent:      true,
		domain.StatusPermanentlyFailed: true,
	},
	domain.StatusInconsistent: {
		domain.StatusPending:           true,
		domain.StatusCompleted:         true,
		domain.StatusFailed:            true,
		domain.StatusPermanentlyFailed: true,
	},
}

// IsLegalAutomaticTransition reports whether from->to is a permitted
// automatic transition. Terminal states (Completed, Failed,
// PermanentlyFailed) have no outbound automatic edges.
func IsLegalAutomaticTransition(from, to domain.TransactionStatus) bool {
	if from == to {
		return true // UpdateStatus treats unchanged status as a no-op, not illegal
	}
	edges, ok := legalAutomaticTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// ReconciliationRule is one step of the ordered reconciliation heuristic.
// A rule returns (status, true) to stop evaluation at that status, or
// ("", false) to fall through to the next rule.
type ReconciliationRule func(t *domain.Transaction, history []domain.TransactionHistory, now time.Time) (domain.TransactionStatus, bool)

// DefaultReconciliationRules is the ordered rule chain from the
// reconciliation heuristic, exposed as a slice so a caller can splice in
// a stricter rule (e.g. one that drops the substring heuristic) without
// touching StateManager itself.
func DefaultReconciliationRules(pendingTimeout, processingTimeout time.Duration) []ReconciliationRule {
	return []ReconciliationRule{
		ruleAlreadyTerminal,
		ruleTimedOut(pendingTimeout, processingTimeout),
		ruleHistoryOrTextCompleted,
		ruleHistoryOrTextFailed,
		ruleInconsistentHeuristics,
	}
}

func ruleAlreadyTerminal(t *domain.Transaction, _ []domain.TransactionHistory, _ time.Time) (domain.TransactionStatus, bool) {
	if t.Status.IsTerminal() {
		return t.Status, true
	}
	return "", false
}

func ruleTimedOut(pendingTimeout, processingTimeout time.Duration) ReconciliationRule {
	return func(t *domain.Transaction, _ []domain.TransactionHistory, now time.Time) (domain.TransactionStatus, bool) {
		if IsTimedOut(t, now, pendingTimeout, processingTimeout) {
			return domain.StatusTimeout, true
		}
		return "", false
	}
}

func ruleHistoryOrTextCompleted(t *domain.Transaction, history []domain.TransactionHistory, _ time.Time) (domain.TransactionStatus, bool) {
	for _, h := range history {
		if h.NewStatus == domain.StatusCompleted {
			return domain.StatusCompleted, true
		}
		if containsFold(h.Reason, "complet") || containsContextFold(h.Context, "complet") {
			return domain.StatusCompleted, true
		}
	}
	return "", false
}

func ruleHistoryOrTextFailed(t *domain.Transaction, history []domain.TransactionHistory, _ time.Time) (domain.TransactionStatus, bool) {
	for _, h := range history {
		if h.NewStatus == domain.StatusFailed {
			return domain.StatusFailed, true
		}
		if containsFold(h.Reason, "fail") || containsFold(h.Reason, "error") ||
			containsContextFold(h.Context, "fail") || containsContextFold(h.Context, "error") {
			return domain.StatusFailed, true
		}
	}
	return "", false
}

func ruleInconsistentHeuristics(t *domain.Transaction, history []domain.TransactionHistory, now time.Time) (domain.TransactionStatus, bool) {
	if t.Status != domain.StatusInconsistent {
		return "", false
	}
	if len(t.Response) > 0 {
		return domain.StatusCompleted, true
	}
	if len(t.ErrorDetails) > 0 {
		return domain.StatusFailed, true
	}
	if t.AttemptCount >= 3 {
		return domain.StatusFailed, true
	}
	age := now.Sub(t.CreatedAt)
	if age < time.Minute {
		return domain.StatusPending, true
	}
	if age > 30*time.Minute {
		return domain.StatusInconsistent, true
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].NewStatus != domain.StatusInconsistent {
			return history[i].NewStatus, true
		}
	}
	return "", false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

func containsContextFold(ctx map[string]any, substr string) bool {
	for _, v := range ctx {
		if s, ok := v.(string); ok && containsFold(s, substr) {
			return true
		}
	}
	return false
}

// IsTimedOut reports whether a Pending or Processing transaction has
// exceeded its configured dwell threshold.
func IsTimedOut(t *domain.Transaction, now time.Time, pendingTimeout, processingTimeout time.Duration) bool {
	switch t.Status {
	case domain.StatusPending:
		return now.Sub(t.CreatedAt) > pendingTimeout
	case domain.StatusProcessing:
		anchor := t.CreatedAt
		if t.LastAttemptAt != nil && t.LastAttemptAt.After(anchor) {
			anchor = *t.LastAttemptAt
		}
		return now.Sub(anchor) > processingTimeout
	default:
		return false
	}
}

// IsRetryEligible implements the retry-eligibility rules: never for
// terminal statuses, never once attempts reach the configured max,
// Timeout only while still within its own timeout-to-stale window,
// Pending always eligible, Processing only once timed out, Inconsistent
// never automatically.
func IsRetryEligible(t *domain.Transaction, now time.Time, maxAttempts int, pendingTimeout, processingTimeout time.Duration) bool {
	if t.Status.IsTerminal() {
		return false
	}
	if t.AttemptCount >= maxAttempts {
		return false
	}
	switch t.Status {
	case domain.StatusPending:
		return true
	case domain.StatusProcessing:
		return IsTimedOut(t, now, pendingTimeout, processingTimeout)
	case domain.StatusTimeout:
		return now.Sub(t.CreatedAt) < 30*time.Minute
	case domain.StatusInconsistent:
		return false
	default:
		return false
	}
}

// StateManager bundles the reconciliation and timeout logic behind a
// configured clock, matching the teacher's constructor-injection idiom
// rather than reaching for a package-level time.Now().
type StateManager struct {
	clock                      clock.Clock
	pendingTimeout             time.Duration
	processingTimeout          time.Duration
	maxAutoRetryAttempts       int
	reconciliationRules        []ReconciliationRule
}

// NewStateManager creates a StateManager with the default reconciliation
// rule chain.
func NewStateManager(c clock.Clock, pendingTimeout, processingTimeout time.Duration, maxAutoRetryAttempts int) *StateManager {
	return &StateManager{
		clock:                c,
		pendingTimeout:       pendingTimeout,
		processingTimeout:    processingTimeout,
		maxAutoRetryAttempts: maxAutoRetryAttempts,
		reconciliationRules:  DefaultReconciliationRules(pendingTimeout, processingTimeout),
	}
}

// WithReconciliationRules replaces the rule chain, letting a caller
// tighten or loosen the substring-based heuristic without touching the
// rest of the StateManager.
func (m *StateManager) WithReconciliationRules(rules []ReconciliationRule) {
	m.reconciliationRules = rules
}

// DetermineActualStatus runs the reconciliation heuristic over a
// transaction and its history, returning the likely true status.
func (m *StateManager) DetermineActualStatus(t *domain.Transaction, history []domain.TransactionHistory) domain.TransactionStatus {
	now := m.clock.Now()
	for _, rule := range m.reconciliationRules {
		if status, stop := rule(t, history, now); stop {
			return status
		}
	}
	return t.Status
}

// IsTimedOut reports whether t has exceeded its configured dwell
// threshold, using this manager's clock.
func (m *StateManager) IsTimedOut(t *domain.Transaction) bool {
	return IsTimedOut(t, m.clock.Now(), m.pendingTimeout, m.processingTimeout)
}

// IsRetryEligible reports whether t may be automatically retried right
// now, using this manager's clock and configured max-attempts.
func (m *StateManager) IsRetryEligible(t *domain.Transaction) bool {
	return IsRetryEligible(t, m.clock.Now(), m.maxAutoRetryAttempts, m.pendingTimeout, m.processingTimeout)
}
