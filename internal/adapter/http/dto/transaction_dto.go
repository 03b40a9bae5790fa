package dto

import "time"

// SubmitTransactionRequest is the admin-surface payload for submitting a
// new (or idempotently repeated) transaction.
type SubmitTransactionRequest struct {
	ID           string         `json:"id" binding:"required,uuid"`
	OriginSystem string         `json:"originSystem" binding:"required"`
	Payload      map[string]any `json:"payload" binding:"required"`
}

// UpdateTransactionStatusRequest drives an operator-initiated status
// transition.
type UpdateTransactionStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
	Actor  string `json:"actor" binding:"required"`
}

// ResolveTransactionRequest records a manual resolution outside the
// regular state machine.
type ResolveTransactionRequest struct {
	TargetStatus string `json:"targetStatus" binding:"required"`
	Notes        string `json:"notes"`
	AdminUser    string `json:"adminUser" binding:"required"`
}

// TransactionResponse is the admin-surface representation of a tracked
// transaction.
type TransactionResponse struct {
	ID            string         `json:"id"`
	OriginSystem  string         `json:"originSystem"`
	Status        string         `json:"status"`
	Payload       map[string]any `json:"payload"`
	Response      map[string]any `json:"response,omitempty"`
	ErrorDetails  map[string]any `json:"errorDetails,omitempty"`
	AttemptCount  int            `json:"attemptCount"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty"`
	CompletionAt  *time.Time     `json:"completionAt,omitempty"`
	IsReconciled  bool           `json:"isReconciled"`
	Notes         string         `json:"notes,omitempty"`
}

// TransactionHistoryEntryResponse is one row of a transaction's audit
// trail.
type TransactionHistoryEntryResponse struct {
	PreviousStatus string    `json:"previousStatus,omitempty"`
	NewStatus      string    `json:"newStatus"`
	ChangedAt      time.Time `json:"changedAt"`
	Reason         string    `json:"reason,omitempty"`
	ChangedBy      string    `json:"changedBy,omitempty"`
	AttemptNumber  int       `json:"attemptNumber"`
	IsAutomatic    bool      `json:"isAutomatic"`
}

// DeliveryResponse is the admin-surface representation of a webhook
// delivery attempt.
type DeliveryResponse struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscriptionId"`
	EventType      string         `json:"eventType"`
	Status         string         `json:"status"`
	AttemptCount   int            `json:"attemptCount"`
	ResponseCode   *int           `json:"responseCode,omitempty"`
	ResponseBody   string         `json:"responseBody,omitempty"`
	ErrorDetails   map[string]any `json:"errorDetails,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	IsAcknowledged bool           `json:"isAcknowledged"`
}

// MetricsResponse is the operator dashboard snapshot.
type MetricsResponse struct {
	NonTerminalCount  int `json:"nonTerminalCount"`
	UnreconciledCount int `json:"unreconciledCount"`
}

// ReconciliationSummaryResponse reports the outcome of a sweep.
type ReconciliationSummaryResponse struct {
	Processed                 int `json:"processed"`
	Reconciled                int `json:"reconciled"`
	ManualInterventionRequired int `json:"manualInterventionRequired"`
}
