package ports

import (
	"context"
	"time"

	"txrelay/internal/core/domain"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers and short codes. Injected rather than
// called as a package-level function so tests can substitute deterministic
// ids.
type IDGenerator interface {
	NewUUID() uuid.UUID
	NewNonce() string
}

// SignatureService handles HMAC signing and verification of webhook
// payloads.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildTimestampHeader(t time.Time, nonce string) string
}

// SecretHasher hashes and verifies webhook subscription secrets at rest.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// AdminTokenVerifier verifies bearer tokens presented by the external
// admin surface. This repo only verifies — token issuance belongs to
// whatever system owns operator authentication.
type AdminTokenVerifier interface {
	Validate(tokenString string) (*AdminClaims, error)
}

// AdminClaims holds the parsed identity of an authenticated operator.
type AdminClaims struct {
	Subject string
	Roles   []string
}

// IdempotencyResolver compares an incoming request against an existing
// transaction with the same id and classifies the outcome.
type IdempotencyResolver interface {
	Classify(existing *domain.Transaction, incomingOriginSystem string, incomingPayload map[string]any) IdempotencyVerdict
}

// IdempotencyVerdict is the outcome of an idempotency classification.
type IdempotencyVerdict string

const (
	VerdictSame     IdempotencyVerdict = "same"
	VerdictConflict IdempotencyVerdict = "conflict"
	VerdictNew      IdempotencyVerdict = "new"
)

// AlertChannel delivers operator notifications. Send may block until the
// notification is delivered and returns any delivery failure to its
// caller; service.AlertDispatcher wraps a channel to send in the background
// and log failures instead.
type AlertChannel interface {
	Send(ctx context.Context, subject, message string) error
}

// TransactionService is the lifecycle API consumed by the admin facade and
// by the event-pipeline consumer that turns submissions into rows.
type TransactionService interface {
	Process(ctx context.Context, id uuid.UUID, originSystem string, payload map[string]any, retry bool) (*domain.Transaction, error)
	Retry(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Recover(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus domain.TransactionStatus, reason, actor string) (*domain.Transaction, error)
	Complete(ctx context.Context, id uuid.UUID, response map[string]any, actor string) (*domain.Transaction, error)
	Fail(ctx context.Context, id uuid.UUID, errorDetails map[string]any, reason, actor string) (*domain.Transaction, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ManuallyHandle(ctx context.Context, id uuid.UUID, targetStatus domain.TransactionStatus, notes, adminUser string) (*domain.Transaction, error)
}
