package service

import (
	"testing"

	"txrelay/internal/core/domain"
	"txrelay/internal/core/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newResolver() *FieldIdempotencyResolver {
	return NewFieldIdempotencyResolver(
		[]string{"amount", "accountNumber", "description", "reference"},
		[]string{"timestamp", "clientIp", "deviceId"},
		80,
	)
}

func existingTxn(payload map[string]any) *domain.Transaction {
	return &domain.Transaction{
		ID:           uuid.New(),
		OriginSystem: "A",
		Status:       domain.StatusPending,
		Payload:      payload,
	}
}

func TestClassify_SamePayload_IsSame(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.0, "reference": "r1"})

	verdict := r.Classify(existing, "A", map[string]any{"amount": 100.0, "reference": "r1"})
	assert.Equal(t, ports.VerdictSame, verdict)
}

func TestClassify_CriticalFieldChanged_IsConflict(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.0, "reference": "r1"})

	verdict := r.Classify(existing, "A", map[string]any{"amount": 200.0, "reference": "r1"})
	assert.Equal(t, ports.VerdictConflict, verdict)
}

func TestClassify_OriginSystemDiffers_IsConflict(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.0})

	verdict := r.Classify(existing, "B", map[string]any{"amount": 100.0})
	assert.Equal(t, ports.VerdictConflict, verdict)
}

func TestClassify_IgnoredFieldDiffers_IsSame(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.0, "clientIp": "1.1.1.1"})

	verdict := r.Classify(existing, "A", map[string]any{"amount": 100.0, "clientIp": "9.9.9.9"})
	assert.Equal(t, ports.VerdictSame, verdict)
}

func TestClassify_NumericTolerance(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.00001})

	verdict := r.Classify(existing, "A", map[string]any{"amount": 100.00002})
	assert.Equal(t, ports.VerdictSame, verdict)
}

func TestClassify_NumericBeyondTolerance_IsConflict(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.0})

	verdict := r.Classify(existing, "A", map[string]any{"amount": 100.01})
	assert.Equal(t, ports.VerdictConflict, verdict)
}

func TestClassify_LowSimilarityNonCriticalFields_IsConflict(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{
		"amount":  100.0,
		"extra1":  "a",
		"extra2":  "b",
		"extra3":  "c",
		"extra4":  "d",
	})

	// All non-critical fields differ (new keys added, none matching) —
	// similarity score should fall below the 80% threshold.
	verdict := r.Classify(existing, "A", map[string]any{
		"amount": 100.0,
		"other1": "x",
		"other2": "y",
		"other3": "z",
		"other4": "w",
	})
	assert.Equal(t, ports.VerdictConflict, verdict)
}

func TestClassify_NoRemainingFields_DefaultsToSame(t *testing.T) {
	r := newResolver()
	existing := existingTxn(map[string]any{"amount": 100.0})

	verdict := r.Classify(existing, "A", map[string]any{"amount": 100.0})
	assert.Equal(t, ports.VerdictSame, verdict)
}

func TestClassify_NilExisting_IsNew(t *testing.T) {
	r := newResolver()
	verdict := r.Classify(nil, "A", map[string]any{"amount": 100.0})
	assert.Equal(t, ports.VerdictNew, verdict)
}

func TestClassify_DottedCriticalPath(t *testing.T) {
	r := NewFieldIdempotencyResolver([]string{"billing.amount"}, nil, 80)
	existing := existingTxn(map[string]any{"billing": map[string]any{"amount": 100.0}})

	verdict := r.Classify(existing, "A", map[string]any{"billing": map[string]any{"amount": 200.0}})
	assert.Equal(t, ports.VerdictConflict, verdict)
}
